package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/G-Research/testdispatch/internal/common"
	"github.com/G-Research/testdispatch/internal/common/dispatcherrors"
	"github.com/G-Research/testdispatch/internal/common/health"
	"github.com/G-Research/testdispatch/internal/worker"
	"github.com/G-Research/testdispatch/internal/worker/configuration"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)",
	)
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.WorkerConfig
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)
	common.LoadConfig(&config, "./config/worker", userSpecifiedConfigs)

	log.WithField("worker", config.WorkerId).Infof("Starting worker, queue server at %s", config.QueueServer.QueueServerUrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stopSignal
		log.Infof("Received %s, stopping", sig)
		cancel()
	}()

	shutdownMetricServer := common.ServeMetrics(config.MetricsPort, health.NewMultiChecker())
	defer shutdownMetricServer()

	err := worker.Run(ctx, config)
	switch {
	case err == nil:
		log.Info("Queue is depleted, worker finished")
		return
	case dispatcherrors.IsSignatureMismatch(err):
		log.WithError(err).Error("Queue server was restarted, worker can no longer talk to it")
	case dispatcherrors.IsWorkerBlocked(err):
		log.WithError(err).Error("Worker was blocked by the queue server")
	default:
		log.WithError(err).Error("Worker failed")
	}
	shutdownMetricServer()
	os.Exit(1)
}
