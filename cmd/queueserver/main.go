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
	"github.com/G-Research/testdispatch/internal/common/build"
	"github.com/G-Research/testdispatch/internal/common/health"
	"github.com/G-Research/testdispatch/internal/queueserver"
	"github.com/G-Research/testdispatch/internal/queueserver/configuration"
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

	var config configuration.QueueServerConfig
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)
	common.LoadConfig(&config, "./config/queueserver", userSpecifiedConfigs)

	log.Infof("Starting queue server %s (commit %s)", build.ReleaseVersion, build.GitCommit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stopSignal
		log.Infof("Received %s, shutting down", sig)
		cancel()
	}()

	healthChecks := health.NewMultiChecker()
	shutdownMetricServer := common.ServeMetrics(config.MetricsPort, healthChecks)
	defer shutdownMetricServer()

	if err := queueserver.Serve(ctx, &config, healthChecks, build.ReleaseVersion); err != nil {
		log.Error(err)
		shutdownMetricServer()
		os.Exit(1)
	}
}
