package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testdispatch/internal/common/dispatcherrors"
	"github.com/G-Research/testdispatch/internal/common/task"
	"github.com/G-Research/testdispatch/internal/common/util"
	"github.com/G-Research/testdispatch/internal/execution"
	"github.com/G-Research/testdispatch/internal/worker/configuration"
	"github.com/G-Research/testdispatch/pkg/api"
	"github.com/G-Research/testdispatch/pkg/client/queue"
)

const MetricPrefix = "testdispatch_worker_"

// Run registers with the queue server and runs buckets until the queue is empty or the worker
// loses its standing with the server.
func Run(ctx context.Context, config configuration.WorkerConfig) error {
	conn, err := queue.CreateQueueConnection(&config.QueueServer)
	if err != nil {
		return err
	}
	defer conn.Close()

	client := queue.NewSynchronousQueueClient(api.NewQueueServerClient(conn), queue.RetryPolicy{
		Attempts:    config.Retry.Attempts,
		Delay:       config.Retry.Delay,
		CallTimeout: config.QueueServer.CallTimeout,
	})
	testRunner := &execution.ProcessTestRunner{DefaultCommand: config.TestRunner.Command, Args: config.TestRunner.Args}
	return run(ctx, config, client, testRunner, prometheus.DefaultRegisterer)
}

func run(
	ctx context.Context,
	config configuration.WorkerConfig,
	client QueueClient,
	testRunner execution.TestRunner,
	registerer prometheus.Registerer,
) error {
	worker := NewWorker(api.WorkerId(config.WorkerId), client)
	workerConfiguration, err := worker.Register(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// set when a heartbeat tells the worker to stop
	var (
		mu           sync.Mutex
		lostStanding error
	)
	reportAliveness := func() {
		err := worker.ReportAliveness(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		if err == ErrWorkerNotAlive || dispatcherrors.IsWorkerBlocked(err) || dispatcherrors.IsSignatureMismatch(err) {
			log.WithError(err).Error("Stopping worker")
			mu.Lock()
			lostStanding = err
			mu.Unlock()
			cancel()
			return
		}
		log.WithError(err).Warn("Heartbeat failed")
	}

	simulatorPool := execution.NewLocalSimulatorPool(int(workerConfiguration.NumberOfSimulators), util.ULIDGenerator{}, &util.DefaultClock{})

	taskManager := task.NewBackgroundTaskManagerWithRegisterer(MetricPrefix, registerer)
	defer taskManager.StopAll(2 * time.Second)
	taskManager.Register(reportAliveness, workerConfiguration.ReportAliveInterval, "report_aliveness")
	taskManager.Register(func() {
		if deleted := simulatorPool.DeleteIdle(config.Execution.SimulatorIdleTimeout); deleted > 0 {
			log.Infof("Deleted %d idle simulators", deleted)
		}
	}, config.Execution.IdleSimulatorCheckInterval, "delete_idle_simulators")

	bucketRunner := execution.NewBucketRunner(execution.BucketRunnerConfig{
		MaximumRevives:              config.Execution.MaximumRevives,
		SimulatorAllocationAttempts: config.Execution.SimulatorAllocationAttempts,
		SimulatorAllocationDelay:    config.Execution.SimulatorAllocationDelay,
	}, testRunner, simulatorPool)
	scheduler := execution.NewScheduler(workerConfiguration.NumberOfSimulators, bucketRunner)

	err = scheduler.Run(ctx, worker, worker)
	mu.Lock()
	defer mu.Unlock()
	if lostStanding != nil {
		return multierror.Append(lostStanding, err).ErrorOrNil()
	}
	return err
}
