package queueserver

import (
	"context"
	"time"

	"github.com/go-redis/redis"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	grpcCommon "github.com/G-Research/testdispatch/internal/common/grpc"
	"github.com/G-Research/testdispatch/internal/common/health"
	"github.com/G-Research/testdispatch/internal/common/network"
	"github.com/G-Research/testdispatch/internal/common/task"
	"github.com/G-Research/testdispatch/internal/common/util"
	"github.com/G-Research/testdispatch/internal/queueserver/aliveness"
	"github.com/G-Research/testdispatch/internal/queueserver/bucketqueue"
	"github.com/G-Research/testdispatch/internal/queueserver/configuration"
	"github.com/G-Research/testdispatch/internal/queueserver/metrics"
	"github.com/G-Research/testdispatch/internal/queueserver/repository"
	"github.com/G-Research/testdispatch/internal/queueserver/server"
	"github.com/G-Research/testdispatch/internal/queueserver/termination"
	"github.com/G-Research/testdispatch/pkg/api"
)

// Calls that count as activity for the idle termination policy. Worker polling does not.
var activityMethods = []string{
	api.FullMethodName("ScheduleTests"),
	api.FullMethodName("PushResult"),
	api.FullMethodName("JobState"),
	api.FullMethodName("JobResults"),
	api.FullMethodName("DeleteJob"),
}

// Components are the stateful parts of a queue server, shared by the gRPC service and the
// background tasks.
type Components struct {
	Tracker     *aliveness.Tracker
	Queue       *bucketqueue.BalancingBucketQueue
	QueueServer *server.QueueServer
	Termination *termination.Controller
}

func NewComponents(
	config *configuration.QueueServerConfig,
	results repository.JobResultsRepository,
	clock util.Clock,
	version string,
	requestSignature api.RequestSignature,
) (*Components, error) {
	tracker := aliveness.NewTracker(config.Aliveness.ReportAliveInterval, config.Aliveness.Allowance, clock)
	queue := bucketqueue.NewBalancingBucketQueue(
		bucketqueue.Config{
			CheckAgainTimeInterval:           config.Queue.CheckAgainTimeInterval,
			WorkersStayAliveWhenQueueIsEmpty: config.Queue.WorkersStayAliveWhenQueueIsEmpty,
		},
		tracker,
		results,
		util.ULIDGenerator{},
		clock,
	)
	workerConfigurations := server.NewWorkerConfigurations(config.Workers, config.Aliveness.ReportAliveInterval, requestSignature)
	enqueuer := server.NewTestsEnqueuer(
		queue,
		repository.NewScheduleRequestCache(config.ScheduleRequestCacheExpiration),
		util.ULIDGenerator{},
		func() uint {
			if known := workerConfigurations.KnownWorkerCount(); known > 0 {
				return uint(known)
			}
			return uint(len(tracker.AliveWorkerIds()))
		},
	)
	acceptedResults, err := repository.NewAcceptedResultCache(config.AcceptedResultCacheSize)
	if err != nil {
		return nil, err
	}
	controller := termination.NewController(config.Termination.Policy, config.Termination.Period, clock, func() bool {
		return len(queue.OngoingJobIds()) > 0
	})

	return &Components{
		Tracker:     tracker,
		Queue:       queue,
		QueueServer: server.NewQueueServer(version, requestSignature, tracker, queue, enqueuer, workerConfigurations, acceptedResults),
		Termination: controller,
	}, nil
}

// NewGrpcServer creates the gRPC server with the queue service registered on it.
func (c *Components) NewGrpcServer(config *configuration.QueueServerConfig) *grpc.Server {
	grpcServer := grpcCommon.CreateGrpcServer(config.Grpc, c.Termination.UnaryServerInterceptor(activityMethods...))
	api.RegisterQueueServerServer(grpcServer, c.QueueServer)
	grpc_prometheus.Register(grpcServer)
	return grpcServer
}

// ReenqueueStuckBuckets is run periodically so that leases of vanished workers are returned
// even when no other worker polls.
func (c *Components) ReenqueueStuckBuckets() {
	count := c.Queue.ReenqueueStuckBuckets()
	if count > 0 {
		log.Infof("Reenqueued %d stuck buckets", count)
	}
	metrics.RecordStuckBuckets(count)
}

func Serve(ctx context.Context, config *configuration.QueueServerConfig, healthChecks *health.MultiChecker, version string) error {
	log.Info("Queue server starting")
	defer log.Info("Queue server shutting down")

	// We call startupCompleteCheck.MarkComplete() when all services have been started.
	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks.Add(startupCompleteCheck)

	// Run all services within an errgroup to propagate errors between services.
	// Cancelling the parent context also stops the errgroup, which is how termination shuts down.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var services []func() error

	var results repository.JobResultsRepository
	if len(config.Redis.Addrs) > 0 {
		db := redis.NewUniversalClient(&config.Redis)
		defer func() {
			if err := db.Close(); err != nil {
				log.WithError(err).Error("failed to close Redis client")
			}
		}()
		healthChecks.Add(repository.NewRedisHealth(db))
		results = repository.NewRedisJobResultsRepository(db)
		log.Infof("Storing job results in Redis at %v", config.Redis.Addrs)
	} else {
		results = repository.NewInMemoryJobResultsRepository()
		log.Info("No Redis address configured; storing job results in memory")
	}

	requestSignature := api.RequestSignature(util.NewUUID())
	components, err := NewComponents(config, results, &util.DefaultClock{}, version, requestSignature)
	if err != nil {
		return err
	}

	grpcServer := components.NewGrpcServer(config)
	services = append(services, grpcCommon.CreateShutdownHandler(ctx, 5*time.Second, grpcServer))

	taskManager := task.NewBackgroundTaskManager(metrics.MetricPrefix)
	defer taskManager.StopAll(2 * time.Second)
	taskManager.Register(components.ReenqueueStuckBuckets, config.Queue.StuckBucketsCheckInterval, "reenqueue_stuck_buckets")

	metrics.ExposeQueueMetrics(prometheus.DefaultRegisterer, components.Queue, components.Tracker)

	log.Infof("Termination policy is %s", config.Termination.Policy)
	services = append(services, func() error {
		if components.Termination.Wait(ctx, config.Termination.CheckInterval) {
			log.Info("Queue server terminating automatically")
			cancel()
		}
		return nil
	})

	lis, port, err := network.ListenOnFreePort(config.GrpcPortRange.Ports())
	if err != nil {
		return err
	}
	log.Infof("Queue server gRPC listening on %d", port)
	services = append(services, func() error {
		return grpcServer.Serve(lis)
	})

	// Start all services at the end of the function to ensure all services are ready.
	for _, service := range services {
		g.Go(service)
	}

	startupCompleteCheck.MarkComplete()
	return g.Wait()
}
