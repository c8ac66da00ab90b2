package server

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testdispatch/internal/common/dispatcherrors"
	"github.com/G-Research/testdispatch/internal/common/util"
	"github.com/G-Research/testdispatch/internal/queueserver/repository"
	"github.com/G-Research/testdispatch/internal/splitting"
	"github.com/G-Research/testdispatch/pkg/api"
)

type BucketEnqueuer interface {
	Enqueue(job api.PrioritizedJob, buckets []*api.Bucket)
}

// TestsEnqueuer splits scheduled tests into buckets and enqueues them. Replayed requests are
// answered from the cache and enqueue nothing.
type TestsEnqueuer struct {
	mu          sync.Mutex
	queue       BucketEnqueuer
	cache       *repository.ScheduleRequestCache
	idGenerator util.IdGenerator
	// Number of workers equally divided buckets are sized for.
	numberOfWorkers func() uint
}

func NewTestsEnqueuer(
	queue BucketEnqueuer,
	cache *repository.ScheduleRequestCache,
	idGenerator util.IdGenerator,
	numberOfWorkers func() uint,
) *TestsEnqueuer {
	return &TestsEnqueuer{
		queue:           queue,
		cache:           cache,
		idGenerator:     idGenerator,
		numberOfWorkers: numberOfWorkers,
	}
}

func (e *TestsEnqueuer) Enqueue(request *api.ScheduleTestsRequest) (*api.ScheduleTestsResponse, error) {
	if err := validateScheduleTestsRequest(request); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	logger := log.WithFields(log.Fields{"job": request.PrioritizedJob.JobId, "request": request.RequestId})
	if response, found := e.cache.Lookup(request.RequestId); found {
		logger.Info("Request was already scheduled, not enqueueing its tests again")
		return response, nil
	}

	splitter, err := splitting.NewBucketSplitter(request.ScheduleStrategy, e.idGenerator)
	if err != nil {
		return nil, &dispatcherrors.ErrInvalidArgument{
			Name:    "scheduleStrategy",
			Value:   request.ScheduleStrategy,
			Message: err.Error(),
		}
	}
	numberOfWorkers := e.numberOfWorkers()
	if numberOfWorkers < 1 {
		numberOfWorkers = 1
	}
	buckets := splitter.Generate(request.TestEntryConfigurations, splitting.SplitInfo{
		NumberOfWorkers:   numberOfWorkers,
		ToolResources:     request.ToolResources,
		SimulatorSettings: request.SimulatorSettings,
	})
	e.queue.Enqueue(request.PrioritizedJob, buckets)
	logger.Infof("Enqueued %d tests in %d buckets using strategy %s",
		len(request.TestEntryConfigurations), len(buckets), request.ScheduleStrategy)

	response := &api.ScheduleTestsResponse{RequestId: request.RequestId}
	e.cache.Store(request.RequestId, response)
	return response, nil
}

func validateScheduleTestsRequest(request *api.ScheduleTestsRequest) error {
	if request.RequestId == "" {
		return &dispatcherrors.ErrInvalidArgument{Name: "requestId", Value: request.RequestId, Message: "must not be empty"}
	}
	if request.PrioritizedJob.JobId == "" {
		return &dispatcherrors.ErrInvalidArgument{Name: "prioritizedJob.jobId", Value: request.PrioritizedJob.JobId, Message: "must not be empty"}
	}
	if request.PrioritizedJob.Priority > api.PriorityHighest {
		return &dispatcherrors.ErrInvalidArgument{
			Name:    "prioritizedJob.priority",
			Value:   request.PrioritizedJob.Priority,
			Message: "must not exceed the highest priority",
		}
	}
	return nil
}
