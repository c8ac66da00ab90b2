package execution

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testdispatch/internal/common/semaphore"
	"github.com/G-Research/testdispatch/pkg/api"
)

const SimulatorsResource = "simulators"

// BucketSource hands out buckets to run. A nil bucket without error means there is no more work.
type BucketSource interface {
	NextBucket(ctx context.Context) (*api.Bucket, error)
}

// ResultSink receives the merged result of every bucket that ran.
type ResultSink interface {
	DidRunBucket(ctx context.Context, bucket *api.Bucket, result api.TestingResult) error
}

// Scheduler runs buckets concurrently, one per free simulator slot. A slot is acquired before
// a bucket is fetched, so the source is only asked for work that can start immediately.
type Scheduler struct {
	semaphore *semaphore.ListeningSemaphore
	executor  BucketExecutor
}

func NewScheduler(numberOfSimulators uint, executor BucketExecutor) *Scheduler {
	if numberOfSimulators == 0 {
		numberOfSimulators = 1
	}
	s := semaphore.NewListeningSemaphore(semaphore.ResourceAmounts{SimulatorsResource: int64(numberOfSimulators)})
	s.AddListener(func(available semaphore.ResourceAmounts) {
		log.Debugf("%d of %d simulator slots free", available[SimulatorsResource], numberOfSimulators)
	})
	return &Scheduler{semaphore: s, executor: executor}
}

func (s *Scheduler) AvailableSlots() int64 {
	return s.semaphore.AvailableResources()[SimulatorsResource]
}

// Run pulls buckets from source until it is exhausted. After the first error no new bucket is
// fetched, but buckets already running are allowed to finish. All errors are returned together.
func (s *Scheduler) Run(ctx context.Context, source BucketSource, sink ResultSink) error {
	var (
		mu     sync.Mutex
		result *multierror.Error
		wg     sync.WaitGroup
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		result = multierror.Append(result, err)
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return result.ErrorOrNil() != nil
	}
	slot := semaphore.ResourceAmounts{SimulatorsResource: 1}
	release := func() {
		if err := s.semaphore.Release(slot); err != nil {
			log.WithError(err).Error("Error releasing simulator slot")
		}
	}

	for !failed() {
		if err := s.semaphore.Acquire(ctx, slot); err != nil {
			record(errors.WithMessage(err, "error waiting for a free simulator slot"))
			break
		}
		// the semaphore may hand out a slot even though ctx is already done
		if err := ctx.Err(); err != nil {
			release()
			record(errors.WithStack(err))
			break
		}
		if failed() {
			release()
			break
		}
		bucket, err := source.NextBucket(ctx)
		if err != nil {
			release()
			record(errors.WithMessage(err, "error fetching bucket"))
			break
		}
		if bucket == nil {
			release()
			break
		}

		wg.Add(1)
		go func(bucket *api.Bucket) {
			defer wg.Done()
			defer release()
			log.WithField("bucket", bucket.BucketId).Infof("Running %d tests", len(bucket.TestEntryConfigurations))
			testingResult, err := s.executor.Run(ctx, bucket)
			if err != nil {
				record(errors.WithMessagef(err, "error running bucket %s", bucket.BucketId))
				return
			}
			if err := sink.DidRunBucket(ctx, bucket, testingResult); err != nil {
				record(errors.WithMessagef(err, "error handling result of bucket %s", bucket.BucketId))
			}
		}(bucket)
	}
	wg.Wait()
	return result.ErrorOrNil()
}
