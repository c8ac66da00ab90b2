package bucketqueue

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/testdispatch/internal/common/dispatcherrors"
	"github.com/G-Research/testdispatch/internal/common/util"
	"github.com/G-Research/testdispatch/internal/queueserver/aliveness"
	"github.com/G-Research/testdispatch/internal/queueserver/repository"
	"github.com/G-Research/testdispatch/pkg/api"
)

type balancingFixture struct {
	clock   *util.DummyClock
	tracker *aliveness.Tracker
	queue   *BalancingBucketQueue
}

func newBalancingFixture(stayAlive bool, workers ...api.WorkerId) *balancingFixture {
	return newBalancingFixtureWithResults(repository.NewInMemoryJobResultsRepository(), stayAlive, workers...)
}

func newBalancingFixtureWithResults(
	results repository.JobResultsRepository,
	stayAlive bool,
	workers ...api.WorkerId,
) *balancingFixture {
	clock := util.NewDummyClock(time.Date(2022, 10, 1, 12, 0, 0, 0, time.UTC))
	tracker := aliveness.NewTracker(reportAliveInterval, 0, clock)
	for _, worker := range workers {
		tracker.DidRegisterWorker(worker)
	}
	config := Config{CheckAgainTimeInterval: checkAgainInterval, WorkersStayAliveWhenQueueIsEmpty: stayAlive}
	return &balancingFixture{
		clock:   clock,
		tracker: tracker,
		queue: NewBalancingBucketQueue(
			config, tracker, results, &util.SequentialIdGenerator{Prefix: "uid"}, clock),
	}
}

func (f *balancingFixture) mustDequeue(t *testing.T, requestId api.RequestId, workerId api.WorkerId) *api.Bucket {
	result := f.queue.Dequeue(requestId, workerId)
	require.Equal(t, api.DequeuedBucketKind, result.Kind)
	return result.DequeuedBucket.EnqueuedBucket.Bucket
}

func (f *balancingFixture) mustAccept(t *testing.T, result api.TestingResult, requestId api.RequestId, workerId api.WorkerId) {
	_, err := f.queue.Accept(result, requestId, workerId)
	require.NoError(t, err)
}

func TestBalancing_IndividualBucketsAcrossTwoWorkers(t *testing.T) {
	f := newBalancingFixture(false, "a", "b")
	job := api.PrioritizedJob{JobId: "job", Priority: api.PriorityMedium}
	f.queue.Enqueue(job, []*api.Bucket{
		testBucket("b1", 0, entryOne),
		testBucket("b2", 0, entryTwo),
		testBucket("b3", 0, entryThree),
	})

	assert.Equal(t, api.BucketId("b1"), f.mustDequeue(t, "r1", "a").BucketId)
	assert.Equal(t, api.BucketId("b2"), f.mustDequeue(t, "r2", "b").BucketId)
	f.mustAccept(t, testingResult("b1", passed(entryOne)), "r1", "a")
	assert.Equal(t, api.BucketId("b3"), f.mustDequeue(t, "r3", "a").BucketId)
	f.mustAccept(t, testingResult("b2", passed(entryTwo)), "r2", "b")
	f.mustAccept(t, testingResult("b3", passed(entryThree)), "r3", "a")

	results, err := f.queue.Results("job")
	require.NoError(t, err)
	assert.Equal(t, []api.TestingResult{
		testingResult("b1", passed(entryOne)),
		testingResult("b2", passed(entryTwo)),
		testingResult("b3", passed(entryThree)),
	}, results.TestingResults)
	assert.True(t, f.queue.IsDepleted())
	assert.Empty(t, f.queue.OngoingJobIds())
	assert.Equal(t, api.QueueIsEmptyKind, f.queue.Dequeue("r4", "a").Kind)
}

func TestBalancing_RetriedResultsAreCombinedPerBucket(t *testing.T) {
	f := newBalancingFixture(false, "a", "b")
	f.queue.Enqueue(api.PrioritizedJob{JobId: "job"}, []*api.Bucket{testBucket("bucket", 1, entryOne, entryTwo)})

	f.mustDequeue(t, "r1", "a")
	f.mustAccept(t, testingResult("bucket", passed(entryOne), failedRun(entryTwo)), "r1", "a")
	f.mustDequeue(t, "r2", "b")
	f.mustAccept(t, testingResult("bucket", passed(entryTwo)), "r2", "b")

	results, err := f.queue.Results("job")
	require.NoError(t, err)
	require.Len(t, results.TestingResults, 1)
	assert.Equal(t, []api.TestEntryResult{passed(entryOne), passed(entryTwo)}, results.TestingResults[0].UnfilteredResults)
}

// failingOnceRepository fails the first Append and stores every later one.
type failingOnceRepository struct {
	*repository.InMemoryJobResultsRepository
	failed bool
}

func (r *failingOnceRepository) Append(jobId api.JobId, result api.TestingResult) error {
	if !r.failed {
		r.failed = true
		return errors.New("connection refused")
	}
	return r.InMemoryJobResultsRepository.Append(jobId, result)
}

func TestBalancing_StorageErrorKeepsLease(t *testing.T) {
	results := &failingOnceRepository{InMemoryJobResultsRepository: repository.NewInMemoryJobResultsRepository()}
	f := newBalancingFixtureWithResults(results, false, "a")
	f.queue.Enqueue(api.PrioritizedJob{JobId: "job"}, []*api.Bucket{testBucket("bucket", 0, entryOne)})
	f.mustDequeue(t, "r1", "a")

	_, err := f.queue.Accept(testingResult("bucket", passed(entryOne)), "r1", "a")
	assert.ErrorContains(t, err, "error storing results of bucket bucket")

	stored, err := f.queue.Results("job")
	require.NoError(t, err)
	assert.Empty(t, stored.TestingResults)
	assert.Equal(t, []api.JobId{"job"}, f.queue.OngoingJobIds())
	assert.True(t, f.tracker.IsProcessingBucket("a", "bucket"))
	assert.Equal(t, api.DequeuedBucketKind, f.queue.Dequeue("r1", "a").Kind)

	f.mustAccept(t, testingResult("bucket", passed(entryOne)), "r1", "a")

	stored, err = f.queue.Results("job")
	require.NoError(t, err)
	assert.Equal(t, []api.TestingResult{testingResult("bucket", passed(entryOne))}, stored.TestingResults)
	assert.Empty(t, f.queue.OngoingJobIds())
}

func TestBalancing_LostResultIsRetriedOnAnotherWorker(t *testing.T) {
	f := newBalancingFixture(false, "a", "b")
	f.queue.Enqueue(api.PrioritizedJob{JobId: "job"}, []*api.Bucket{testBucket("bucket", 1, entryOne)})
	f.mustDequeue(t, "r1", "a")

	f.mustAccept(t, testingResult("bucket", api.LostTestEntryResult(entryOne)), "r1", "a")

	assert.Equal(t, api.CheckAgainLaterKind, f.queue.Dequeue("r2", "a").Kind)
	retried := f.mustDequeue(t, "r3", "b")
	assert.Equal(t, api.BucketId("bucket"), retried.BucketId)
	assert.Equal(t, []api.TestEntry{entryOne}, retried.TestEntries())

	f.mustAccept(t, testingResult("bucket", passed(entryOne)), "r3", "b")
	results, err := f.queue.Results("job")
	require.NoError(t, err)
	assert.Equal(t, []api.TestingResult{testingResult("bucket", passed(entryOne))}, results.TestingResults)
	assert.True(t, f.queue.IsDepleted())
}

func TestBalancing_RepeatedTestKeepsEveryResult(t *testing.T) {
	tests := map[string]struct {
		firstAttempt []api.TestEntryResult
		retry        []api.TestEntryResult
	}{
		"all pass": {
			firstAttempt: []api.TestEntryResult{passed(entryOne), passed(entryOne)},
		},
		"second occurrence lost once": {
			firstAttempt: []api.TestEntryResult{passed(entryOne)},
			retry:        []api.TestEntryResult{passed(entryOne)},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			f := newBalancingFixture(false, "a", "b")
			f.queue.Enqueue(api.PrioritizedJob{JobId: "job"}, []*api.Bucket{testBucket("bucket", 1, entryOne, entryOne)})
			f.mustDequeue(t, "r1", "a")
			f.mustAccept(t, testingResult("bucket", tc.firstAttempt...), "r1", "a")
			if tc.retry != nil {
				assert.Equal(t, []api.TestEntry{entryOne}, f.mustDequeue(t, "r2", "b").TestEntries())
				f.mustAccept(t, testingResult("bucket", tc.retry...), "r2", "b")
			}

			results, err := f.queue.Results("job")
			require.NoError(t, err)
			require.Len(t, results.TestingResults, 1)
			assert.Equal(t, []api.TestEntryResult{passed(entryOne), passed(entryOne)}, results.TestingResults[0].UnfilteredResults)
			assert.True(t, f.queue.IsDepleted())
			assert.Equal(t, aliveness.Alive, f.tracker.Status("a"))
		})
	}
}

func TestBalancing_HigherPriorityJobServedFirst(t *testing.T) {
	f := newBalancingFixture(false, "a")
	f.queue.Enqueue(api.PrioritizedJob{JobId: "low", Priority: api.PriorityLowest}, []*api.Bucket{testBucket("low-bucket", 0, entryOne)})
	f.queue.Enqueue(api.PrioritizedJob{JobId: "high", Priority: api.PriorityHighest}, []*api.Bucket{testBucket("high-bucket", 0, entryOne)})
	f.queue.Enqueue(api.PrioritizedJob{JobId: "high-later", Priority: api.PriorityHighest}, []*api.Bucket{testBucket("later-bucket", 0, entryOne)})

	assert.Equal(t, api.BucketId("high-bucket"), f.mustDequeue(t, "r1", "a").BucketId)
	assert.Equal(t, api.BucketId("later-bucket"), f.mustDequeue(t, "r2", "a").BucketId)
	assert.Equal(t, api.BucketId("low-bucket"), f.mustDequeue(t, "r3", "a").BucketId)
	assert.Equal(t, []api.JobId{"high", "high-later", "low"}, f.queue.JobIds())
}

func TestBalancing_WorkerFallsThroughToNextJob(t *testing.T) {
	f := newBalancingFixture(false, "a", "b")
	f.queue.Enqueue(api.PrioritizedJob{JobId: "high", Priority: api.PriorityHighest}, []*api.Bucket{testBucket("high-bucket", 1, entryOne)})
	f.mustDequeue(t, "r1", "a")
	f.mustAccept(t, testingResult("high-bucket", failedRun(entryOne)), "r1", "a")
	f.queue.Enqueue(api.PrioritizedJob{JobId: "low", Priority: api.PriorityLowest}, []*api.Bucket{testBucket("low-bucket", 0, entryTwo)})

	assert.Equal(t, api.BucketId("low-bucket"), f.mustDequeue(t, "r2", "a").BucketId)
	assert.Equal(t, api.BucketId("high-bucket"), f.mustDequeue(t, "r3", "b").BucketId)
}

func TestBalancing_ReturnsCheckAgainLaterWhileBucketsAreInFlight(t *testing.T) {
	f := newBalancingFixture(false, "a", "b")
	f.queue.Enqueue(api.PrioritizedJob{JobId: "job"}, []*api.Bucket{testBucket("bucket", 0, entryOne)})
	f.mustDequeue(t, "r1", "a")

	assert.Equal(t, DequeueResult{Kind: api.CheckAgainLaterKind, CheckAfter: checkAgainInterval}, f.queue.Dequeue("r2", "b"))
}

func TestBalancing_EmptyQueue(t *testing.T) {
	tests := map[string]struct {
		stayAlive bool
		expected  DequeueResult
	}{
		"workers leave": {
			stayAlive: false,
			expected:  DequeueResult{Kind: api.QueueIsEmptyKind},
		},
		"workers stay alive": {
			stayAlive: true,
			expected:  DequeueResult{Kind: api.CheckAgainLaterKind, CheckAfter: checkAgainInterval},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			f := newBalancingFixture(tc.stayAlive, "a")
			assert.Equal(t, tc.expected, f.queue.Dequeue("r1", "a"))
		})
	}
}

func TestBalancing_WorkerStatusCheckedWithoutJobs(t *testing.T) {
	f := newBalancingFixture(true, "a")
	f.tracker.BlockWorker("a")

	assert.Equal(t, api.WorkerIsBlockedKind, f.queue.Dequeue("r1", "a").Kind)
	assert.Equal(t, api.WorkerNotAliveKind, f.queue.Dequeue("r1", "unknown").Kind)
}

func TestBalancing_AcceptWithoutLease(t *testing.T) {
	f := newBalancingFixture(false, "a")
	f.queue.Enqueue(api.PrioritizedJob{JobId: "job"}, []*api.Bucket{testBucket("bucket", 0, entryOne)})

	_, err := f.queue.Accept(testingResult("bucket", passed(entryOne)), "r1", "a")
	var e *dispatcherrors.ErrNoDequeuedBucket
	assert.True(t, errors.As(err, &e))

	results, err := f.queue.Results("job")
	require.NoError(t, err)
	assert.Empty(t, results.TestingResults)
}

func TestBalancing_StateAndDelete(t *testing.T) {
	f := newBalancingFixture(false, "a")
	f.queue.Enqueue(api.PrioritizedJob{JobId: "job"}, []*api.Bucket{testBucket("b1", 0, entryOne), testBucket("b2", 0, entryTwo)})
	f.mustDequeue(t, "r1", "a")

	state, err := f.queue.State("job")
	require.NoError(t, err)
	assert.Equal(t, api.RunningQueueState{
		EnqueuedBucketCount: 1,
		DequeuedBucketCount: 1,
		EnqueuedTests:       []api.TestEntry{entryTwo},
		DequeuedTests:       []api.TestEntry{entryOne},
	}, state.QueueState)
	assert.Equal(t, []api.JobId{"job"}, f.queue.OngoingJobIds())

	require.NoError(t, f.queue.Delete("job"))

	var notFound *dispatcherrors.ErrNotFound
	_, err = f.queue.State("job")
	assert.True(t, errors.As(err, &notFound))
	_, err = f.queue.Results("job")
	assert.True(t, errors.As(err, &notFound))
	assert.True(t, errors.As(f.queue.Delete("job"), &notFound))
	assert.False(t, f.tracker.IsProcessingBucket("a", "b1"))
	assert.Equal(t, api.QueueIsEmptyKind, f.queue.Dequeue("r2", "a").Kind)
}

func TestBalancing_ReenqueueStuckBuckets(t *testing.T) {
	f := newBalancingFixture(false, "a", "b")
	f.queue.Enqueue(api.PrioritizedJob{JobId: "job"}, []*api.Bucket{testBucket("bucket", 0, entryOne)})
	f.mustDequeue(t, "r1", "a")

	f.clock.Advance(reportAliveInterval + time.Second)
	f.tracker.MarkAlive("b")

	assert.Equal(t, 1, f.queue.ReenqueueStuckBuckets())
	assert.Equal(t, 1, f.queue.QueueStates()["job"].EnqueuedBucketCount)
}
