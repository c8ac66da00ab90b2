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
	"github.com/G-Research/testdispatch/pkg/api"
)

const (
	reportAliveInterval = 10 * time.Second
	checkAgainInterval  = 30 * time.Second
)

var (
	entryOne   = api.TestEntry{ClassName: "LoginTests", MethodName: "testOne"}
	entryTwo   = api.TestEntry{ClassName: "LoginTests", MethodName: "testTwo"}
	entryThree = api.TestEntry{ClassName: "LoginTests", MethodName: "testThree"}
)

func testConfiguration(entry api.TestEntry, retries uint) api.TestEntryConfiguration {
	return api.TestEntryConfiguration{
		TestEntry:             entry,
		TestDestination:       api.TestDestination{DeviceType: "iPhone X", Runtime: "15.0"},
		TestExecutionBehavior: api.TestExecutionBehavior{NumberOfRetries: retries},
	}
}

func testBucket(id api.BucketId, retries uint, entries ...api.TestEntry) *api.Bucket {
	bucket := &api.Bucket{BucketId: id}
	for _, entry := range entries {
		bucket.TestEntryConfigurations = append(bucket.TestEntryConfigurations, testConfiguration(entry, retries))
	}
	return bucket
}

func passed(entry api.TestEntry) api.TestEntryResult {
	return api.TestEntryResult{TestEntry: entry, TestRunResults: []api.TestRunResult{{Succeeded: true}}}
}

func failedRun(entry api.TestEntry) api.TestEntryResult {
	return api.TestEntryResult{TestEntry: entry, TestRunResults: []api.TestRunResult{{Succeeded: false}}}
}

func testingResult(bucketId api.BucketId, results ...api.TestEntryResult) api.TestingResult {
	return api.TestingResult{BucketId: bucketId, UnfilteredResults: results}
}

type fixture struct {
	clock   *util.DummyClock
	tracker *aliveness.Tracker
	queue   *BucketQueue
}

func newFixture(workers ...api.WorkerId) *fixture {
	clock := util.NewDummyClock(time.Date(2022, 10, 1, 12, 0, 0, 0, time.UTC))
	tracker := aliveness.NewTracker(reportAliveInterval, 0, clock)
	for _, worker := range workers {
		tracker.DidRegisterWorker(worker)
	}
	return &fixture{
		clock:   clock,
		tracker: tracker,
		queue:   NewBucketQueue(tracker, checkAgainInterval, &util.SequentialIdGenerator{Prefix: "uid"}, clock),
	}
}

func (f *fixture) mustDequeue(t *testing.T, requestId api.RequestId, workerId api.WorkerId) *api.Bucket {
	result := f.queue.Dequeue(requestId, workerId)
	require.Equal(t, api.DequeuedBucketKind, result.Kind)
	return result.DequeuedBucket.EnqueuedBucket.Bucket
}

func (f *fixture) accept(result api.TestingResult, requestId api.RequestId, workerId api.WorkerId) (*AcceptResult, error) {
	return f.queue.Accept(result, requestId, workerId, nil)
}

func TestDequeue_EmptyQueue(t *testing.T) {
	f := newFixture("worker")
	assert.Equal(t, DequeueResult{Kind: api.QueueIsEmptyKind}, f.queue.Dequeue("request", "worker"))
}

func TestDequeue_WorkerEligibility(t *testing.T) {
	f := newFixture("alive", "silent")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 0, entryOne)})
	f.tracker.BlockWorker("blocked")
	f.clock.Advance(reportAliveInterval + time.Second)
	f.tracker.MarkAlive("alive")

	assert.Equal(t, api.WorkerIsBlockedKind, f.queue.Dequeue("r1", "blocked").Kind)
	assert.Equal(t, api.WorkerNotAliveKind, f.queue.Dequeue("r2", "silent").Kind)
	assert.Equal(t, api.WorkerNotAliveKind, f.queue.Dequeue("r3", "unknown").Kind)
	assert.Equal(t, api.DequeuedBucketKind, f.queue.Dequeue("r4", "alive").Kind)
}

func TestDequeue_AtMostOneLeasePerBucket(t *testing.T) {
	f := newFixture("a", "b")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 0, entryOne)})

	f.mustDequeue(t, "r1", "a")

	assert.Equal(t, DequeueResult{Kind: api.CheckAgainLaterKind, CheckAfter: checkAgainInterval}, f.queue.Dequeue("r2", "b"))
	assert.Equal(t, api.CheckAgainLaterKind, f.queue.Dequeue("r3", "a").Kind)
}

func TestDequeue_SameRequestReturnsSameLease(t *testing.T) {
	f := newFixture("a")
	f.queue.Enqueue([]*api.Bucket{testBucket("b1", 0, entryOne), testBucket("b2", 0, entryTwo)})

	first := f.mustDequeue(t, "request", "a")
	again := f.mustDequeue(t, "request", "a")

	assert.Equal(t, first.BucketId, again.BucketId)
	assert.Equal(t, 1, f.queue.RunningQueueState().EnqueuedBucketCount)
}

func TestDequeue_OldestBucketFirst(t *testing.T) {
	f := newFixture("a")
	f.queue.Enqueue([]*api.Bucket{testBucket("first", 0, entryOne)})
	f.clock.Advance(time.Second)
	f.queue.Enqueue([]*api.Bucket{testBucket("second", 0, entryTwo)})

	assert.Equal(t, api.BucketId("first"), f.mustDequeue(t, "r1", "a").BucketId)
	assert.Equal(t, api.BucketId("second"), f.mustDequeue(t, "r2", "a").BucketId)
}

func TestAccept_SuccessIsCollected(t *testing.T) {
	f := newFixture("a")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 1, entryOne, entryTwo)})
	f.mustDequeue(t, "r1", "a")

	accepted, err := f.accept(testingResult("bucket", passed(entryOne), passed(entryTwo)), "r1", "a")
	require.NoError(t, err)

	assert.Equal(t, []api.TestEntryResult{passed(entryOne), passed(entryTwo)}, accepted.TestingResultToCollect.UnfilteredResults)
	assert.Empty(t, accepted.Reenqueued)
	assert.True(t, f.queue.IsDepleted())
	assert.False(t, f.tracker.IsProcessingBucket("a", "bucket"))
	assert.Equal(t, api.QueueIsEmptyKind, f.queue.Dequeue("r2", "a").Kind)
}

func TestAccept_WithoutLeaseIsRejected(t *testing.T) {
	f := newFixture("a", "b")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 0, entryOne)})
	f.mustDequeue(t, "r1", "a")
	stateBefore := f.queue.RunningQueueState()

	tests := map[string]struct {
		requestId api.RequestId
		workerId  api.WorkerId
		bucketId  api.BucketId
	}{
		"unknown request": {requestId: "other", workerId: "a", bucketId: "bucket"},
		"other worker":    {requestId: "r1", workerId: "b", bucketId: "bucket"},
		"other bucket":    {requestId: "r1", workerId: "a", bucketId: "other"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.accept(testingResult(tc.bucketId, passed(entryOne)), tc.requestId, tc.workerId)
			var e *dispatcherrors.ErrNoDequeuedBucket
			assert.True(t, errors.As(err, &e))
			assert.Equal(t, stateBefore, f.queue.RunningQueueState())
		})
	}
}

func TestAccept_DuplicateDeliveryIsRejected(t *testing.T) {
	f := newFixture("a")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 0, entryOne)})
	f.mustDequeue(t, "r1", "a")

	_, err := f.accept(testingResult("bucket", passed(entryOne)), "r1", "a")
	require.NoError(t, err)
	_, err = f.accept(testingResult("bucket", passed(entryOne)), "r1", "a")
	assert.Error(t, err)
}

func TestAccept_EntryOutsideBucketIsRejected(t *testing.T) {
	f := newFixture("a")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 0, entryOne)})
	f.mustDequeue(t, "r1", "a")

	_, err := f.accept(testingResult("bucket", passed(entryOne), passed(entryTwo)), "r1", "a")
	var e *dispatcherrors.ErrInvalidArgument
	assert.True(t, errors.As(err, &e))
	assert.True(t, f.queue.HasLease("r1", "a"))
}

func TestAccept_LostEntriesAreReenqueued(t *testing.T) {
	f := newFixture("a", "b")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 1, entryOne, entryTwo, entryThree)})
	f.mustDequeue(t, "r1", "a")

	accepted, err := f.accept(testingResult("bucket", passed(entryOne), api.LostTestEntryResult(entryTwo)), "r1", "a")
	require.NoError(t, err)

	assert.Equal(t, []api.TestEntryResult{passed(entryOne)}, accepted.TestingResultToCollect.UnfilteredResults)
	assert.Equal(t, []api.TestEntry{entryTwo, entryThree}, accepted.Reenqueued)
	assert.Equal(t, []api.TestEntry{entryTwo, entryThree}, f.queue.RunningQueueState().EnqueuedTests)

	retried := f.mustDequeue(t, "r2", "b")
	assert.Equal(t, api.BucketId("bucket"), retried.BucketId)
	assert.Equal(t, []api.TestEntry{entryTwo, entryThree}, retried.TestEntries())
}

func TestAccept_RepeatedTestGetsOneResultPerOccurrence(t *testing.T) {
	f := newFixture("a", "b")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 1, entryOne, entryTwo, entryOne)})
	f.mustDequeue(t, "r1", "a")

	accepted, err := f.accept(testingResult("bucket", passed(entryOne), passed(entryTwo), passed(entryOne)), "r1", "a")
	require.NoError(t, err)

	assert.Equal(t, []api.TestEntryResult{passed(entryOne), passed(entryTwo), passed(entryOne)}, accepted.TestingResultToCollect.UnfilteredResults)
	assert.Empty(t, accepted.Reenqueued)
	assert.True(t, f.queue.IsDepleted())
	assert.Equal(t, api.QueueIsEmptyKind, f.queue.Dequeue("r2", "b").Kind)
}

func TestAccept_RepeatedTestOccurrencesHaveSeparateRetryBudgets(t *testing.T) {
	f := newFixture("a", "b")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 1, entryOne, entryOne)})
	f.mustDequeue(t, "r1", "a")

	accepted, err := f.accept(testingResult("bucket", failedRun(entryOne), failedRun(entryOne)), "r1", "a")
	require.NoError(t, err)
	assert.Equal(t, []api.TestEntry{entryOne, entryOne}, accepted.Reenqueued)
	assert.Empty(t, accepted.TestingResultToCollect.UnfilteredResults)

	retried := f.mustDequeue(t, "r2", "b")
	assert.Equal(t, []api.TestEntry{entryOne, entryOne}, retried.TestEntries())

	accepted, err = f.accept(testingResult("bucket", passed(entryOne), failedRun(entryOne)), "r2", "b")
	require.NoError(t, err)
	assert.Empty(t, accepted.Reenqueued)
	assert.Equal(t, []api.TestEntryResult{passed(entryOne), failedRun(entryOne)}, accepted.TestingResultToCollect.UnfilteredResults)
	assert.True(t, f.queue.IsDepleted())
}

func TestAccept_CollectorErrorLeavesQueueUnchanged(t *testing.T) {
	f := newFixture("a", "b")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 1, entryOne, entryTwo)})
	f.mustDequeue(t, "r1", "a")
	stateBefore := f.queue.RunningQueueState()
	result := testingResult("bucket", passed(entryOne), failedRun(entryTwo))

	storeErr := errors.New("store unavailable")
	var offered []api.TestingResult
	_, err := f.queue.Accept(result, "r1", "a", func(collected api.TestingResult) error {
		offered = append(offered, collected)
		return storeErr
	})
	assert.ErrorIs(t, err, storeErr)
	require.Len(t, offered, 1)
	assert.Equal(t, []api.TestEntryResult{passed(entryOne)}, offered[0].UnfilteredResults)
	assert.True(t, f.queue.HasLease("r1", "a"))
	assert.True(t, f.tracker.IsProcessingBucket("a", "bucket"))
	assert.Equal(t, stateBefore, f.queue.RunningQueueState())

	accepted, err := f.queue.Accept(result, "r1", "a", func(collected api.TestingResult) error {
		offered = append(offered, collected)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, offered, 2)
	assert.Equal(t, []api.TestEntry{entryTwo}, accepted.Reenqueued)
	assert.False(t, f.queue.HasLease("r1", "a"))

	assert.Equal(t, api.CheckAgainLaterKind, f.queue.Dequeue("r2", "a").Kind)
	assert.Equal(t, []api.TestEntry{entryTwo}, f.mustDequeue(t, "r3", "b").TestEntries())
}

func TestAccept_CollectorIsSkippedWhenEverythingIsRetried(t *testing.T) {
	f := newFixture("a")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 1, entryOne)})
	f.mustDequeue(t, "r1", "a")

	_, err := f.queue.Accept(testingResult("bucket", failedRun(entryOne)), "r1", "a", func(api.TestingResult) error {
		return errors.New("nothing should be stored")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.queue.RunningQueueState().EnqueuedBucketCount)
}

func TestDequeue_PrefersWorkerThatDidNotFail(t *testing.T) {
	f := newFixture("a", "b")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 1, entryOne)})
	f.mustDequeue(t, "r1", "a")
	_, err := f.accept(testingResult("bucket", failedRun(entryOne)), "r1", "a")
	require.NoError(t, err)

	assert.Equal(t, api.CheckAgainLaterKind, f.queue.Dequeue("r2", "a").Kind)
	assert.Equal(t, api.BucketId("bucket"), f.mustDequeue(t, "r3", "b").BucketId)
}

func TestDequeue_FailingWorkerGetsBucketWhenNoAlternativeIsAlive(t *testing.T) {
	f := newFixture("a", "b")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 1, entryOne)})
	f.mustDequeue(t, "r1", "a")
	_, err := f.accept(testingResult("bucket", failedRun(entryOne)), "r1", "a")
	require.NoError(t, err)

	f.clock.Advance(reportAliveInterval + time.Second)
	f.tracker.MarkAlive("a")

	assert.Equal(t, api.BucketId("bucket"), f.mustDequeue(t, "r2", "a").BucketId)
}

func TestRetryBudget_AlternatesWorkersAndStopsWhenExhausted(t *testing.T) {
	f := newFixture("a", "b")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 2, entryOne)})

	attempts := []struct {
		requestId api.RequestId
		workerId  api.WorkerId
	}{
		{"r1", "a"},
		{"r2", "b"},
		{"r3", "a"},
	}
	for i, attempt := range attempts {
		f.clock.Advance(time.Second)
		f.mustDequeue(t, attempt.requestId, attempt.workerId)
		accepted, err := f.accept(testingResult("bucket", failedRun(entryOne)), attempt.requestId, attempt.workerId)
		require.NoError(t, err)
		if i < len(attempts)-1 {
			assert.Equal(t, []api.TestEntry{entryOne}, accepted.Reenqueued)
			assert.Empty(t, accepted.TestingResultToCollect.UnfilteredResults)
		} else {
			assert.Empty(t, accepted.Reenqueued)
			assert.Equal(t, []api.TestEntryResult{failedRun(entryOne)}, accepted.TestingResultToCollect.UnfilteredResults)
		}
	}

	assert.Equal(t, api.QueueIsEmptyKind, f.queue.Dequeue("r4", "a").Kind)
	assert.Equal(t, api.QueueIsEmptyKind, f.queue.Dequeue("r5", "b").Kind)
	assert.True(t, f.queue.IsDepleted())
}

func TestRetryBudget_ZeroRetriesCollectsFailureImmediately(t *testing.T) {
	f := newFixture("a")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 0, entryOne)})
	f.mustDequeue(t, "r1", "a")

	accepted, err := f.accept(testingResult("bucket"), "r1", "a")
	require.NoError(t, err)

	assert.Equal(t, []api.TestEntryResult{api.LostTestEntryResult(entryOne)}, accepted.TestingResultToCollect.UnfilteredResults)
	assert.True(t, f.queue.IsDepleted())
}

func TestReenqueueStuckBuckets_SilentWorker(t *testing.T) {
	f := newFixture("a", "b")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 0, entryOne)})
	f.mustDequeue(t, "r1", "a")

	f.clock.Advance(reportAliveInterval + time.Second)
	f.tracker.MarkAlive("b")

	assert.Equal(t, api.BucketId("bucket"), f.mustDequeue(t, "r2", "b").BucketId)
	_, err := f.accept(testingResult("bucket", passed(entryOne)), "r1", "a")
	assert.Error(t, err)
}

func TestReenqueueStuckBuckets_WorkerNoLongerReportsBucket(t *testing.T) {
	f := newFixture("a")
	f.queue.Enqueue([]*api.Bucket{testBucket("bucket", 0, entryOne)})
	f.mustDequeue(t, "r1", "a")

	assert.Empty(t, f.queue.ReenqueueStuckBuckets())

	f.clock.Advance(reportAliveInterval)
	f.tracker.SetBucketIdsBeingProcessed("a", nil)

	stuck := f.queue.ReenqueueStuckBuckets()
	require.Len(t, stuck, 1)
	assert.Equal(t, api.WorkerId("a"), stuck[0].WorkerId)
	assert.Equal(t, 1, f.queue.RunningQueueState().EnqueuedBucketCount)
	assert.Equal(t, 0, f.queue.RunningQueueState().DequeuedBucketCount)
}

func TestClear(t *testing.T) {
	f := newFixture("a")
	f.queue.Enqueue([]*api.Bucket{testBucket("b1", 0, entryOne), testBucket("b2", 0, entryTwo)})
	f.mustDequeue(t, "r1", "a")

	f.queue.Clear()

	assert.True(t, f.queue.IsDepleted())
	assert.False(t, f.tracker.IsProcessingBucket("a", "b1"))
}
