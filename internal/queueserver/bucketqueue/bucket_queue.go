package bucketqueue

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testdispatch/internal/common/dispatcherrors"
	"github.com/G-Research/testdispatch/internal/common/util"
	"github.com/G-Research/testdispatch/internal/queueserver/aliveness"
	"github.com/G-Research/testdispatch/pkg/api"
)

// WorkerAliveness is the part of the aliveness tracker queues depend on.
type WorkerAliveness interface {
	Status(workerId api.WorkerId) aliveness.Status
	AliveWorkerIds() []api.WorkerId
	IsProcessingBucket(workerId api.WorkerId, bucketId api.BucketId) bool
	DidDequeueBucket(workerId api.WorkerId, bucketId api.BucketId)
	DidAcceptBucketResult(workerId api.WorkerId, bucketId api.BucketId)
	ForgetBucket(workerId api.WorkerId, bucketId api.BucketId)
}

// BucketQueue owns the buckets of one job. Every method takes the queue lock; the aliveness
// tracker is only ever called while holding it, never the other way round.
type BucketQueue struct {
	mu                     sync.Mutex
	enqueued               []EnqueuedBucket
	dequeued               map[leaseKey]*DequeuedBucket
	history                *TestHistoryTracker
	workerAliveness        WorkerAliveness
	checkAgainTimeInterval time.Duration
	idGenerator            util.IdGenerator
	clock                  util.Clock
}

func NewBucketQueue(
	workerAliveness WorkerAliveness,
	checkAgainTimeInterval time.Duration,
	idGenerator util.IdGenerator,
	clock util.Clock,
) *BucketQueue {
	return &BucketQueue{
		enqueued:               []EnqueuedBucket{},
		dequeued:               map[leaseKey]*DequeuedBucket{},
		history:                NewTestHistoryTracker(),
		workerAliveness:        workerAliveness,
		checkAgainTimeInterval: checkAgainTimeInterval,
		idGenerator:            idGenerator,
		clock:                  clock,
	}
}

func (q *BucketQueue) Enqueue(buckets []*api.Bucket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, bucket := range buckets {
		positions := make([]int, len(bucket.TestEntryConfigurations))
		for i := range positions {
			positions[i] = i
		}
		q.enqueueLocked(bucket, positions)
	}
}

// Dequeue leases the oldest enqueued bucket the worker is a preferred worker for.
// A repeated request id of the same worker returns the lease it already holds.
func (q *BucketQueue) Dequeue(requestId api.RequestId, workerId api.WorkerId) DequeueResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.reenqueueStuckBucketsLocked()

	switch q.workerAliveness.Status(workerId) {
	case aliveness.Blocked:
		return DequeueResult{Kind: api.WorkerIsBlockedKind}
	case aliveness.Alive:
	default:
		return DequeueResult{Kind: api.WorkerNotAliveKind}
	}

	if lease, exists := q.dequeued[leaseKey{requestId: requestId, workerId: workerId}]; exists {
		return DequeueResult{Kind: api.DequeuedBucketKind, DequeuedBucket: lease}
	}

	if len(q.enqueued) == 0 {
		if len(q.dequeued) == 0 {
			return DequeueResult{Kind: api.QueueIsEmptyKind}
		}
		return q.checkAgainLater()
	}

	aliveWorkers := q.workerAliveness.AliveWorkerIds()
	chosen := -1
	for i, candidate := range q.enqueued {
		if chosen >= 0 && !candidate.EnqueueTimestamp.Before(q.enqueued[chosen].EnqueueTimestamp) {
			continue
		}
		history := q.history.BucketAttemptHistory(candidate)
		if IsPreferredWorker(workerId, aliveWorkers, history) {
			chosen = i
		}
	}
	if chosen < 0 {
		return q.checkAgainLater()
	}

	enqueued := q.enqueued[chosen]
	q.enqueued = append(q.enqueued[:chosen], q.enqueued[chosen+1:]...)
	lease := &DequeuedBucket{
		EnqueuedBucket: enqueued,
		WorkerId:       workerId,
		RequestId:      requestId,
	}
	q.dequeued[leaseKey{requestId: requestId, workerId: workerId}] = lease
	q.workerAliveness.DidDequeueBucket(workerId, enqueued.Bucket.BucketId)
	log.WithField("worker", workerId).Debugf("Dequeued bucket %s for request %s", enqueued.Bucket.BucketId, requestId)
	return DequeueResult{Kind: api.DequeuedBucketKind, DequeuedBucket: lease}
}

// HasLease reports whether the queue holds a lease for the request.
func (q *BucketQueue) HasLease(requestId api.RequestId, workerId api.WorkerId) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.dequeued[leaseKey{requestId: requestId, workerId: workerId}]
	return exists
}

// Accept reconciles a testing result with the lease it was produced for. Failed and lost
// configurations are enqueued again as a bucket with the same id while their retry budget lasts.
// Configurations with a final outcome are handed to collect before the lease is released; when
// collect fails the queue is left unchanged so the worker can push the result again.
// The k-th result for a test belongs to the k-th configuration of that test in the lease.
func (q *BucketQueue) Accept(
	result api.TestingResult,
	requestId api.RequestId,
	workerId api.WorkerId,
	collect ResultCollector,
) (*AcceptResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := leaseKey{requestId: requestId, workerId: workerId}
	lease, exists := q.dequeued[key]
	if !exists {
		return nil, &dispatcherrors.ErrNoDequeuedBucket{
			RequestId: string(requestId),
			WorkerId:  string(workerId),
			BucketId:  string(result.BucketId),
		}
	}
	bucket := lease.EnqueuedBucket.Bucket
	if result.BucketId != bucket.BucketId {
		return nil, &dispatcherrors.ErrNoDequeuedBucket{
			RequestId: string(requestId),
			WorkerId:  string(workerId),
			BucketId:  string(result.BucketId),
			Message:   "request holds bucket " + string(bucket.BucketId),
		}
	}

	resultsByEntry := map[api.TestEntry][]api.TestEntryResult{}
	for _, entryResult := range result.UnfilteredResults {
		if !bucket.Contains(entryResult.TestEntry) {
			return nil, &dispatcherrors.ErrInvalidArgument{
				Name:    "testingResult",
				Value:   entryResult.TestEntry,
				Message: "test entry is not part of bucket " + string(bucket.BucketId),
			}
		}
		resultsByEntry[entryResult.TestEntry] = append(resultsByEntry[entryResult.TestEntry], entryResult)
	}

	type verdict struct {
		position      int
		configuration api.TestEntryConfiguration
		result        api.TestEntryResult
		outcome       Outcome
		failures      int
		retry         bool
	}
	verdicts := make([]verdict, 0, len(bucket.TestEntryConfigurations))
	collected := []api.TestEntryResult{}
	for i, configuration := range bucket.TestEntryConfigurations {
		entry := configuration.TestEntry
		v := verdict{
			position:      lease.EnqueuedBucket.Positions[i],
			configuration: configuration,
			result:        api.LostTestEntryResult(entry),
		}
		if pending := resultsByEntry[entry]; len(pending) > 0 {
			v.result = pending[0]
			resultsByEntry[entry] = pending[1:]
		}
		v.outcome = OutcomeOf(v.result)
		if v.outcome != Succeeded {
			v.failures = q.history.FailureCount(bucket.BucketId, v.position) + 1
			v.retry = uint(v.failures) <= configuration.TestExecutionBehavior.NumberOfRetries
		}
		if !v.retry {
			collected = append(collected, v.result)
		}
		verdicts = append(verdicts, v)
	}

	toCollect := api.TestingResult{
		BucketId:          bucket.BucketId,
		TestDestination:   result.TestDestination,
		UnfilteredResults: collected,
	}
	if collect != nil && len(collected) > 0 {
		if err := collect(toCollect); err != nil {
			return nil, err
		}
	}

	delete(q.dequeued, key)
	q.workerAliveness.DidAcceptBucketResult(workerId, bucket.BucketId)

	now := q.clock.Now()
	logger := log.WithField("worker", workerId)
	toReenqueue := []api.TestEntryConfiguration{}
	reenqueuedPositions := []int{}
	reenqueuedEntries := []api.TestEntry{}
	for _, v := range verdicts {
		q.history.Record(bucket.BucketId, v.position, Attempt{WorkerId: workerId, Outcome: v.outcome, Timestamp: now})
		if !v.retry {
			continue
		}
		logger.Infof("Test %s %s in bucket %s, attempt %d of %d will be retried",
			v.configuration.TestEntry, v.outcome, bucket.BucketId, v.failures, v.configuration.TestExecutionBehavior.NumberOfRetries+1)
		toReenqueue = append(toReenqueue, v.configuration)
		reenqueuedPositions = append(reenqueuedPositions, v.position)
		reenqueuedEntries = append(reenqueuedEntries, v.configuration.TestEntry)
	}
	for entry, extra := range resultsByEntry {
		if len(extra) > 0 {
			logger.Warnf("Ignoring %d extra results for test %s in bucket %s", len(extra), entry, bucket.BucketId)
		}
	}

	if len(toReenqueue) > 0 {
		q.enqueueLocked(bucket.WithConfigurations(toReenqueue), reenqueuedPositions)
	}

	return &AcceptResult{
		DequeuedBucket:         *lease,
		TestingResultToCollect: toCollect,
		Reenqueued:             reenqueuedEntries,
	}, nil
}

// ReenqueueStuckBuckets returns leases held by workers that are no longer alive, or that no
// longer report the bucket as being processed, to the queue.
func (q *BucketQueue) ReenqueueStuckBuckets() []DequeuedBucket {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reenqueueStuckBucketsLocked()
}

func (q *BucketQueue) reenqueueStuckBucketsLocked() []DequeuedBucket {
	stuck := []DequeuedBucket{}
	for key, lease := range q.dequeued {
		bucketId := lease.EnqueuedBucket.Bucket.BucketId
		status := q.workerAliveness.Status(lease.WorkerId)
		if status == aliveness.Alive && q.workerAliveness.IsProcessingBucket(lease.WorkerId, bucketId) {
			continue
		}
		log.WithField("worker", lease.WorkerId).Warnf(
			"Reenqueueing bucket %s: worker is %s and processing it is %t",
			bucketId, status, q.workerAliveness.IsProcessingBucket(lease.WorkerId, bucketId))
		delete(q.dequeued, key)
		q.workerAliveness.ForgetBucket(lease.WorkerId, bucketId)
		q.enqueueLocked(lease.EnqueuedBucket.Bucket, lease.EnqueuedBucket.Positions)
		stuck = append(stuck, *lease)
	}
	sort.Slice(stuck, func(i, j int) bool {
		return stuck[i].EnqueuedBucket.UniqueIdentifier < stuck[j].EnqueuedBucket.UniqueIdentifier
	})
	return stuck
}

func (q *BucketQueue) RunningQueueState() api.RunningQueueState {
	q.mu.Lock()
	defer q.mu.Unlock()

	state := api.RunningQueueState{
		EnqueuedBucketCount: len(q.enqueued),
		DequeuedBucketCount: len(q.dequeued),
		EnqueuedTests:       []api.TestEntry{},
		DequeuedTests:       []api.TestEntry{},
	}
	for _, enqueued := range q.enqueued {
		state.EnqueuedTests = append(state.EnqueuedTests, enqueued.Bucket.TestEntries()...)
	}
	for _, lease := range q.sortedLeasesLocked() {
		state.DequeuedTests = append(state.DequeuedTests, lease.EnqueuedBucket.Bucket.TestEntries()...)
	}
	return state
}

func (q *BucketQueue) IsDepleted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued) == 0 && len(q.dequeued) == 0
}

// Clear drops every bucket and lease. Used when the owning job is deleted.
func (q *BucketQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, lease := range q.dequeued {
		q.workerAliveness.ForgetBucket(lease.WorkerId, lease.EnqueuedBucket.Bucket.BucketId)
	}
	q.enqueued = []EnqueuedBucket{}
	q.dequeued = map[leaseKey]*DequeuedBucket{}
	q.history = NewTestHistoryTracker()
}

func (q *BucketQueue) enqueueLocked(bucket *api.Bucket, positions []int) {
	q.enqueued = append(q.enqueued, EnqueuedBucket{
		Bucket:           bucket,
		EnqueueTimestamp: q.clock.Now(),
		UniqueIdentifier: q.idGenerator.Generate(),
		Positions:        positions,
	})
}

func (q *BucketQueue) checkAgainLater() DequeueResult {
	return DequeueResult{Kind: api.CheckAgainLaterKind, CheckAfter: q.checkAgainTimeInterval}
}

func (q *BucketQueue) sortedLeasesLocked() []*DequeuedBucket {
	leases := make([]*DequeuedBucket, 0, len(q.dequeued))
	for _, lease := range q.dequeued {
		leases = append(leases, lease)
	}
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].EnqueuedBucket.UniqueIdentifier < leases[j].EnqueuedBucket.UniqueIdentifier
	})
	return leases
}
