package bucketqueue

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testdispatch/internal/common/dispatcherrors"
	"github.com/G-Research/testdispatch/internal/common/util"
	"github.com/G-Research/testdispatch/internal/queueserver/aliveness"
	"github.com/G-Research/testdispatch/internal/queueserver/repository"
	"github.com/G-Research/testdispatch/pkg/api"
)

type Config struct {
	CheckAgainTimeInterval time.Duration
	// When set, workers asking an empty queue are told to check again later instead of
	// being told the queue is empty, so they stay around for jobs scheduled later.
	WorkersStayAliveWhenQueueIsEmpty bool
}

type jobQueue struct {
	job      api.PrioritizedJob
	sequence uint64
	queue    *BucketQueue
}

// BalancingBucketQueue holds one BucketQueue per job and picks which job serves a worker.
// The job map is guarded by its own lock; every change to a job's buckets goes through the
// synchronised methods of its BucketQueue.
type BalancingBucketQueue struct {
	mu           sync.RWMutex
	jobs         map[api.JobId]*jobQueue
	nextSequence uint64

	config          Config
	workerAliveness WorkerAliveness
	results         repository.JobResultsRepository
	idGenerator     util.IdGenerator
	clock           util.Clock
}

func NewBalancingBucketQueue(
	config Config,
	workerAliveness WorkerAliveness,
	results repository.JobResultsRepository,
	idGenerator util.IdGenerator,
	clock util.Clock,
) *BalancingBucketQueue {
	return &BalancingBucketQueue{
		jobs:            map[api.JobId]*jobQueue{},
		config:          config,
		workerAliveness: workerAliveness,
		results:         results,
		idGenerator:     idGenerator,
		clock:           clock,
	}
}

// Enqueue adds buckets to the job's queue, creating the job on first use.
// The priority of an existing job is not changed.
func (b *BalancingBucketQueue) Enqueue(job api.PrioritizedJob, buckets []*api.Bucket) {
	b.mu.Lock()
	existing, exists := b.jobs[job.JobId]
	if !exists {
		existing = &jobQueue{
			job:      job,
			sequence: b.nextSequence,
			queue:    NewBucketQueue(b.workerAliveness, b.config.CheckAgainTimeInterval, b.idGenerator, b.clock),
		}
		b.nextSequence++
		b.jobs[job.JobId] = existing
		log.WithField("job", job.JobId).Infof("Created queue with priority %d", job.Priority)
	}
	b.mu.Unlock()

	existing.queue.Enqueue(buckets)
}

// Dequeue serves jobs by descending priority, then by creation order. A worker that cannot take
// any bucket of a job, because it already failed them, may still be served by a later job.
func (b *BalancingBucketQueue) Dequeue(requestId api.RequestId, workerId api.WorkerId) DequeueResult {
	switch b.workerAliveness.Status(workerId) {
	case aliveness.Blocked:
		return DequeueResult{Kind: api.WorkerIsBlockedKind}
	case aliveness.Alive:
	default:
		return DequeueResult{Kind: api.WorkerNotAliveKind}
	}

	queues := b.sortedQueues()
	for _, jq := range queues {
		if jq.queue.HasLease(requestId, workerId) {
			return jq.queue.Dequeue(requestId, workerId)
		}
	}

	var firstNonEmpty *DequeueResult
	for _, jq := range queues {
		result := jq.queue.Dequeue(requestId, workerId)
		switch result.Kind {
		case api.DequeuedBucketKind, api.WorkerIsBlockedKind, api.WorkerNotAliveKind:
			return result
		case api.QueueIsEmptyKind:
			continue
		}
		if firstNonEmpty == nil {
			firstNonEmpty = &result
		}
	}
	if firstNonEmpty != nil {
		return *firstNonEmpty
	}
	if b.config.WorkersStayAliveWhenQueueIsEmpty {
		return DequeueResult{Kind: api.CheckAgainLaterKind, CheckAfter: b.config.CheckAgainTimeInterval}
	}
	return DequeueResult{Kind: api.QueueIsEmptyKind}
}

// Accept hands the result to the job holding the lease. Final results are stored before the
// lease is released, so a storage error leaves the bucket leased to the worker.
func (b *BalancingBucketQueue) Accept(result api.TestingResult, requestId api.RequestId, workerId api.WorkerId) (*AcceptResult, error) {
	for _, jq := range b.sortedQueues() {
		if !jq.queue.HasLease(requestId, workerId) {
			continue
		}
		jobId := jq.job.JobId
		return jq.queue.Accept(result, requestId, workerId, func(collected api.TestingResult) error {
			return errors.WithMessagef(b.results.Append(jobId, collected), "error storing results of bucket %s", result.BucketId)
		})
	}
	return nil, &dispatcherrors.ErrNoDequeuedBucket{
		RequestId: string(requestId),
		WorkerId:  string(workerId),
		BucketId:  string(result.BucketId),
	}
}

func (b *BalancingBucketQueue) State(jobId api.JobId) (api.JobState, error) {
	jq, err := b.jobQueue(jobId)
	if err != nil {
		return api.JobState{}, err
	}
	return api.JobState{JobId: jobId, QueueState: jq.queue.RunningQueueState()}, nil
}

func (b *BalancingBucketQueue) Results(jobId api.JobId) (api.JobResults, error) {
	if _, err := b.jobQueue(jobId); err != nil {
		return api.JobResults{}, err
	}
	results, err := b.results.Results(jobId)
	if err != nil {
		return api.JobResults{}, err
	}
	return api.JobResults{JobId: jobId, TestingResults: results}, nil
}

func (b *BalancingBucketQueue) Delete(jobId api.JobId) error {
	b.mu.Lock()
	jq, exists := b.jobs[jobId]
	delete(b.jobs, jobId)
	b.mu.Unlock()

	if !exists {
		return &dispatcherrors.ErrNotFound{Type: "job", Value: string(jobId)}
	}
	jq.queue.Clear()
	log.WithField("job", jobId).Info("Deleted job")
	return b.results.Delete(jobId)
}

// OngoingJobIds returns the jobs that still have enqueued or dequeued buckets.
func (b *BalancingBucketQueue) OngoingJobIds() []api.JobId {
	ids := []api.JobId{}
	for _, jq := range b.sortedQueues() {
		if !jq.queue.IsDepleted() {
			ids = append(ids, jq.job.JobId)
		}
	}
	return ids
}

func (b *BalancingBucketQueue) JobIds() []api.JobId {
	ids := []api.JobId{}
	for _, jq := range b.sortedQueues() {
		ids = append(ids, jq.job.JobId)
	}
	return ids
}

func (b *BalancingBucketQueue) IsDepleted() bool {
	return len(b.OngoingJobIds()) == 0
}

// ReenqueueStuckBuckets sweeps every job and returns the number of buckets put back.
func (b *BalancingBucketQueue) ReenqueueStuckBuckets() int {
	count := 0
	for _, jq := range b.sortedQueues() {
		count += len(jq.queue.ReenqueueStuckBuckets())
	}
	return count
}

func (b *BalancingBucketQueue) QueueStates() map[api.JobId]api.RunningQueueState {
	states := map[api.JobId]api.RunningQueueState{}
	for _, jq := range b.sortedQueues() {
		states[jq.job.JobId] = jq.queue.RunningQueueState()
	}
	return states
}

func (b *BalancingBucketQueue) jobQueue(jobId api.JobId) (*jobQueue, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	jq, exists := b.jobs[jobId]
	if !exists {
		return nil, &dispatcherrors.ErrNotFound{Type: "job", Value: string(jobId)}
	}
	return jq, nil
}

func (b *BalancingBucketQueue) sortedQueues() []*jobQueue {
	b.mu.RLock()
	queues := make([]*jobQueue, 0, len(b.jobs))
	for _, jq := range b.jobs {
		queues = append(queues, jq)
	}
	b.mu.RUnlock()

	sort.Slice(queues, func(i, j int) bool {
		if queues[i].job.Priority != queues[j].job.Priority {
			return queues[i].job.Priority > queues[j].job.Priority
		}
		return queues[i].sequence < queues[j].sequence
	})
	return queues
}
