package bucketqueue

import (
	"time"

	"github.com/G-Research/testdispatch/pkg/api"
)

type Outcome int

const (
	Succeeded Outcome = iota
	Failed
	Lost
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Lost:
		return "lost"
	}
	return "unknown"
}

func OutcomeOf(result api.TestEntryResult) Outcome {
	switch {
	case result.IsLost():
		return Lost
	case result.Succeeded():
		return Succeeded
	default:
		return Failed
	}
}

type Attempt struct {
	WorkerId  api.WorkerId
	Outcome   Outcome
	Timestamp time.Time
}

// historyKey identifies one configuration of a bucket by its position, so a test repeated
// within a bucket has a history per occurrence.
type historyKey struct {
	bucketId api.BucketId
	position int
}

// TestHistoryTracker records every attempt at every configuration of every bucket of one queue.
// It is not synchronised, the owning queue serialises access.
type TestHistoryTracker struct {
	histories map[historyKey][]Attempt
}

func NewTestHistoryTracker() *TestHistoryTracker {
	return &TestHistoryTracker{histories: map[historyKey][]Attempt{}}
}

func (h *TestHistoryTracker) Record(bucketId api.BucketId, position int, attempt Attempt) {
	key := historyKey{bucketId: bucketId, position: position}
	h.histories[key] = append(h.histories[key], attempt)
}

func (h *TestHistoryTracker) Attempts(bucketId api.BucketId, position int) []Attempt {
	return h.histories[historyKey{bucketId: bucketId, position: position}]
}

// FailureCount counts failed and lost attempts at the configuration across all workers.
func (h *TestHistoryTracker) FailureCount(bucketId api.BucketId, position int) int {
	count := 0
	for _, attempt := range h.Attempts(bucketId, position) {
		if attempt.Outcome != Succeeded {
			count++
		}
	}
	return count
}

// BucketAttemptHistory summarises, per worker, the failures at the configurations of the bucket.
// A worker's count is the highest failure count it has on any single configuration.
func (h *TestHistoryTracker) BucketAttemptHistory(bucket EnqueuedBucket) BucketAttemptHistory {
	history := BucketAttemptHistory{}
	for _, position := range bucket.Positions {
		perWorker := map[api.WorkerId]WorkerFailures{}
		for _, attempt := range h.Attempts(bucket.Bucket.BucketId, position) {
			if attempt.Outcome == Succeeded {
				continue
			}
			failures := perWorker[attempt.WorkerId]
			failures.Count++
			if attempt.Timestamp.After(failures.LastFailure) {
				failures.LastFailure = attempt.Timestamp
			}
			perWorker[attempt.WorkerId] = failures
		}
		for workerId, failures := range perWorker {
			existing := history[workerId]
			if failures.Count > existing.Count {
				existing.Count = failures.Count
			}
			if failures.LastFailure.After(existing.LastFailure) {
				existing.LastFailure = failures.LastFailure
			}
			history[workerId] = existing
		}
	}
	return history
}
