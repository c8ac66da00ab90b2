package bucketqueue

import (
	"sort"
	"time"

	"github.com/G-Research/testdispatch/pkg/api"
)

type WorkerFailures struct {
	Count       int
	LastFailure time.Time
}

// BucketAttemptHistory maps workers to their failures at one bucket. Workers without failures
// may be absent.
type BucketAttemptHistory map[api.WorkerId]WorkerFailures

// RankWorkers orders workers by preference for a bucket. Workers that failed the bucket fewer
// times come first. Among workers with the same number of failures, the one whose last failure
// is oldest comes last. Remaining ties are broken by worker id.
func RankWorkers(eligible []api.WorkerId, history BucketAttemptHistory) []api.WorkerId {
	ranked := append([]api.WorkerId{}, eligible...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := history[ranked[i]], history[ranked[j]]
		if a.Count != b.Count {
			return a.Count < b.Count
		}
		if !a.LastFailure.Equal(b.LastFailure) {
			return a.LastFailure.After(b.LastFailure)
		}
		return ranked[i] < ranked[j]
	})
	return ranked
}

// IsPreferredWorker reports whether workerId belongs to the leading tier of RankWorkers, that is
// whether no eligible worker failed the bucket fewer times. The worker itself is always eligible.
func IsPreferredWorker(workerId api.WorkerId, eligible []api.WorkerId, history BucketAttemptHistory) bool {
	ranked := RankWorkers(append([]api.WorkerId{workerId}, eligible...), history)
	return history[workerId].Count == history[ranked[0]].Count
}
