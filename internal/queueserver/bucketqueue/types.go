package bucketqueue

import (
	"time"

	"github.com/G-Research/testdispatch/pkg/api"
)

// EnqueuedBucket is a bucket waiting in a queue. UniqueIdentifier differs between re-enqueues
// of the same bucket. Positions holds, for every configuration of Bucket, its position in the
// bucket as first enqueued; re-enqueued buckets carry a subset of the configurations.
type EnqueuedBucket struct {
	Bucket           *api.Bucket
	EnqueueTimestamp time.Time
	UniqueIdentifier string
	Positions        []int
}

// DequeuedBucket is a bucket leased to a worker for one request.
type DequeuedBucket struct {
	EnqueuedBucket EnqueuedBucket
	WorkerId       api.WorkerId
	RequestId      api.RequestId
}

type DequeueResult struct {
	Kind           api.DequeueResultKind
	DequeuedBucket *DequeuedBucket
	CheckAfter     time.Duration
}

func (r DequeueResult) ToFetchBucketResponse() *api.FetchBucketResponse {
	response := &api.FetchBucketResponse{Kind: r.Kind, CheckAfter: r.CheckAfter}
	if r.DequeuedBucket != nil {
		response.Bucket = r.DequeuedBucket.EnqueuedBucket.Bucket
	}
	return response
}

type AcceptResult struct {
	DequeuedBucket DequeuedBucket
	// TestingResultToCollect holds entries that reached a final outcome. It is empty when every
	// entry was enqueued again.
	TestingResultToCollect api.TestingResult
	// Reenqueued holds the entries that will be attempted again.
	Reenqueued []api.TestEntry
}

// ResultCollector stores the final results of a bucket. An error leaves the queue unchanged.
type ResultCollector func(result api.TestingResult) error

type leaseKey struct {
	requestId api.RequestId
	workerId  api.WorkerId
}
