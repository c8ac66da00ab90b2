package repository

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/G-Research/testdispatch/pkg/api"
)

// ScheduleRequestCache remembers the response to every ScheduleTests request for a while,
// so that a replayed request is answered without scheduling its tests again.
type ScheduleRequestCache struct {
	cache *cache.Cache
}

func NewScheduleRequestCache(expiration time.Duration) *ScheduleRequestCache {
	return &ScheduleRequestCache{
		cache: cache.New(expiration, expiration),
	}
}

func (c *ScheduleRequestCache) Lookup(requestId api.RequestId) (*api.ScheduleTestsResponse, bool) {
	value, found := c.cache.Get(string(requestId))
	if !found {
		return nil, false
	}
	return value.(*api.ScheduleTestsResponse), true
}

func (c *ScheduleRequestCache) Store(requestId api.RequestId, response *api.ScheduleTestsResponse) {
	c.cache.SetDefault(string(requestId), response)
}

type acceptedResultKey struct {
	workerId  api.WorkerId
	requestId api.RequestId
}

// AcceptedResultCache remembers which bucket every recently accepted PushResult request resolved,
// so that a worker retrying a push whose response was lost gets the same answer.
type AcceptedResultCache struct {
	cache *lru.Cache
}

func NewAcceptedResultCache(size int) (*AcceptedResultCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &AcceptedResultCache{cache: c}, nil
}

func (c *AcceptedResultCache) Lookup(workerId api.WorkerId, requestId api.RequestId) (api.BucketId, bool) {
	value, found := c.cache.Get(acceptedResultKey{workerId: workerId, requestId: requestId})
	if !found {
		return "", false
	}
	return value.(api.BucketId), true
}

func (c *AcceptedResultCache) Store(workerId api.WorkerId, requestId api.RequestId, bucketId api.BucketId) {
	c.cache.Add(acceptedResultKey{workerId: workerId, requestId: requestId}, bucketId)
}
