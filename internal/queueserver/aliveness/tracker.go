package aliveness

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testdispatch/internal/common/util"
	"github.com/G-Research/testdispatch/pkg/api"
)

type Status int

const (
	NotRegistered Status = iota
	Alive
	Silent
	Blocked
)

func (s Status) String() string {
	switch s {
	case NotRegistered:
		return "notRegistered"
	case Alive:
		return "alive"
	case Silent:
		return "silent"
	case Blocked:
		return "blocked"
	}
	return "unknown"
}

// WorkerAliveness is a snapshot of what the tracker knows about one worker.
type WorkerAliveness struct {
	Status                  Status
	LastSeen                time.Time
	BucketIdsBeingProcessed []api.BucketId
}

type workerRecord struct {
	blocked  bool
	lastSeen time.Time
	// bucket id -> time of dequeue
	inFlight map[api.BucketId]time.Time
}

// Tracker keeps per worker heartbeat and in-flight bucket bookkeeping.
// A worker becomes silent when it has not been seen for longer than the report interval plus
// the allowance. Blocking is permanent for the lifetime of the tracker.
type Tracker struct {
	mu                  sync.Mutex
	clock               util.Clock
	reportAliveInterval time.Duration
	allowance           time.Duration
	workers             map[api.WorkerId]*workerRecord
}

func NewTracker(reportAliveInterval time.Duration, allowance time.Duration, clock util.Clock) *Tracker {
	return &Tracker{
		clock:               clock,
		reportAliveInterval: reportAliveInterval,
		allowance:           allowance,
		workers:             map[api.WorkerId]*workerRecord{},
	}
}

func (t *Tracker) ReportAliveInterval() time.Duration {
	return t.reportAliveInterval
}

// DidRegisterWorker marks the worker alive. A worker registering again has restarted,
// so buckets it held before are forgotten.
func (t *Tracker) DidRegisterWorker(workerId api.WorkerId) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, exists := t.workers[workerId]
	if !exists {
		record = &workerRecord{}
		t.workers[workerId] = record
	}
	if len(record.inFlight) > 0 {
		log.WithField("worker", workerId).Warnf("Worker re-registered while holding %d buckets", len(record.inFlight))
	}
	record.inFlight = map[api.BucketId]time.Time{}
	record.lastSeen = t.clock.Now()
}

func (t *Tracker) MarkAlive(workerId api.WorkerId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if record, ok := t.workers[workerId]; ok {
		record.lastSeen = t.clock.Now()
	}
}

// SetBucketIdsBeingProcessed reconciles the in-flight set with a heartbeat. Buckets missing from
// the report are dropped only if they were dequeued at least one report interval ago, since the
// report may have been composed before the dequeue response reached the worker.
func (t *Tracker) SetBucketIdsBeingProcessed(workerId api.WorkerId, bucketIds []api.BucketId) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.workers[workerId]
	if !ok {
		return
	}
	now := t.clock.Now()
	record.lastSeen = now

	reported := make(map[api.BucketId]bool, len(bucketIds))
	for _, id := range bucketIds {
		reported[id] = true
	}
	for id, dequeuedAt := range record.inFlight {
		if !reported[id] && now.Sub(dequeuedAt) >= t.reportAliveInterval {
			log.WithField("worker", workerId).Warnf("Worker no longer reports bucket %s as being processed", id)
			delete(record.inFlight, id)
		}
	}
}

func (t *Tracker) DidDequeueBucket(workerId api.WorkerId, bucketId api.BucketId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if record, ok := t.workers[workerId]; ok {
		now := t.clock.Now()
		record.inFlight[bucketId] = now
		record.lastSeen = now
	}
}

func (t *Tracker) DidAcceptBucketResult(workerId api.WorkerId, bucketId api.BucketId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if record, ok := t.workers[workerId]; ok {
		delete(record.inFlight, bucketId)
		record.lastSeen = t.clock.Now()
	}
}

// ForgetBucket drops a bucket from the in-flight set without counting as contact from the worker.
func (t *Tracker) ForgetBucket(workerId api.WorkerId, bucketId api.BucketId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if record, ok := t.workers[workerId]; ok {
		delete(record.inFlight, bucketId)
	}
}

func (t *Tracker) BlockWorker(workerId api.WorkerId) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, exists := t.workers[workerId]
	if !exists {
		record = &workerRecord{inFlight: map[api.BucketId]time.Time{}}
		t.workers[workerId] = record
	}
	if !record.blocked {
		log.WithField("worker", workerId).Warn("Blocking worker")
	}
	record.blocked = true
	record.inFlight = map[api.BucketId]time.Time{}
}

func (t *Tracker) Aliveness(workerId api.WorkerId) WorkerAliveness {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.workers[workerId]
	if !ok {
		return WorkerAliveness{Status: NotRegistered, BucketIdsBeingProcessed: []api.BucketId{}}
	}
	ids := make([]api.BucketId, 0, len(record.inFlight))
	for id := range record.inFlight {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return WorkerAliveness{
		Status:                  t.statusLocked(record),
		LastSeen:                record.lastSeen,
		BucketIdsBeingProcessed: ids,
	}
}

func (t *Tracker) Status(workerId api.WorkerId) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.workers[workerId]
	if !ok {
		return NotRegistered
	}
	return t.statusLocked(record)
}

func (t *Tracker) IsProcessingBucket(workerId api.WorkerId, bucketId api.BucketId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.workers[workerId]
	if !ok {
		return false
	}
	_, inFlight := record.inFlight[bucketId]
	return inFlight
}

func (t *Tracker) AliveWorkerIds() []api.WorkerId {
	return t.workerIdsWithStatus(Alive)
}

func (t *Tracker) SilentWorkerIds() []api.WorkerId {
	return t.workerIdsWithStatus(Silent)
}

func (t *Tracker) BlockedWorkerIds() []api.WorkerId {
	return t.workerIdsWithStatus(Blocked)
}

func (t *Tracker) HasAnyAliveWorker() bool {
	return len(t.AliveWorkerIds()) > 0
}

// StatusCounts returns the number of known workers per status.
func (t *Tracker) StatusCounts() map[Status]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := map[Status]int{Alive: 0, Silent: 0, Blocked: 0}
	for _, record := range t.workers {
		counts[t.statusLocked(record)]++
	}
	return counts
}

func (t *Tracker) workerIdsWithStatus(status Status) []api.WorkerId {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := []api.WorkerId{}
	for id, record := range t.workers {
		if t.statusLocked(record) == status {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *Tracker) statusLocked(record *workerRecord) Status {
	if record.blocked {
		return Blocked
	}
	if t.clock.Now().Sub(record.lastSeen) > t.reportAliveInterval+t.allowance {
		return Silent
	}
	return Alive
}
