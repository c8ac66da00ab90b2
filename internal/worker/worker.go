// Package worker implements the distributed worker: it registers with a queue server, pulls
// buckets, runs them locally and pushes the results back.
package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testdispatch/internal/common/dispatcherrors"
	"github.com/G-Research/testdispatch/internal/common/util"
	"github.com/G-Research/testdispatch/pkg/api"
)

const defaultCheckAgainInterval = 10 * time.Second

var ErrWorkerNotAlive = errors.New("queue server considers this worker not alive")

// QueueClient is the part of the queue server API a worker uses.
type QueueClient interface {
	RegisterWorker(ctx context.Context, workerId api.WorkerId) (api.WorkerConfiguration, error)
	FetchBucket(ctx context.Context, request *api.FetchBucketRequest) (*api.FetchBucketResponse, error)
	PushResult(ctx context.Context, request *api.PushResultRequest) (api.BucketId, error)
	ReportAliveness(ctx context.Context, request *api.ReportAlivenessRequest) (api.AlivenessResponseKind, error)
}

// Worker is the bucket source and result sink of the local scheduler on a worker machine.
// It remembers the request id each bucket was fetched with, since results are accepted only
// for the request that leased the bucket.
type Worker struct {
	workerId  api.WorkerId
	client    QueueClient
	signature api.RequestSignature

	mu       sync.Mutex
	inFlight map[api.BucketId]api.RequestId
}

func NewWorker(workerId api.WorkerId, client QueueClient) *Worker {
	return &Worker{
		workerId: workerId,
		client:   client,
		inFlight: map[api.BucketId]api.RequestId{},
	}
}

func (w *Worker) Register(ctx context.Context) (api.WorkerConfiguration, error) {
	configuration, err := w.client.RegisterWorker(ctx, w.workerId)
	if err != nil {
		return api.WorkerConfiguration{}, errors.WithMessagef(err, "error registering worker %s", w.workerId)
	}
	w.mu.Lock()
	w.signature = configuration.RequestSignature
	w.mu.Unlock()
	log.WithField("worker", w.workerId).Infof("Registered with %d simulators", configuration.NumberOfSimulators)
	return configuration, nil
}

// NextBucket polls the queue server until it hands out a bucket or reports the queue empty.
func (w *Worker) NextBucket(ctx context.Context) (*api.Bucket, error) {
	for {
		request := &api.FetchBucketRequest{
			RequestId:        api.RequestId(util.NewUUID()),
			WorkerId:         w.workerId,
			RequestSignature: w.requestSignature(),
		}
		response, err := w.client.FetchBucket(ctx, request)
		if err != nil {
			return nil, errors.WithMessage(err, "error fetching bucket")
		}

		switch response.Kind {
		case api.DequeuedBucketKind:
			if response.Bucket == nil {
				return nil, errors.Errorf("queue server returned no bucket for request %s", request.RequestId)
			}
			w.mu.Lock()
			w.inFlight[response.Bucket.BucketId] = request.RequestId
			w.mu.Unlock()
			return response.Bucket, nil
		case api.QueueIsEmptyKind:
			log.WithField("worker", w.workerId).Info("Queue is empty")
			return nil, nil
		case api.CheckAgainLaterKind:
			checkAfter := response.CheckAfter
			if checkAfter <= 0 {
				checkAfter = defaultCheckAgainInterval
			}
			log.WithField("worker", w.workerId).Debugf("Checking again in %s", checkAfter)
			select {
			case <-ctx.Done():
				return nil, errors.WithStack(ctx.Err())
			case <-time.After(checkAfter):
			}
		case api.WorkerIsBlockedKind:
			return nil, &dispatcherrors.ErrWorkerBlocked{WorkerId: string(w.workerId)}
		case api.WorkerNotAliveKind:
			return nil, ErrWorkerNotAlive
		default:
			return nil, errors.Errorf("unknown fetch bucket response kind %q", response.Kind)
		}
	}
}

func (w *Worker) DidRunBucket(ctx context.Context, bucket *api.Bucket, result api.TestingResult) error {
	w.mu.Lock()
	requestId, ok := w.inFlight[bucket.BucketId]
	w.mu.Unlock()
	if !ok {
		return errors.Errorf("bucket %s was not fetched by this worker", bucket.BucketId)
	}
	defer func() {
		w.mu.Lock()
		delete(w.inFlight, bucket.BucketId)
		w.mu.Unlock()
	}()

	bucketId, err := w.client.PushResult(ctx, &api.PushResultRequest{
		WorkerId:         w.workerId,
		RequestId:        requestId,
		RequestSignature: w.requestSignature(),
		TestingResult:    result,
	})
	if err != nil {
		return errors.WithMessagef(err, "error pushing result of bucket %s", bucket.BucketId)
	}
	if bucketId != bucket.BucketId {
		return errors.Errorf("queue server accepted result of bucket %s for bucket %s", bucketId, bucket.BucketId)
	}
	log.WithField("worker", w.workerId).Infof(
		"Pushed result of bucket %s: %d succeeded, %d failed, %d lost",
		bucket.BucketId, len(result.SuccessfulTests()), len(result.FailedTests()), len(result.LostTests()),
	)
	return nil
}

// ReportAliveness sends the heartbeat with the buckets currently being run.
func (w *Worker) ReportAliveness(ctx context.Context) error {
	kind, err := w.client.ReportAliveness(ctx, &api.ReportAlivenessRequest{
		WorkerId:                w.workerId,
		RequestSignature:        w.requestSignature(),
		BucketIdsBeingProcessed: w.BucketIdsBeingProcessed(),
	})
	if err != nil {
		return errors.WithMessage(err, "error reporting aliveness")
	}
	switch kind {
	case api.AlivenessAccepted:
		return nil
	case api.AlivenessBlocked:
		return &dispatcherrors.ErrWorkerBlocked{WorkerId: string(w.workerId)}
	case api.AlivenessNotAlive:
		return ErrWorkerNotAlive
	}
	return errors.Errorf("unknown aliveness response kind %q", kind)
}

func (w *Worker) BucketIdsBeingProcessed() []api.BucketId {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]api.BucketId, 0, len(w.inFlight))
	for id := range w.inFlight {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (w *Worker) requestSignature() api.RequestSignature {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.signature
}
