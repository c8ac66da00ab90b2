package server

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testdispatch/internal/common/dispatcherrors"
	"github.com/G-Research/testdispatch/internal/queueserver/aliveness"
	"github.com/G-Research/testdispatch/internal/queueserver/bucketqueue"
	"github.com/G-Research/testdispatch/internal/queueserver/metrics"
	"github.com/G-Research/testdispatch/internal/queueserver/repository"
	"github.com/G-Research/testdispatch/pkg/api"
)

// QueueServer serves the queue over gRPC. Requests from workers must carry the signature handed
// out at registration, so that workers of a previous server instance cannot push stale results.
type QueueServer struct {
	version              string
	requestSignature     api.RequestSignature
	tracker              *aliveness.Tracker
	queue                *bucketqueue.BalancingBucketQueue
	enqueuer             *TestsEnqueuer
	workerConfigurations *WorkerConfigurations
	acceptedResults      *repository.AcceptedResultCache
}

func NewQueueServer(
	version string,
	requestSignature api.RequestSignature,
	tracker *aliveness.Tracker,
	queue *bucketqueue.BalancingBucketQueue,
	enqueuer *TestsEnqueuer,
	workerConfigurations *WorkerConfigurations,
	acceptedResults *repository.AcceptedResultCache,
) *QueueServer {
	return &QueueServer{
		version:              version,
		requestSignature:     requestSignature,
		tracker:              tracker,
		queue:                queue,
		enqueuer:             enqueuer,
		workerConfigurations: workerConfigurations,
		acceptedResults:      acceptedResults,
	}
}

func (s *QueueServer) RegisterWorker(ctx context.Context, request *api.RegisterWorkerRequest) (*api.RegisterWorkerResponse, error) {
	configuration, err := s.workerConfigurations.Configuration(request.WorkerId)
	if err != nil {
		return nil, err
	}
	if s.tracker.Status(request.WorkerId) == aliveness.Blocked {
		return nil, &dispatcherrors.ErrWorkerBlocked{WorkerId: string(request.WorkerId)}
	}
	s.tracker.DidRegisterWorker(request.WorkerId)
	log.WithField("worker", request.WorkerId).Info("Registered worker")
	return &api.RegisterWorkerResponse{WorkerConfiguration: configuration}, nil
}

func (s *QueueServer) FetchBucket(ctx context.Context, request *api.FetchBucketRequest) (*api.FetchBucketResponse, error) {
	if err := s.checkSignature(request.WorkerId, request.RequestSignature); err != nil {
		return nil, err
	}
	result := s.queue.Dequeue(request.RequestId, request.WorkerId)
	switch result.Kind {
	case api.QueueIsEmptyKind, api.CheckAgainLaterKind:
		s.tracker.MarkAlive(request.WorkerId)
	}
	return result.ToFetchBucketResponse(), nil
}

// PushResult accepts the result of a leased bucket. A push repeated after its acceptance,
// for example because the response was lost, is answered with the same bucket id.
func (s *QueueServer) PushResult(ctx context.Context, request *api.PushResultRequest) (*api.PushResultResponse, error) {
	if err := s.checkSignature(request.WorkerId, request.RequestSignature); err != nil {
		return nil, err
	}
	if bucketId, found := s.acceptedResults.Lookup(request.WorkerId, request.RequestId); found &&
		bucketId == request.TestingResult.BucketId {
		log.WithField("worker", request.WorkerId).Infof("Result of bucket %s was already accepted", bucketId)
		return &api.PushResultResponse{BucketId: bucketId}, nil
	}

	accepted, err := s.queue.Accept(request.TestingResult, request.RequestId, request.WorkerId)
	if err != nil {
		return nil, err
	}
	bucketId := accepted.DequeuedBucket.EnqueuedBucket.Bucket.BucketId
	s.acceptedResults.Store(request.WorkerId, request.RequestId, bucketId)
	metrics.RecordAcceptedResults(len(accepted.TestingResultToCollect.UnfilteredResults), len(accepted.Reenqueued))
	log.WithField("worker", request.WorkerId).Infof(
		"Accepted result of bucket %s: %d results collected, %d tests reenqueued",
		bucketId, len(accepted.TestingResultToCollect.UnfilteredResults), len(accepted.Reenqueued))
	return &api.PushResultResponse{BucketId: bucketId}, nil
}

func (s *QueueServer) ReportAliveness(ctx context.Context, request *api.ReportAlivenessRequest) (*api.ReportAlivenessResponse, error) {
	if err := s.checkSignature(request.WorkerId, request.RequestSignature); err != nil {
		return nil, err
	}
	switch s.tracker.Status(request.WorkerId) {
	case aliveness.Blocked:
		return &api.ReportAlivenessResponse{Kind: api.AlivenessBlocked}, nil
	case aliveness.NotRegistered:
		return &api.ReportAlivenessResponse{Kind: api.AlivenessNotAlive}, nil
	}
	s.tracker.SetBucketIdsBeingProcessed(request.WorkerId, request.BucketIdsBeingProcessed)
	return &api.ReportAlivenessResponse{Kind: api.AlivenessAccepted}, nil
}

func (s *QueueServer) ScheduleTests(ctx context.Context, request *api.ScheduleTestsRequest) (*api.ScheduleTestsResponse, error) {
	return s.enqueuer.Enqueue(request)
}

func (s *QueueServer) JobState(ctx context.Context, request *api.JobStateRequest) (*api.JobStateResponse, error) {
	state, err := s.queue.State(request.JobId)
	if err != nil {
		return nil, err
	}
	return &api.JobStateResponse{JobState: state}, nil
}

func (s *QueueServer) JobResults(ctx context.Context, request *api.JobResultsRequest) (*api.JobResultsResponse, error) {
	results, err := s.queue.Results(request.JobId)
	if err != nil {
		return nil, err
	}
	return &api.JobResultsResponse{JobResults: results}, nil
}

func (s *QueueServer) DeleteJob(ctx context.Context, request *api.DeleteJobRequest) (*api.DeleteJobResponse, error) {
	if err := s.queue.Delete(request.JobId); err != nil {
		return nil, err
	}
	return &api.DeleteJobResponse{JobId: request.JobId}, nil
}

func (s *QueueServer) FetchServerVersion(ctx context.Context, request *api.FetchServerVersionRequest) (*api.FetchServerVersionResponse, error) {
	return &api.FetchServerVersionResponse{Version: s.version}, nil
}

// checkSignature rejects requests signed for another server instance. A registered worker
// sending such a request is blocked.
func (s *QueueServer) checkSignature(workerId api.WorkerId, signature api.RequestSignature) error {
	if signature == s.requestSignature {
		return nil
	}
	if s.tracker.Status(workerId) != aliveness.NotRegistered {
		s.tracker.BlockWorker(workerId)
	}
	return &dispatcherrors.ErrSignatureMismatch{WorkerId: string(workerId), Actual: string(signature)}
}
