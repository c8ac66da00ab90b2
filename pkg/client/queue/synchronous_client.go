package queue

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testdispatch/internal/common/dispatcherrors"
	"github.com/G-Research/testdispatch/pkg/api"
)

type RetryPolicy struct {
	Attempts    uint
	Delay       time.Duration
	CallTimeout time.Duration
}

func DefaultRetryPolicy(callTimeout time.Duration) RetryPolicy {
	return RetryPolicy{Attempts: 5, Delay: time.Second, CallTimeout: callTimeout}
}

// SynchronousQueueClient retries failed calls a fixed number of times with a fixed delay.
// Errors the server returns for the request itself, such as a signature mismatch, are not retried.
type SynchronousQueueClient struct {
	client api.QueueServerClient
	policy RetryPolicy
}

func NewSynchronousQueueClient(client api.QueueServerClient, policy RetryPolicy) *SynchronousQueueClient {
	return &SynchronousQueueClient{client: client, policy: policy}
}

func call[Resp any](ctx context.Context, c *SynchronousQueueClient, name string, f func(ctx context.Context) (*Resp, error)) (*Resp, error) {
	var response *Resp
	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			callCtx, cancel := c.callContext(ctx)
			defer cancel()
			var err error
			response, err = f(callCtx)
			if err != nil && !dispatcherrors.IsProtocolError(err) {
				log.WithError(err).Warnf("%s failed on attempt %d of %d", name, attempt, c.policy.Attempts)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.policy.Attempts),
		retry.Delay(c.policy.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !dispatcherrors.IsProtocolError(err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (c *SynchronousQueueClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.policy.CallTimeout > 0 {
		return context.WithTimeout(ctx, c.policy.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *SynchronousQueueClient) RegisterWorker(ctx context.Context, workerId api.WorkerId) (api.WorkerConfiguration, error) {
	response, err := call(ctx, c, "RegisterWorker", func(ctx context.Context) (*api.RegisterWorkerResponse, error) {
		return c.client.RegisterWorker(ctx, &api.RegisterWorkerRequest{WorkerId: workerId})
	})
	if err != nil {
		return api.WorkerConfiguration{}, err
	}
	return response.WorkerConfiguration, nil
}

func (c *SynchronousQueueClient) FetchBucket(ctx context.Context, request *api.FetchBucketRequest) (*api.FetchBucketResponse, error) {
	return call(ctx, c, "FetchBucket", func(ctx context.Context) (*api.FetchBucketResponse, error) {
		return c.client.FetchBucket(ctx, request)
	})
}

func (c *SynchronousQueueClient) PushResult(ctx context.Context, request *api.PushResultRequest) (api.BucketId, error) {
	response, err := call(ctx, c, "PushResult", func(ctx context.Context) (*api.PushResultResponse, error) {
		return c.client.PushResult(ctx, request)
	})
	if err != nil {
		return "", err
	}
	return response.BucketId, nil
}

func (c *SynchronousQueueClient) ReportAliveness(ctx context.Context, request *api.ReportAlivenessRequest) (api.AlivenessResponseKind, error) {
	response, err := call(ctx, c, "ReportAliveness", func(ctx context.Context) (*api.ReportAlivenessResponse, error) {
		return c.client.ReportAliveness(ctx, request)
	})
	if err != nil {
		return "", err
	}
	return response.Kind, nil
}

func (c *SynchronousQueueClient) ScheduleTests(ctx context.Context, request *api.ScheduleTestsRequest) (api.RequestId, error) {
	response, err := call(ctx, c, "ScheduleTests", func(ctx context.Context) (*api.ScheduleTestsResponse, error) {
		return c.client.ScheduleTests(ctx, request)
	})
	if err != nil {
		return "", err
	}
	return response.RequestId, nil
}

func (c *SynchronousQueueClient) JobState(ctx context.Context, jobId api.JobId) (api.JobState, error) {
	response, err := call(ctx, c, "JobState", func(ctx context.Context) (*api.JobStateResponse, error) {
		return c.client.JobState(ctx, &api.JobStateRequest{JobId: jobId})
	})
	if err != nil {
		return api.JobState{}, err
	}
	return response.JobState, nil
}

func (c *SynchronousQueueClient) JobResults(ctx context.Context, jobId api.JobId) (api.JobResults, error) {
	response, err := call(ctx, c, "JobResults", func(ctx context.Context) (*api.JobResultsResponse, error) {
		return c.client.JobResults(ctx, &api.JobResultsRequest{JobId: jobId})
	})
	if err != nil {
		return api.JobResults{}, err
	}
	return response.JobResults, nil
}

func (c *SynchronousQueueClient) DeleteJob(ctx context.Context, jobId api.JobId) error {
	_, err := call(ctx, c, "DeleteJob", func(ctx context.Context) (*api.DeleteJobResponse, error) {
		return c.client.DeleteJob(ctx, &api.DeleteJobRequest{JobId: jobId})
	})
	return err
}

func (c *SynchronousQueueClient) FetchServerVersion(ctx context.Context) (string, error) {
	response, err := call(ctx, c, "FetchServerVersion", func(ctx context.Context) (*api.FetchServerVersionResponse, error) {
		return c.client.FetchServerVersion(ctx, &api.FetchServerVersionRequest{})
	})
	if err != nil {
		return "", err
	}
	return response.Version, nil
}
