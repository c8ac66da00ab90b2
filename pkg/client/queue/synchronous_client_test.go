package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/G-Research/testdispatch/internal/common/dispatcherrors"
	"github.com/G-Research/testdispatch/internal/common/grpc/testgrpc"
	"github.com/G-Research/testdispatch/pkg/api"
)

// flakyQueueServer fails the first failures calls to FetchBucket with err.
type flakyQueueServer struct {
	api.QueueServer
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (s *flakyQueueServer) FetchBucket(ctx context.Context, request *api.FetchBucketRequest) (*api.FetchBucketResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	return &api.FetchBucketResponse{Kind: api.QueueIsEmptyKind}, nil
}

func (s *flakyQueueServer) FetchServerVersion(ctx context.Context, request *api.FetchServerVersionRequest) (*api.FetchServerVersionResponse, error) {
	return &api.FetchServerVersionResponse{Version: "1.2.3"}, nil
}

func startFlakyServer(t *testing.T, server *flakyQueueServer) api.QueueServerClient {
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(dispatcherrors.UnaryServerInterceptor()))
	testServer := testgrpc.NewServer(t, grpcServer)
	api.RegisterQueueServerServer(testServer.Server, server)
	testServer.Start()
	return api.NewQueueServerClient(testServer.Dial(context.Background()))
}

func testPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: time.Millisecond, CallTimeout: 5 * time.Second}
}

func TestSynchronousQueueClient_Retries(t *testing.T) {
	tests := map[string]struct {
		failures      int
		err           error
		expectedCalls int
		expectedCode  codes.Code
	}{
		"no failure": {
			failures:      0,
			expectedCalls: 1,
			expectedCode:  codes.OK,
		},
		"transient failures are retried": {
			failures:      2,
			err:           status.Error(codes.Unavailable, "connection reset"),
			expectedCalls: 3,
			expectedCode:  codes.OK,
		},
		"retries are exhausted": {
			failures:      5,
			err:           status.Error(codes.Unavailable, "connection reset"),
			expectedCalls: 3,
			expectedCode:  codes.Unavailable,
		},
		"signature mismatch is not retried": {
			failures:      5,
			err:           &dispatcherrors.ErrSignatureMismatch{WorkerId: "mac", Actual: "stale"},
			expectedCalls: 1,
			expectedCode:  codes.Unauthenticated,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			server := &flakyQueueServer{failures: tc.failures, err: tc.err}
			client := NewSynchronousQueueClient(startFlakyServer(t, server), testPolicy())

			response, err := client.FetchBucket(context.Background(), &api.FetchBucketRequest{WorkerId: "mac"})

			assert.Equal(t, tc.expectedCode, status.Code(err))
			assert.Equal(t, tc.expectedCalls, server.calls)
			if tc.expectedCode == codes.OK {
				require.NotNil(t, response)
				assert.Equal(t, api.QueueIsEmptyKind, response.Kind)
			}
		})
	}
}

func TestSynchronousQueueClient_StopsOnContextCancel(t *testing.T) {
	server := &flakyQueueServer{failures: 100, err: status.Error(codes.Unavailable, "down")}
	policy := RetryPolicy{Attempts: 100, Delay: time.Hour}
	client := NewSynchronousQueueClient(startFlakyServer(t, server), policy)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.FetchBucket(ctx, &api.FetchBucketRequest{WorkerId: "mac"})

	assert.Error(t, err)
	assert.Equal(t, 1, server.calls)
}

func TestSynchronousQueueClient_FetchServerVersion(t *testing.T) {
	client := NewSynchronousQueueClient(startFlakyServer(t, &flakyQueueServer{}), testPolicy())

	version, err := client.FetchServerVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", version)
}
