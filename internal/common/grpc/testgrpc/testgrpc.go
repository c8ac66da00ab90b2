// Package testgrpc runs gRPC servers over an in-memory listener for tests.
package testgrpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// Server is a gRPC server used for testing.
//
//	testServer := testgrpc.NewServer(t, grpcServer)
//	api.RegisterQueueServerServer(testServer.Server, queueServer)
//	testServer.Start()
//	client := api.NewQueueServerClient(testServer.Dial(ctx))
type Server struct {
	*grpc.Server
	t   testing.TB
	lis *bufconn.Listener
}

func NewServer(t testing.TB, server *grpc.Server) *Server {
	return &Server{
		Server: server,
		t:      t,
		lis:    bufconn.Listen(1024 * 1024),
	}
}

// Start serves in the background until the test finishes.
// Call it after registering services.
func (s *Server) Start() {
	s.t.Cleanup(s.Server.Stop)
	go func() {
		_ = s.Server.Serve(s.lis)
	}()
}

func (s *Server) Dial(ctx context.Context, opts ...grpc.DialOption) *grpc.ClientConn {
	bufDialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return s.lis.DialContext(ctx)
	}
	dialOptions := []grpc.DialOption{
		grpc.WithContextDialer(bufDialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	dialOptions = append(dialOptions, opts...)
	conn, err := grpc.DialContext(ctx, "bufnet", dialOptions...)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { _ = conn.Close() })
	return conn
}
