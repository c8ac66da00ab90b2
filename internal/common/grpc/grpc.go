package grpc

import (
	"context"
	"runtime/debug"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_logrus "github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/G-Research/testdispatch/internal/common/dispatcherrors"
	"github.com/G-Research/testdispatch/internal/common/grpc/configuration"
)

// CreateGrpcServer creates a gRPC server with the interceptors shared by every service of this project.
// Extra interceptors run after the shared ones, directly before the handler.
func CreateGrpcServer(config configuration.GrpcConfig, extra ...grpc.UnaryServerInterceptor) *grpc.Server {
	messageDefault := log.NewEntry(log.StandardLogger())
	tagsExtractor := grpc_ctxtags.WithFieldExtractor(grpc_ctxtags.CodeGenRequestFieldExtractor)

	interceptors := []grpc.UnaryServerInterceptor{
		grpc_ctxtags.UnaryServerInterceptor(tagsExtractor),
		grpc_prometheus.UnaryServerInterceptor,
		grpc_logrus.UnaryServerInterceptor(messageDefault, grpc_logrus.WithLevels(levelForCode)),
		dispatcherrors.UnaryServerInterceptor(),
		grpc_recovery.UnaryServerInterceptor(grpc_recovery.WithRecoveryHandler(panicRecoveryHandler)),
	}
	interceptors = append(interceptors, extra...)

	options := []grpc.ServerOption{
		grpc.KeepaliveParams(withDefaults(config.KeepaliveParams)),
		grpc.KeepaliveEnforcementPolicy(config.KeepaliveEnforcementPolicy),
		grpc_middleware.WithUnaryServerChain(interceptors...),
	}
	if config.MaxRecvMsgSize > 0 {
		options = append(options, grpc.MaxRecvMsgSize(config.MaxRecvMsgSize))
	}
	return grpc.NewServer(options...)
}

// Workers poll constantly, successful calls are not worth an info line each.
func levelForCode(code codes.Code) log.Level {
	switch code {
	case codes.OK:
		return log.DebugLevel
	case codes.Unauthenticated, codes.PermissionDenied, codes.FailedPrecondition, codes.NotFound,
		codes.InvalidArgument, codes.AlreadyExists:
		return log.WarnLevel
	default:
		return grpc_logrus.DefaultCodeToLevel(code)
	}
}

func withDefaults(params keepalive.ServerParameters) keepalive.ServerParameters {
	if params.Time == 0 {
		params.Time = 2 * time.Hour
	}
	return params
}

// CreateShutdownHandler returns a function that shuts down the grpcServer when the context is closed.
// The server is given gracePeriod to perform a graceful shutdown and is then forcibly stopped if necessary.
func CreateShutdownHandler(ctx context.Context, gracePeriod time.Duration, grpcServer *grpc.Server) func() error {
	return func() error {
		<-ctx.Done()
		go func() {
			time.Sleep(gracePeriod)
			grpcServer.Stop()
		}()
		grpcServer.GracefulStop()
		return nil
	}
}

// This function is called whenever a gRPC handler panics.
func panicRecoveryHandler(p interface{}) (err error) {
	log.Errorf("Request triggered panic with cause %v \n%s", p, string(debug.Stack()))
	return status.Errorf(codes.Internal, "Internal server error caused by %v", p)
}
