// Package queue contains clients of the queue server.
package queue

import (
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/G-Research/testdispatch/pkg/api"
)

type ApiConnectionDetails struct {
	// host:port of the queue server
	QueueServerUrl string
	// Timeout of a single call, zero means no timeout.
	CallTimeout time.Duration
}

func CreateQueueConnection(config *ApiConnectionDetails, additionalDialOptions ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialOpts := append(additionalDialOptions,
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
		grpc.WithChainUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	return grpc.Dial(config.QueueServerUrl, dialOpts...)
}

func WithConnection(config *ApiConnectionDetails, action func(*grpc.ClientConn) error) error {
	conn, err := CreateQueueConnection(config)
	if err != nil {
		return err
	}
	defer conn.Close()
	return action(conn)
}

func WithQueueClient(config *ApiConnectionDetails, action func(*SynchronousQueueClient) error) error {
	return WithConnection(config, func(cc *grpc.ClientConn) error {
		return action(NewSynchronousQueueClient(api.NewQueueServerClient(cc), DefaultRetryPolicy(config.CallTimeout)))
	})
}
