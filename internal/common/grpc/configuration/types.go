package configuration

import "google.golang.org/grpc/keepalive"

type GrpcConfig struct {
	KeepaliveParams            keepalive.ServerParameters
	KeepaliveEnforcementPolicy keepalive.EnforcementPolicy
	// Bucket results of large jobs exceed the gRPC default of 4MB. Zero keeps the default.
	MaxRecvMsgSize int `validate:"gte=0"`
}
