package configuration

import (
	"time"

	"github.com/go-redis/redis"

	grpcconfig "github.com/G-Research/testdispatch/internal/common/grpc/configuration"
	"github.com/G-Research/testdispatch/internal/queueserver/termination"
	"github.com/G-Research/testdispatch/pkg/api"
)

type QueueServerConfig struct {
	// gRPC listens on the first free port of the range.
	GrpcPortRange PortRange
	MetricsPort   uint16
	Grpc          grpcconfig.GrpcConfig
	// Results are kept in memory when no Redis address is configured.
	Redis redis.UniversalOptions

	Queue       QueueConfig
	Aliveness   AlivenessConfig
	Workers     WorkersConfig
	Termination TerminationConfig

	ScheduleRequestCacheExpiration time.Duration `validate:"gt=0"`
	AcceptedResultCacheSize        int           `validate:"gt=0"`
}

type PortRange struct {
	From uint16 `validate:"gt=0"`
	To   uint16 `validate:"gtefield=From"`
}

func (r PortRange) Ports() []uint16 {
	ports := []uint16{}
	for port := uint32(r.From); port <= uint32(r.To); port++ {
		ports = append(ports, uint16(port))
	}
	return ports
}

type QueueConfig struct {
	CheckAgainTimeInterval           time.Duration `validate:"gt=0"`
	WorkersStayAliveWhenQueueIsEmpty bool
	StuckBucketsCheckInterval        time.Duration `validate:"gt=0"`
}

type AlivenessConfig struct {
	ReportAliveInterval time.Duration `validate:"gt=0"`
	// Extra time a worker may stay quiet on top of ReportAliveInterval before it counts as silent.
	Allowance time.Duration
}

type WorkersConfig struct {
	// When non-empty only these workers may register.
	KnownWorkerIds []string
	Defaults       WorkerDefaults
	Overrides      map[string]WorkerOverride
}

type WorkerDefaults struct {
	NumberOfSimulators       uint `validate:"gt=0"`
	TestTimeoutConfiguration api.TestTimeoutConfiguration
	PluginUrls               []string
}

// WorkerOverride replaces the defaults for one worker. Zero values keep the default.
type WorkerOverride struct {
	NumberOfSimulators       uint
	TestTimeoutConfiguration *api.TestTimeoutConfiguration
	PluginUrls               []string
}

type TerminationConfig struct {
	Policy        termination.Policy `validate:"oneof=stayAlive afterFixedPeriod afterBeingIdle"`
	Period        time.Duration
	CheckInterval time.Duration `validate:"gt=0"`
}
