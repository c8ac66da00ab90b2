package configuration

import (
	"time"

	"github.com/G-Research/testdispatch/pkg/client/queue"
)

type WorkerConfig struct {
	WorkerId    string `validate:"required"`
	MetricsPort uint16
	QueueServer queue.ApiConnectionDetails
	Retry       RetryConfig
	TestRunner  TestRunnerConfig
	Execution   ExecutionConfig
}

type RetryConfig struct {
	Attempts uint `validate:"gt=0"`
	Delay    time.Duration
}

type TestRunnerConfig struct {
	// Used for buckets whose tool resources name no test runner.
	Command string
	Args    []string
}

type ExecutionConfig struct {
	MaximumRevives              uint
	SimulatorAllocationAttempts uint `validate:"gt=0"`
	SimulatorAllocationDelay    time.Duration
	SimulatorIdleTimeout        time.Duration `validate:"gt=0"`
	IdleSimulatorCheckInterval  time.Duration `validate:"gt=0"`
}
