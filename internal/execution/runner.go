package execution

import (
	"context"

	"github.com/G-Research/testdispatch/pkg/api"
)

// TestRun is one invocation of a test runner on an allocated simulator.
type TestRun struct {
	BucketId                api.BucketId
	ToolResources           api.ToolResources
	TestEntryConfigurations []api.TestEntryConfiguration
	Simulator               *Simulator
}

// TestRunner executes the configurations of a run and returns a result for every entry it
// got to. Entries missing from the returned results are treated as not run; an error means
// the runner stopped early, results gathered before that are still used.
type TestRunner interface {
	Run(ctx context.Context, run TestRun) ([]api.TestEntryResult, error)
}
