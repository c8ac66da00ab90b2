package dispatchctl

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/G-Research/testdispatch/internal/common/util"
	"github.com/G-Research/testdispatch/internal/execution"
	"github.com/G-Research/testdispatch/internal/localrun"
	"github.com/G-Research/testdispatch/pkg/api"
)

type RunLocalOptions struct {
	NumberOfSimulators uint
	ScheduleStrategy   api.ScheduleStrategyType
	TestRunnerCommand  string
	TestRunnerArgs     []string
}

// RunLocal runs a plan on this machine. Results of finished buckets are printed even when the
// run fails part way.
func (a *App) RunLocal(ctx context.Context, plan *TestPlan, options RunLocalOptions) error {
	strategy := options.ScheduleStrategy
	if strategy == "" {
		strategy = plan.ScheduleStrategy
	}
	if strategy == "" {
		strategy = api.IndividualStrategy
	}
	runner := localrun.NewLocalRunner(
		localrun.Config{
			NumberOfSimulators: options.NumberOfSimulators,
			ScheduleStrategy:   strategy,
			Execution:          execution.DefaultBucketRunnerConfig(),
		},
		&execution.ProcessTestRunner{DefaultCommand: options.TestRunnerCommand, Args: options.TestRunnerArgs},
		util.ULIDGenerator{},
		&util.DefaultClock{},
	)

	result, runErr := runner.Run(ctx, localrun.Request{
		ToolResources:           plan.ToolResources,
		SimulatorSettings:       plan.SimulatorSettings,
		TestEntryConfigurations: plan.TestEntryConfigurations,
	})
	if result != nil {
		a.printResults(result.TestingResults)
	}
	if runErr != nil {
		return runErr
	}
	if !result.AllSucceeded() {
		_, failed, lost := result.Counts()
		return errors.Errorf("%d tests failed, %d tests lost", failed, lost)
	}
	fmt.Fprintln(a.Out, "All tests succeeded")
	return nil
}
