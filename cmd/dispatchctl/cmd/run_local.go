package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/testdispatch/internal/dispatchctl"
	"github.com/G-Research/testdispatch/pkg/api"
)

func runLocalCmd(a *dispatchctl.App) *cobra.Command {
	options := dispatchctl.RunLocalOptions{}
	var strategy string
	cmd := &cobra.Command{
		Use:   "run-local ./path/to/plan.yaml",
		Short: "Run the tests of a plan on this machine without a queue server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := dispatchctl.LoadTestPlan(args[0])
			if err != nil {
				return err
			}
			if strategy != "" {
				options.ScheduleStrategy, err = api.ParseScheduleStrategyType(strategy)
				if err != nil {
					return err
				}
			}
			return a.RunLocal(cmd.Context(), plan, options)
		},
	}
	cmd.Flags().UintVar(&options.NumberOfSimulators, "simulators", 1, "number of simulators to run buckets on")
	cmd.Flags().StringVar(&strategy, "strategy", "", "schedule strategy, overrides the plan")
	cmd.Flags().StringVar(&options.TestRunnerCommand, "testRunner", "", "test runner for buckets whose plan names none")
	cmd.Flags().StringSliceVar(&options.TestRunnerArgs, "testRunnerArgs", nil, "arguments passed to the test runner")
	return cmd
}
