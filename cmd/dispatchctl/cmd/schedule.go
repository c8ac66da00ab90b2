package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/testdispatch/internal/dispatchctl"
	"github.com/G-Research/testdispatch/pkg/api"
)

func scheduleCmd(a *dispatchctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule ./path/to/plan.yaml",
		Short: "Schedule the tests of a plan as a job",
		Long: `Schedule the tests of a plan file as one job.

Example plan.yaml:

	jobId: checkout-ui
	priority: 500
	scheduleStrategy: equally_divided
	toolResources:
	  testRunnerTool: ./bin/run-xctest
	testEntryConfigurations:
	  - testEntry: {className: CheckoutTests, methodName: testPay}
	    testDestination: {deviceType: iPhone X, runtime: "16.0"}
	    testExecutionBehavior: {numberOfRetries: 1}
`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := dispatchctl.LoadTestPlan(args[0])
			if err != nil {
				return err
			}
			options, err := scheduleOptions(cmd)
			if err != nil {
				return err
			}
			return a.Schedule(plan, options)
		},
	}
	cmd.Flags().String("jobId", "", "job id, overrides the plan")
	cmd.Flags().Uint32("priority", uint32(api.PriorityMedium), "job priority from 0 to 999, overrides the plan when given")
	cmd.Flags().String("strategy", "", "schedule strategy (individual, equally_divided, unsplit, unique), overrides the plan")
	return cmd
}

func scheduleOptions(cmd *cobra.Command) (dispatchctl.ScheduleOptions, error) {
	options := dispatchctl.ScheduleOptions{}
	jobId, err := cmd.Flags().GetString("jobId")
	if err != nil {
		return options, err
	}
	options.JobId = api.JobId(jobId)

	if cmd.Flags().Changed("priority") {
		priority, err := cmd.Flags().GetUint32("priority")
		if err != nil {
			return options, err
		}
		p := api.Priority(priority)
		options.Priority = &p
	}

	strategy, err := cmd.Flags().GetString("strategy")
	if err != nil {
		return options, err
	}
	if strategy != "" {
		options.ScheduleStrategy, err = api.ParseScheduleStrategyType(strategy)
		if err != nil {
			return options, err
		}
	}
	return options, nil
}
