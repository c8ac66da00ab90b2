package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/G-Research/testdispatch/internal/dispatchctl"
	"github.com/G-Research/testdispatch/pkg/api"
)

func stateCmd(a *dispatchctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "state <jobId>",
		Short: "Print the queue state of a job",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.State(api.JobId(args[0]))
		},
	}
}

func resultsCmd(a *dispatchctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "results <jobId>",
		Short: "Print the test results collected for a job so far",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Results(api.JobId(args[0]))
		},
	}
}

func deleteCmd(a *dispatchctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <jobId>",
		Short: "Delete a job with its queued buckets and results",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Delete(api.JobId(args[0]))
		},
	}
}

func waitCmd(a *dispatchctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait <jobId>",
		Short: "Wait for a job to finish and print its results",
		Long:  "Wait for a job to finish and print its results. Exits non-zero when any test failed or was lost.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			pollInterval, err := cmd.Flags().GetDuration("pollInterval")
			if err != nil {
				return err
			}
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				return err
			}
			return a.Wait(api.JobId(args[0]), dispatchctl.WaitOptions{PollInterval: pollInterval, Timeout: timeout})
		},
	}
	cmd.Flags().Duration("pollInterval", 10*time.Second, "how often the job state is polled")
	cmd.Flags().Duration("timeout", 0, "give up after this long, zero waits forever")
	return cmd
}
