package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/testdispatch/internal/dispatchctl"
)

func versionCmd(a *dispatchctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print client and queue server version information",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Version()
		},
	}
}
