package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/G-Research/testdispatch/internal/dispatchctl"
)

func discoverCmd(a *dispatchctl.App) *cobra.Command {
	options := dispatchctl.DiscoverOptions{}
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find queue servers listening on a range of ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Discover(options)
		},
	}
	cmd.Flags().StringVar(&options.Host, "host", "localhost", "host to scan")
	cmd.Flags().Uint16Var(&options.FromPort, "fromPort", 41000, "first port to scan")
	cmd.Flags().Uint16Var(&options.ToPort, "toPort", 41010, "last port to scan")
	cmd.Flags().StringVar(&options.Version, "serverVersion", "", "only list queue servers of this version")
	cmd.Flags().DurationVar(&options.Timeout, "timeout", 2*time.Second, "timeout per port")
	return cmd
}
