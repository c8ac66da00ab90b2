package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/G-Research/testdispatch/internal/dispatchctl"
	"github.com/G-Research/testdispatch/pkg/client"
)

const configFlag = "config"

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "dispatchctl",
		Short:        "dispatchctl schedules tests on a queue server and inspects their jobs.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String(configFlag, "", "config file (default is $HOME/.dispatchctl.yaml)")
	_ = viper.BindPFlag(configFlag, cmd.PersistentFlags().Lookup(configFlag))
	client.AddQueueServerConnectionCommandlineArgs(cmd)

	cmd.AddCommand(
		scheduleCmd(dispatchctl.New()),
		stateCmd(dispatchctl.New()),
		resultsCmd(dispatchctl.New()),
		deleteCmd(dispatchctl.New()),
		waitCmd(dispatchctl.New()),
		versionCmd(dispatchctl.New()),
		discoverCmd(dispatchctl.New()),
		runLocalCmd(dispatchctl.New()),
	)
	return cmd
}

// initParams loads the config file and copies connection settings into the app.
func initParams(cmd *cobra.Command, params *dispatchctl.Params) error {
	if err := client.LoadCommandlineArgsFromConfigFile(viper.GetString(configFlag)); err != nil {
		return err
	}
	params.ApiConnectionDetails = client.ExtractCommandlineQueueServerConnectionDetails()
	return nil
}
