package client

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/G-Research/testdispatch/pkg/client/queue"
)

const (
	QueueServerUrlFlag = "queueServerUrl"
	CallTimeoutFlag    = "callTimeout"
)

func AddQueueServerConnectionCommandlineArgs(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String(QueueServerUrlFlag, "localhost:41000", "specify queue server url")
	rootCmd.PersistentFlags().Duration(CallTimeoutFlag, 30*time.Second, "timeout of a single call to the queue server")
	_ = viper.BindPFlag(QueueServerUrlFlag, rootCmd.PersistentFlags().Lookup(QueueServerUrlFlag))
	_ = viper.BindPFlag(CallTimeoutFlag, rootCmd.PersistentFlags().Lookup(CallTimeoutFlag))
}

// LoadCommandlineArgsFromConfigFile reads cfgFile, or $HOME/.dispatchctl.yaml when no file is given.
// A missing default file is not an error.
func LoadCommandlineArgsFromConfigFile(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("[LoadCommandlineArgsFromConfigFile] error getting user home directory: %s", err)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".dispatchctl")
	}

	viper.SetEnvPrefix("DISPATCHCTL")
	viper.AutomaticEnv()

	if err := viper.MergeInConfig(); err != nil {
		switch err.(type) {
		case viper.ConfigFileNotFoundError:
		case *os.PathError:
			if cfgFile != "" {
				return fmt.Errorf("[LoadCommandlineArgsFromConfigFile] error reading config file %s: %s", cfgFile, err)
			}
		default:
			return fmt.Errorf("[LoadCommandlineArgsFromConfigFile] error reading config file %s: %s", viper.ConfigFileUsed(), err)
		}
	}
	return nil
}

func ExtractCommandlineQueueServerConnectionDetails() *queue.ApiConnectionDetails {
	return &queue.ApiConnectionDetails{
		QueueServerUrl: viper.GetString(QueueServerUrlFlag),
		CallTimeout:    viper.GetDuration(CallTimeoutFlag),
	}
}
