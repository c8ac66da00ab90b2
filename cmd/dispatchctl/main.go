package main

import (
	"os"

	"github.com/G-Research/testdispatch/cmd/dispatchctl/cmd"
	"github.com/G-Research/testdispatch/internal/common"
)

func main() {
	common.ConfigureCommandLineLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
