// Package dispatchctl implements the commands of the dispatchctl CLI.
package dispatchctl

import (
	"io"
	"os"
	"time"

	"github.com/G-Research/testdispatch/pkg/client/queue"
)

// App is the state shared by all commands. Commands write their output to Out.
type App struct {
	Params *Params
	Out    io.Writer
}

// Params are filled in from flags and the config file before a command runs.
type Params struct {
	ApiConnectionDetails *queue.ApiConnectionDetails
}

func New() *App {
	return &App{
		Params: &Params{ApiConnectionDetails: &queue.ApiConnectionDetails{}},
		Out:    os.Stdout,
	}
}

type WaitOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
}
