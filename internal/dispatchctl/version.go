package dispatchctl

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"google.golang.org/grpc"

	"github.com/G-Research/testdispatch/internal/common/build"
	"github.com/G-Research/testdispatch/pkg/api"
	"github.com/G-Research/testdispatch/pkg/client/queue"
)

const serverVersionTimeout = 5 * time.Second

// Version prints build information and, when it can be reached, the queue server version.
func (a *App) Version() error {
	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	fmt.Fprintf(w, "Version:\t%s\n", build.ReleaseVersion)
	fmt.Fprintf(w, "Commit:\t%s\n", build.GitCommit)
	fmt.Fprintf(w, "Go version:\t%s\n", build.GoVersion)
	fmt.Fprintf(w, "Built:\t%s\n", build.BuildTime)
	fmt.Fprintf(w, "Queue server:\t%s\n", a.serverVersion())
	return w.Flush()
}

func (a *App) serverVersion() string {
	version := "unreachable"
	_ = queue.WithConnection(a.Params.ApiConnectionDetails, func(conn *grpc.ClientConn) error {
		client := queue.NewSynchronousQueueClient(api.NewQueueServerClient(conn), queue.RetryPolicy{
			Attempts:    1,
			CallTimeout: serverVersionTimeout,
		})
		fetched, err := client.FetchServerVersion(context.Background())
		if err == nil {
			version = fetched
		}
		return err
	})
	return version
}
