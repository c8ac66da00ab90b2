package dispatchctl

import (
	"context"
	"fmt"
	"time"

	"github.com/G-Research/testdispatch/pkg/client/queue"
)

type DiscoverOptions struct {
	Host     string
	FromPort uint16
	ToPort   uint16
	// Only list servers of this version when set.
	Version string
	Timeout time.Duration
}

// Discover lists the ports of the host that answer as a queue server.
func (a *App) Discover(options DiscoverOptions) error {
	ports := []uint16{}
	for port := int(options.FromPort); port <= int(options.ToPort); port++ {
		ports = append(ports, uint16(port))
	}
	scanner := &queue.RemoteQueuePortScanner{Host: options.Host, Ports: ports, Timeout: options.Timeout}

	ctx := context.Background()
	found := 0
	if options.Version != "" {
		for _, port := range scanner.PortsWithVersion(ctx, options.Version) {
			fmt.Fprintf(a.Out, "%s:%d\t%s\n", options.Host, port, options.Version)
			found++
		}
	} else {
		versions := scanner.Scan(ctx)
		for _, port := range ports {
			if version, ok := versions[port]; ok {
				fmt.Fprintf(a.Out, "%s:%d\t%s\n", options.Host, port, version)
				found++
			}
		}
	}
	if found == 0 {
		fmt.Fprintf(a.Out, "No queue server found on %s ports %d-%d\n", options.Host, options.FromPort, options.ToPort)
	}
	return nil
}
