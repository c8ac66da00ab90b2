package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/G-Research/testdispatch/pkg/api"
)

// RemoteQueuePortScanner finds queue servers on a host by asking every port of a range for its
// server version.
type RemoteQueuePortScanner struct {
	Host    string
	Ports   []uint16
	Timeout time.Duration
}

// Scan returns the version of the queue server listening on each port that answered.
func (s *RemoteQueuePortScanner) Scan(ctx context.Context) map[uint16]string {
	var mu sync.Mutex
	versions := map[uint16]string{}

	g, ctx := errgroup.WithContext(ctx)
	for _, port := range s.Ports {
		port := port
		g.Go(func() error {
			version, err := s.fetchVersion(ctx, port)
			if err != nil {
				log.Debugf("No queue server on %s:%d: %v", s.Host, port, err)
				return nil
			}
			mu.Lock()
			versions[port] = version
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return versions
}

// PortsWithVersion returns, in ascending order, the ports where a queue server of the given
// version answered.
func (s *RemoteQueuePortScanner) PortsWithVersion(ctx context.Context, version string) []uint16 {
	ports := []uint16{}
	for port, found := range s.Scan(ctx) {
		if found == version {
			ports = append(ports, port)
		}
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

func (s *RemoteQueuePortScanner) fetchVersion(ctx context.Context, port uint16) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	conn, err := CreateQueueConnection(&ApiConnectionDetails{QueueServerUrl: fmt.Sprintf("%s:%d", s.Host, port)})
	if err != nil {
		return "", err
	}
	defer conn.Close()

	response, err := api.NewQueueServerClient(conn).FetchServerVersion(ctx, &api.FetchServerVersionRequest{})
	if err != nil {
		return "", err
	}
	return response.Version, nil
}
