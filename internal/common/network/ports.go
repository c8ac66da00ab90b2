// Package network finds free local ports to serve on.
package network

import (
	"fmt"
	"net"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ListenOnFreePort listens on the first port of the list that is free.
func ListenOnFreePort(ports []uint16) (net.Listener, uint16, error) {
	if len(ports) == 0 {
		return nil, 0, errors.New("no ports to listen on")
	}
	var result *multierror.Error
	for _, port := range ports {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return lis, port, nil
		}
		log.Debugf("Port %d is not available: %v", port, err)
		result = multierror.Append(result, err)
	}
	return nil, 0, errors.Wrapf(result.ErrorOrNil(), "none of the ports %d-%d is free", ports[0], ports[len(ports)-1])
}
