// Package termination decides when an idle queue server may shut itself down.
package termination

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/G-Research/testdispatch/internal/common/util"
)

type Policy string

const (
	StayAlive        Policy = "stayAlive"
	AfterFixedPeriod Policy = "afterFixedPeriod"
	AfterBeingIdle   Policy = "afterBeingIdle"
)

var Policies = []Policy{StayAlive, AfterFixedPeriod, AfterBeingIdle}

func ParsePolicy(name string) (Policy, error) {
	for _, policy := range Policies {
		if string(policy) == name {
			return policy, nil
		}
	}
	return "", errors.Errorf("unknown termination policy %q, expected one of %v", name, Policies)
}

// Controller allows termination once its policy fires and no job is ongoing.
type Controller struct {
	mu           sync.Mutex
	policy       Policy
	period       time.Duration
	clock        util.Clock
	startedAt    time.Time
	lastActivity time.Time
	// Reports whether any job still has buckets to run.
	hasOngoingJobs func() bool
}

func NewController(policy Policy, period time.Duration, clock util.Clock, hasOngoingJobs func() bool) *Controller {
	now := clock.Now()
	return &Controller{
		policy:         policy,
		period:         period,
		clock:          clock,
		startedAt:      now,
		lastActivity:   now,
		hasOngoingJobs: hasOngoingJobs,
	}
}

func (c *Controller) Policy() Policy {
	return c.policy
}

func (c *Controller) RecordActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = c.clock.Now()
}

// IsTerminationAllowed reports whether the policy alone would let the server go.
func (c *Controller) IsTerminationAllowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	switch c.policy {
	case AfterFixedPeriod:
		return now.Sub(c.startedAt) >= c.period
	case AfterBeingIdle:
		return now.Sub(c.lastActivity) >= c.period
	default:
		return false
	}
}

func (c *Controller) ShouldTerminate() bool {
	return c.IsTerminationAllowed() && !c.hasOngoingJobs()
}

// Wait blocks until the server should terminate, returning true, or until ctx is done,
// returning false.
func (c *Controller) Wait(ctx context.Context, checkInterval time.Duration) bool {
	if c.policy == StayAlive {
		<-ctx.Done()
		return false
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if c.ShouldTerminate() {
				log.Infof("Termination policy %s allows shutdown and no jobs are ongoing", c.policy)
				return true
			}
		}
	}
}

// UnaryServerInterceptor records activity for calls to any of the given full method names.
// With no method names every call counts.
func (c *Controller) UnaryServerInterceptor(fullMethods ...string) grpc.UnaryServerInterceptor {
	counted := make(map[string]bool, len(fullMethods))
	for _, method := range fullMethods {
		counted[method] = true
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if len(counted) == 0 || counted[info.FullMethod] {
			c.RecordActivity()
		}
		return resp, err
	}
}
