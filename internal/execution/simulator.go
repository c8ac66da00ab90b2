package execution

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testdispatch/internal/common/util"
	"github.com/G-Research/testdispatch/pkg/api"
)

type Simulator struct {
	Id          string
	Destination api.TestDestination
	Settings    api.SimulatorSettings
}

type SimulatorPool interface {
	Allocate(ctx context.Context, destination api.TestDestination, settings api.SimulatorSettings) (*Simulator, error)
	Free(simulator *Simulator)
}

var ErrNoSimulatorAvailable = errors.New("no simulator available")

type idleSimulator struct {
	simulator *Simulator
	freedAt   time.Time
}

// LocalSimulatorPool hands out at most maximum simulators at a time. Freed simulators are reused
// for the same destination and settings; an idle simulator of another kind is replaced when the
// pool is full.
type LocalSimulatorPool struct {
	mu          sync.Mutex
	maximum     int
	total       int
	idle        map[string][]idleSimulator
	idGenerator util.IdGenerator
	clock       util.Clock
}

func NewLocalSimulatorPool(maximum int, idGenerator util.IdGenerator, clock util.Clock) *LocalSimulatorPool {
	return &LocalSimulatorPool{
		maximum:     maximum,
		idle:        map[string][]idleSimulator{},
		idGenerator: idGenerator,
		clock:       clock,
	}
}

func (p *LocalSimulatorPool) Allocate(ctx context.Context, destination api.TestDestination, settings api.SimulatorSettings) (*Simulator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := simulatorKey(destination, settings)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if idle := p.idle[key]; len(idle) > 0 {
		p.idle[key] = idle[:len(idle)-1]
		return idle[len(idle)-1].simulator, nil
	}
	if p.total >= p.maximum {
		if !p.deleteOneIdleLocked() {
			return nil, ErrNoSimulatorAvailable
		}
	}
	p.total++
	simulator := &Simulator{Id: p.idGenerator.Generate(), Destination: destination, Settings: settings}
	log.Debugf("Created simulator %s for %s %s", simulator.Id, destination.DeviceType, destination.Runtime)
	return simulator, nil
}

func (p *LocalSimulatorPool) Free(simulator *Simulator) {
	key, err := simulatorKey(simulator.Destination, simulator.Settings)
	if err != nil {
		log.WithError(err).Errorf("Dropping simulator %s", simulator.Id)
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle[key] = append(p.idle[key], idleSimulator{simulator: simulator, freedAt: p.clock.Now()})
}

// DeleteIdle shuts down simulators that have been idle for at least the given duration and
// returns how many were deleted.
func (p *LocalSimulatorPool) DeleteIdle(idleFor time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	deleted := 0
	for key, idle := range p.idle {
		kept := idle[:0]
		for _, candidate := range idle {
			if now.Sub(candidate.freedAt) >= idleFor {
				log.Debugf("Deleting idle simulator %s", candidate.simulator.Id)
				deleted++
				continue
			}
			kept = append(kept, candidate)
		}
		if len(kept) == 0 {
			delete(p.idle, key)
		} else {
			p.idle[key] = kept
		}
	}
	p.total -= deleted
	return deleted
}

func (p *LocalSimulatorPool) deleteOneIdleLocked() bool {
	for key, idle := range p.idle {
		if len(idle) == 0 {
			continue
		}
		log.Debugf("Deleting idle simulator %s to make room", idle[0].simulator.Id)
		p.idle[key] = idle[1:]
		p.total--
		return true
	}
	return false
}

func simulatorKey(destination api.TestDestination, settings api.SimulatorSettings) (string, error) {
	key, err := json.Marshal(struct {
		Destination api.TestDestination
		Settings    api.SimulatorSettings
	}{destination, settings})
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(key), nil
}
