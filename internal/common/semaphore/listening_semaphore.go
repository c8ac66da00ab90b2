package semaphore

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/semaphore"
)

// ResourceAmounts maps a resource kind, e.g. "runningTests", to a number of units.
type ResourceAmounts map[string]int64

func (a ResourceAmounts) DeepCopy() ResourceAmounts {
	result := make(ResourceAmounts, len(a))
	for k, v := range a {
		result[k] = v
	}
	return result
}

// ListeningSemaphore is a counting semaphore over several named resource kinds.
// Every acquisition takes the kinds in sorted order so concurrent multi-kind requests cannot deadlock.
// Listeners are notified with the available amounts after every change.
type ListeningSemaphore struct {
	kinds    []string
	weighted map[string]*semaphore.Weighted
	maximum  ResourceAmounts

	mu        sync.Mutex
	acquired  ResourceAmounts
	listeners []func(available ResourceAmounts)
}

func NewListeningSemaphore(maximum ResourceAmounts) *ListeningSemaphore {
	kinds := maps.Keys(maximum)
	sort.Strings(kinds)
	weighted := make(map[string]*semaphore.Weighted, len(kinds))
	for _, kind := range kinds {
		weighted[kind] = semaphore.NewWeighted(maximum[kind])
	}
	return &ListeningSemaphore{
		kinds:    kinds,
		weighted: weighted,
		maximum:  maximum.DeepCopy(),
		acquired: ResourceAmounts{},
	}
}

func (s *ListeningSemaphore) AddListener(listener func(available ResourceAmounts)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Acquire blocks until all requested amounts are available or ctx is done.
// On failure nothing stays acquired.
func (s *ListeningSemaphore) Acquire(ctx context.Context, amounts ResourceAmounts) error {
	if err := s.validate(amounts); err != nil {
		return err
	}
	taken := make([]string, 0, len(amounts))
	for _, kind := range s.kinds {
		n := amounts[kind]
		if n == 0 {
			continue
		}
		if err := s.weighted[kind].Acquire(ctx, n); err != nil {
			for _, t := range taken {
				s.weighted[t].Release(amounts[t])
			}
			return errors.WithStack(err)
		}
		taken = append(taken, kind)
	}
	s.recordAcquired(amounts)
	return nil
}

// TryAcquire acquires all requested amounts without blocking, or nothing.
func (s *ListeningSemaphore) TryAcquire(amounts ResourceAmounts) bool {
	if s.validate(amounts) != nil {
		return false
	}
	taken := make([]string, 0, len(amounts))
	for _, kind := range s.kinds {
		n := amounts[kind]
		if n == 0 {
			continue
		}
		if !s.weighted[kind].TryAcquire(n) {
			for _, t := range taken {
				s.weighted[t].Release(amounts[t])
			}
			return false
		}
		taken = append(taken, kind)
	}
	s.recordAcquired(amounts)
	return true
}

// Release returns previously acquired amounts. Releasing more than is held is an error
// and leaves the semaphore unchanged.
func (s *ListeningSemaphore) Release(amounts ResourceAmounts) error {
	s.mu.Lock()
	for kind, n := range amounts {
		if n < 0 {
			s.mu.Unlock()
			return errors.Errorf("cannot release negative amount %d of %s", n, kind)
		}
		if n > s.acquired[kind] {
			s.mu.Unlock()
			return errors.Errorf("cannot release %d of %s, only %d acquired", n, kind, s.acquired[kind])
		}
	}
	for kind, n := range amounts {
		s.acquired[kind] -= n
	}
	available, listeners := s.availableLocked(), s.listeners
	s.mu.Unlock()

	for _, kind := range s.kinds {
		if n := amounts[kind]; n > 0 {
			s.weighted[kind].Release(n)
		}
	}
	notify(listeners, available)
	return nil
}

func (s *ListeningSemaphore) AvailableResources() ResourceAmounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availableLocked()
}

func (s *ListeningSemaphore) MaximumResources() ResourceAmounts {
	return s.maximum.DeepCopy()
}

func (s *ListeningSemaphore) validate(amounts ResourceAmounts) error {
	for kind, n := range amounts {
		maximum, ok := s.maximum[kind]
		if !ok && n > 0 {
			return errors.Errorf("unknown resource kind %s", kind)
		}
		if n < 0 {
			return errors.Errorf("cannot acquire negative amount %d of %s", n, kind)
		}
		if n > maximum {
			return errors.Errorf("requested %d of %s but at most %d can ever be available", n, kind, maximum)
		}
	}
	return nil
}

func (s *ListeningSemaphore) recordAcquired(amounts ResourceAmounts) {
	s.mu.Lock()
	for kind, n := range amounts {
		s.acquired[kind] += n
	}
	available, listeners := s.availableLocked(), s.listeners
	s.mu.Unlock()
	notify(listeners, available)
}

func (s *ListeningSemaphore) availableLocked() ResourceAmounts {
	available := make(ResourceAmounts, len(s.maximum))
	for kind, maximum := range s.maximum {
		available[kind] = maximum - s.acquired[kind]
	}
	return available
}

func notify(listeners []func(ResourceAmounts), available ResourceAmounts) {
	for _, listener := range listeners {
		listener(available.DeepCopy())
	}
}
