// Package fake provides a scripted test runner for tests of code that runs buckets.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/testdispatch/internal/execution"
	"github.com/G-Research/testdispatch/pkg/api"
)

type Outcome int

const (
	Pass Outcome = iota
	Fail
	// Lose leaves the entry without a result, as if the runner crashed before reaching it.
	Lose
)

// TestRunner returns the scripted outcomes for each entry in turn. The last outcome of an
// entry repeats once its script is used up; entries without a script pass. When no entry of
// a run produces a result the run returns an error, like a crashed runner.
type TestRunner struct {
	mu       sync.Mutex
	scripts  map[api.TestEntry][]Outcome
	runs     []execution.TestRun
	HostName string
}

func NewTestRunner() *TestRunner {
	return &TestRunner{scripts: map[api.TestEntry][]Outcome{}, HostName: "fake-host"}
}

func (r *TestRunner) Script(entry api.TestEntry, outcomes ...Outcome) *TestRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[entry] = append(r.scripts[entry], outcomes...)
	return r
}

func (r *TestRunner) Run(ctx context.Context, run execution.TestRun) ([]api.TestEntryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)

	simulatorId := ""
	if run.Simulator != nil {
		simulatorId = run.Simulator.Id
	}
	results := []api.TestEntryResult{}
	for _, configuration := range run.TestEntryConfigurations {
		outcome := r.nextOutcomeLocked(configuration.TestEntry)
		if outcome == Lose {
			continue
		}
		results = append(results, api.TestEntryResult{
			TestEntry: configuration.TestEntry,
			TestRunResults: []api.TestRunResult{{
				Succeeded:   outcome == Pass,
				Duration:    time.Second,
				HostName:    r.HostName,
				SimulatorId: simulatorId,
			}},
		})
	}
	if len(results) == 0 && len(run.TestEntryConfigurations) > 0 {
		return results, errors.New("test runner crashed")
	}
	return results, nil
}

// Runs returns every run seen so far.
func (r *TestRunner) Runs() []execution.TestRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]execution.TestRun{}, r.runs...)
}

// RunCount returns how often the entry was handed to the runner.
func (r *TestRunner) RunCount(entry api.TestEntry) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, run := range r.runs {
		for _, configuration := range run.TestEntryConfigurations {
			if configuration.TestEntry == entry {
				count++
			}
		}
	}
	return count
}

func (r *TestRunner) nextOutcomeLocked(entry api.TestEntry) Outcome {
	script := r.scripts[entry]
	switch len(script) {
	case 0:
		return Pass
	case 1:
		return script[0]
	}
	r.scripts[entry] = script[1:]
	return script[0]
}
