// Package localrun runs a test plan on this machine without a queue server.
package localrun

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testdispatch/internal/common/util"
	"github.com/G-Research/testdispatch/internal/execution"
	"github.com/G-Research/testdispatch/internal/splitting"
	"github.com/G-Research/testdispatch/pkg/api"
)

type Config struct {
	NumberOfSimulators uint
	ScheduleStrategy   api.ScheduleStrategyType
	Execution          execution.BucketRunnerConfig
}

type Request struct {
	ToolResources           api.ToolResources
	SimulatorSettings       api.SimulatorSettings
	TestEntryConfigurations []api.TestEntryConfiguration
}

// Result holds one TestingResult per bucket that ran, in the order the buckets were created.
type Result struct {
	TestingResults []api.TestingResult
}

func (r *Result) Counts() (succeeded int, failed int, lost int) {
	for _, testingResult := range r.TestingResults {
		succeeded += len(testingResult.SuccessfulTests())
		failed += len(testingResult.FailedTests())
		lost += len(testingResult.LostTests())
	}
	return
}

func (r *Result) AllSucceeded() bool {
	_, failed, lost := r.Counts()
	return failed == 0 && lost == 0
}

type LocalRunner struct {
	config      Config
	testRunner  execution.TestRunner
	idGenerator util.IdGenerator
	clock       util.Clock
}

func NewLocalRunner(config Config, testRunner execution.TestRunner, idGenerator util.IdGenerator, clock util.Clock) *LocalRunner {
	return &LocalRunner{config: config, testRunner: testRunner, idGenerator: idGenerator, clock: clock}
}

// Run splits the request into buckets and runs them on the local simulators. When running
// fails part way the results of the buckets that finished are returned along with the error.
func (r *LocalRunner) Run(ctx context.Context, request Request) (*Result, error) {
	splitter, err := splitting.NewBucketSplitter(r.config.ScheduleStrategy, r.idGenerator)
	if err != nil {
		return nil, err
	}
	numberOfSimulators := r.config.NumberOfSimulators
	if numberOfSimulators == 0 {
		numberOfSimulators = 1
	}
	buckets := splitter.Generate(request.TestEntryConfigurations, splitting.SplitInfo{
		NumberOfWorkers:   numberOfSimulators,
		ToolResources:     request.ToolResources,
		SimulatorSettings: request.SimulatorSettings,
	})
	log.Infof("Running %d tests in %d buckets on %d simulators", len(request.TestEntryConfigurations), len(buckets), numberOfSimulators)

	pool := execution.NewLocalSimulatorPool(int(numberOfSimulators), r.idGenerator, r.clock)
	scheduler := execution.NewScheduler(numberOfSimulators, execution.NewBucketRunner(r.config.Execution, r.testRunner, pool))
	collector := newResultCollector(buckets)
	err = scheduler.Run(ctx, collector, collector)
	return collector.result(), err
}

// resultCollector hands out a fixed list of buckets and gathers their results.
type resultCollector struct {
	mu      sync.Mutex
	buckets []*api.Bucket
	next    int
	results map[api.BucketId]api.TestingResult
}

func newResultCollector(buckets []*api.Bucket) *resultCollector {
	return &resultCollector{buckets: buckets, results: map[api.BucketId]api.TestingResult{}}
}

func (c *resultCollector) NextBucket(_ context.Context) (*api.Bucket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.buckets) {
		return nil, nil
	}
	bucket := c.buckets[c.next]
	c.next++
	return bucket, nil
}

func (c *resultCollector) DidRunBucket(_ context.Context, bucket *api.Bucket, result api.TestingResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[bucket.BucketId] = result
	return nil
}

func (c *resultCollector) result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := &Result{TestingResults: []api.TestingResult{}}
	for _, bucket := range c.buckets {
		if testingResult, ok := c.results[bucket.BucketId]; ok {
			result.TestingResults = append(result.TestingResults, testingResult)
		}
	}
	return result
}
