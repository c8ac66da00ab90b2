package execution

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testdispatch/pkg/api"
)

type BucketRunnerConfig struct {
	// How often a test runner that stopped without making progress is restarted.
	MaximumRevives uint
	// How often simulator allocation is attempted before the bucket fails.
	SimulatorAllocationAttempts uint
	SimulatorAllocationDelay    time.Duration
}

func DefaultBucketRunnerConfig() BucketRunnerConfig {
	return BucketRunnerConfig{
		MaximumRevives:              1,
		SimulatorAllocationAttempts: 3,
		SimulatorAllocationDelay:    time.Second,
	}
}

// BucketExecutor runs a bucket to completion and produces its merged result.
type BucketExecutor interface {
	Run(ctx context.Context, bucket *api.Bucket) (api.TestingResult, error)
}

// BucketRunner runs a bucket once and then re-runs failed configurations while they have retries
// left. Results are merged per configuration, so a test that appears twice in a bucket gets two
// results. Configurations that never produce a result are lost; they are not retried here, the
// queue decides what happens to them.
type BucketRunner struct {
	config        BucketRunnerConfig
	runner        TestRunner
	simulatorPool SimulatorPool
}

func NewBucketRunner(config BucketRunnerConfig, runner TestRunner, simulatorPool SimulatorPool) *BucketRunner {
	// retry-go treats zero attempts as unlimited
	if config.SimulatorAllocationAttempts == 0 {
		config.SimulatorAllocationAttempts = 1
	}
	return &BucketRunner{config: config, runner: runner, simulatorPool: simulatorPool}
}

func (r *BucketRunner) Run(ctx context.Context, bucket *api.Bucket) (api.TestingResult, error) {
	logger := log.WithField("bucket", bucket.BucketId)
	configurations := bucket.TestEntryConfigurations

	// indexed by position in the bucket
	merged := make([]api.TestEntryResult, len(configurations))
	runs := make([]uint, len(configurations))
	pending := make([]int, len(configurations))
	for position, configuration := range configurations {
		merged[position] = api.LostTestEntryResult(configuration.TestEntry)
		pending[position] = position
	}

	for len(pending) > 0 {
		attempt := make([]api.TestEntryConfiguration, 0, len(pending))
		for _, position := range pending {
			attempt = append(attempt, configurations[position])
		}
		results, err := r.runAttempt(ctx, bucket, attempt)
		if err != nil {
			return api.TestingResult{}, err
		}

		retry := []int{}
		for i, position := range pending {
			merged[position] = api.PreferredTestEntryResult(merged[position], results[i])
			runs[position]++
			if results[i].Failed() && runs[position] <= configurations[position].TestExecutionBehavior.NumberOfRetries {
				retry = append(retry, position)
			}
		}
		if len(retry) > 0 {
			logger.Infof("Retrying %d failed tests", len(retry))
		}
		pending = retry
	}

	return api.TestingResult{
		BucketId:          bucket.BucketId,
		TestDestination:   bucket.TestDestination(),
		UnfilteredResults: merged,
	}, nil
}

// runAttempt runs the configurations on one simulator and returns exactly one result per
// configuration, in order. A runner that stops early is restarted on the remaining entries;
// restarts that follow a run without any new result count against MaximumRevives.
func (r *BucketRunner) runAttempt(ctx context.Context, bucket *api.Bucket, configurations []api.TestEntryConfiguration) ([]api.TestEntryResult, error) {
	logger := log.WithField("bucket", bucket.BucketId)
	simulator, err := r.allocateSimulator(ctx, bucket)
	if err != nil {
		return nil, err
	}
	defer r.simulatorPool.Free(simulator)

	collected := map[api.TestEntry][]api.TestEntryResult{}
	remaining := configurations
	revives := uint(0)
	for len(remaining) > 0 {
		results, err := r.runner.Run(ctx, TestRun{
			BucketId:                bucket.BucketId,
			ToolResources:           bucket.ToolResources,
			TestEntryConfigurations: remaining,
			Simulator:               simulator,
		})
		if err != nil {
			logger.WithError(err).Warn("Test runner stopped")
		}

		wanted := map[api.TestEntry]int{}
		for _, configuration := range remaining {
			wanted[configuration.TestEntry]++
		}
		progress := 0
		for _, result := range results {
			if result.IsLost() || wanted[result.TestEntry] == 0 {
				continue
			}
			wanted[result.TestEntry]--
			collected[result.TestEntry] = append(collected[result.TestEntry], result)
			progress++
		}

		next := []api.TestEntryConfiguration{}
		for _, configuration := range remaining {
			if wanted[configuration.TestEntry] > 0 {
				wanted[configuration.TestEntry]--
				next = append(next, configuration)
			}
		}
		remaining = next
		if len(remaining) == 0 || ctx.Err() != nil {
			break
		}
		if progress == 0 {
			if revives >= r.config.MaximumRevives {
				logger.Warnf("Test runner made no progress, giving up on %d tests", len(remaining))
				break
			}
			revives++
		}
		logger.Infof("Reviving test runner for %d remaining tests", len(remaining))
	}

	ordered := make([]api.TestEntryResult, 0, len(configurations))
	for _, configuration := range configurations {
		entry := configuration.TestEntry
		if results := collected[entry]; len(results) > 0 {
			ordered = append(ordered, results[0])
			collected[entry] = results[1:]
		} else {
			ordered = append(ordered, api.LostTestEntryResult(entry))
		}
	}
	return ordered, nil
}

func (r *BucketRunner) allocateSimulator(ctx context.Context, bucket *api.Bucket) (*Simulator, error) {
	var simulator *Simulator
	err := retry.Do(
		func() error {
			allocated, err := r.simulatorPool.Allocate(ctx, bucket.TestDestination(), bucket.SimulatorSettings)
			if err != nil {
				return err
			}
			simulator = allocated
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.config.SimulatorAllocationAttempts),
		retry.Delay(r.config.SimulatorAllocationDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithField("bucket", bucket.BucketId).WithError(err).Warnf("Simulator allocation attempt %d failed", n+1)
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "could not allocate %s simulator for bucket %s", bucket.TestDestination(), bucket.BucketId)
	}
	return simulator, nil
}
