package dispatchctl

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/testdispatch/internal/common/util"
	"github.com/G-Research/testdispatch/pkg/api"
	"github.com/G-Research/testdispatch/pkg/client/queue"
)

type ScheduleOptions struct {
	// Override the values of the plan when set.
	JobId            api.JobId
	Priority         *api.Priority
	ScheduleStrategy api.ScheduleStrategyType
}

// Schedule submits the tests of a plan as one job.
func (a *App) Schedule(plan *TestPlan, options ScheduleOptions) error {
	request := &api.ScheduleTestsRequest{
		RequestId:               api.RequestId(util.NewUUID()),
		PrioritizedJob:          api.PrioritizedJob{JobId: plan.JobId, Priority: api.PriorityMedium},
		ScheduleStrategy:        plan.ScheduleStrategy,
		ToolResources:           plan.ToolResources,
		SimulatorSettings:       plan.SimulatorSettings,
		TestEntryConfigurations: plan.TestEntryConfigurations,
	}
	if plan.Priority != nil {
		request.PrioritizedJob.Priority = *plan.Priority
	}
	if options.JobId != "" {
		request.PrioritizedJob.JobId = options.JobId
	}
	if options.Priority != nil {
		request.PrioritizedJob.Priority = *options.Priority
	}
	if options.ScheduleStrategy != "" {
		request.ScheduleStrategy = options.ScheduleStrategy
	}
	if request.ScheduleStrategy == "" {
		request.ScheduleStrategy = api.IndividualStrategy
	}

	return queue.WithQueueClient(a.Params.ApiConnectionDetails, func(c *queue.SynchronousQueueClient) error {
		_, err := c.ScheduleTests(context.Background(), request)
		if err != nil {
			return errors.WithMessagef(err, "error scheduling job %s", request.PrioritizedJob.JobId)
		}
		fmt.Fprintf(a.Out, "Scheduled %d tests as job %s with priority %d\n",
			len(request.TestEntryConfigurations), request.PrioritizedJob.JobId, request.PrioritizedJob.Priority)
		return nil
	})
}

func (a *App) State(jobId api.JobId) error {
	return queue.WithQueueClient(a.Params.ApiConnectionDetails, func(c *queue.SynchronousQueueClient) error {
		state, err := c.JobState(context.Background(), jobId)
		if err != nil {
			return err
		}
		a.printState(state)
		return nil
	})
}

func (a *App) Results(jobId api.JobId) error {
	return queue.WithQueueClient(a.Params.ApiConnectionDetails, func(c *queue.SynchronousQueueClient) error {
		results, err := c.JobResults(context.Background(), jobId)
		if err != nil {
			return err
		}
		a.printResults(results.TestingResults)
		return nil
	})
}

func (a *App) Delete(jobId api.JobId) error {
	return queue.WithQueueClient(a.Params.ApiConnectionDetails, func(c *queue.SynchronousQueueClient) error {
		if err := c.DeleteJob(context.Background(), jobId); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Deleted job %s\n", jobId)
		return nil
	})
}

// Wait polls the job until no bucket is left, prints its results and fails if any test did not pass.
func (a *App) Wait(jobId api.JobId, options WaitOptions) error {
	ctx := context.Background()
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}
	return queue.WithQueueClient(a.Params.ApiConnectionDetails, func(c *queue.SynchronousQueueClient) error {
		for {
			state, err := c.JobState(ctx, jobId)
			if err != nil {
				return err
			}
			if state.QueueState.IsDepleted() {
				break
			}
			fmt.Fprintf(a.Out, "%s | enqueued buckets: %d, dequeued buckets: %d\n",
				time.Now().Format(time.Stamp), state.QueueState.EnqueuedBucketCount, state.QueueState.DequeuedBucketCount)
			select {
			case <-ctx.Done():
				return errors.Wrapf(ctx.Err(), "job %s did not finish", jobId)
			case <-time.After(options.PollInterval):
			}
		}

		results, err := c.JobResults(ctx, jobId)
		if err != nil {
			return err
		}
		if failed, lost := a.printResults(results.TestingResults); failed+lost > 0 {
			return errors.Errorf("job %s: %d tests failed, %d tests lost", jobId, failed, lost)
		}
		return nil
	})
}

func (a *App) printState(state api.JobState) {
	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	fmt.Fprintf(w, "Job:\t%s\n", state.JobId)
	fmt.Fprintf(w, "Enqueued buckets:\t%d\n", state.QueueState.EnqueuedBucketCount)
	fmt.Fprintf(w, "Dequeued buckets:\t%d\n", state.QueueState.DequeuedBucketCount)
	fmt.Fprintf(w, "Enqueued tests:\t%d\n", len(state.QueueState.EnqueuedTests))
	fmt.Fprintf(w, "Dequeued tests:\t%d\n", len(state.QueueState.DequeuedTests))
	fmt.Fprintf(w, "Finished:\t%t\n", state.QueueState.IsDepleted())
	w.Flush()
}

func (a *App) printResults(testingResults []api.TestingResult) (failed int, lost int) {
	succeeded := 0
	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	for _, testingResult := range testingResults {
		for _, result := range testingResult.UnfilteredResults {
			outcome := "failed"
			switch {
			case result.Succeeded():
				outcome = "succeeded"
				succeeded++
			case result.IsLost():
				outcome = "lost"
				lost++
			default:
				failed++
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d runs\n", result.TestEntry, testingResult.TestDestination, outcome, len(result.TestRunResults))
		}
	}
	w.Flush()
	fmt.Fprintf(a.Out, "%d succeeded, %d failed, %d lost\n", succeeded, failed, lost)
	return failed, lost
}
