package repository

import (
	"sync"

	"github.com/G-Research/testdispatch/pkg/api"
)

// JobResultsRepository stores the collected testing results of every job.
// Results appended for a bucket id that already has results are added to them, so a job
// holds exactly one TestingResult per bucket. Every configuration is appended once.
type JobResultsRepository interface {
	Append(jobId api.JobId, result api.TestingResult) error
	Results(jobId api.JobId) ([]api.TestingResult, error)
	Delete(jobId api.JobId) error
}

type jobResults struct {
	order    []api.BucketId
	byBucket map[api.BucketId]api.TestingResult
}

type InMemoryJobResultsRepository struct {
	mu   sync.Mutex
	jobs map[api.JobId]*jobResults
}

func NewInMemoryJobResultsRepository() *InMemoryJobResultsRepository {
	return &InMemoryJobResultsRepository{jobs: map[api.JobId]*jobResults{}}
}

func (r *InMemoryJobResultsRepository) Append(jobId api.JobId, result api.TestingResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[jobId]
	if !exists {
		job = &jobResults{byBucket: map[api.BucketId]api.TestingResult{}}
		r.jobs[jobId] = job
	}
	existing, exists := job.byBucket[result.BucketId]
	if !exists {
		job.order = append(job.order, result.BucketId)
		job.byBucket[result.BucketId] = result
		return nil
	}
	combined, err := api.CombineTestingResults(existing, result)
	if err != nil {
		return err
	}
	job.byBucket[result.BucketId] = combined
	return nil
}

func (r *InMemoryJobResultsRepository) Results(jobId api.JobId) ([]api.TestingResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := []api.TestingResult{}
	job, exists := r.jobs[jobId]
	if !exists {
		return results, nil
	}
	for _, bucketId := range job.order {
		results = append(results, job.byBucket[bucketId])
	}
	return results, nil
}

func (r *InMemoryJobResultsRepository) Delete(jobId api.JobId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobId)
	return nil
}
