package repository

import (
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/G-Research/testdispatch/pkg/api"
)

const (
	jobResultsPrefix      = "JobResults:"
	jobResultsOrderPrefix = "JobResultsOrder:"
	maxTransactionRetries = 10
)

// RedisJobResultsRepository keeps a hash of bucket id to testing result per job, plus a list
// holding the order in which buckets first reported.
type RedisJobResultsRepository struct {
	db redis.UniversalClient
}

func NewRedisJobResultsRepository(db redis.UniversalClient) *RedisJobResultsRepository {
	return &RedisJobResultsRepository{db: db}
}

func (r *RedisJobResultsRepository) Append(jobId api.JobId, result api.TestingResult) error {
	key := jobResultsPrefix + string(jobId)
	orderKey := jobResultsOrderPrefix + string(jobId)
	field := string(result.BucketId)

	transaction := func(tx *redis.Tx) error {
		toStore := result
		isNew := false
		existing, err := tx.HGet(key, field).Result()
		if err == redis.Nil {
			isNew = true
		} else if err != nil {
			return errors.WithStack(err)
		} else {
			var stored api.TestingResult
			if err := json.Unmarshal([]byte(existing), &stored); err != nil {
				return errors.Wrapf(err, "error unmarshalling results of bucket %s", field)
			}
			toStore, err = api.CombineTestingResults(stored, result)
			if err != nil {
				return err
			}
		}

		data, err := json.Marshal(toStore)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			pipe.HSet(key, field, data)
			if isNew {
				pipe.RPush(orderKey, field)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTransactionRetries; i++ {
		err := r.db.Watch(transaction, key)
		if err == redis.TxFailedErr {
			continue
		}
		return errors.WithStack(err)
	}
	return errors.Errorf("failed to store results of bucket %s for job %s: too much contention", field, jobId)
}

func (r *RedisJobResultsRepository) Results(jobId api.JobId) ([]api.TestingResult, error) {
	key := jobResultsPrefix + string(jobId)
	orderKey := jobResultsOrderPrefix + string(jobId)

	order, err := r.db.LRange(orderKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "error reading result order of job %s", jobId)
	}
	stored, err := r.db.HGetAll(key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "error reading results of job %s", jobId)
	}

	results := make([]api.TestingResult, 0, len(order))
	for _, bucketId := range order {
		data, exists := stored[bucketId]
		if !exists {
			continue
		}
		var result api.TestingResult
		if err := json.Unmarshal([]byte(data), &result); err != nil {
			return nil, errors.Wrapf(err, "error unmarshalling results of bucket %s", bucketId)
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *RedisJobResultsRepository) Delete(jobId api.JobId) error {
	err := r.db.Del(jobResultsPrefix+string(jobId), jobResultsOrderPrefix+string(jobId)).Err()
	return errors.WithStack(err)
}
