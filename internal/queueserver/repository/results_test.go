package repository

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/testdispatch/pkg/api"
)

var (
	entryA = api.TestEntry{ClassName: "A", MethodName: "one"}
	entryB = api.TestEntry{ClassName: "A", MethodName: "two"}
)

func result(bucketId api.BucketId, entries ...api.TestEntryResult) api.TestingResult {
	return api.TestingResult{BucketId: bucketId, UnfilteredResults: entries}
}

func run(entry api.TestEntry, succeeded bool) api.TestEntryResult {
	return api.TestEntryResult{
		TestEntry:      entry,
		TestRunResults: []api.TestRunResult{{Succeeded: succeeded, StartTime: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)}},
	}
}

func withRepositories(t *testing.T, action func(t *testing.T, repo JobResultsRepository)) {
	t.Run("in memory", func(t *testing.T) {
		action(t, NewInMemoryJobResultsRepository())
	})
	t.Run("redis", func(t *testing.T) {
		db, err := miniredis.Run()
		require.NoError(t, err)
		defer db.Close()

		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{db.Addr()}})
		defer client.Close()
		action(t, NewRedisJobResultsRepository(client))
	})
}

func TestAppend_CombinesResultsOfTheSameBucket(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo JobResultsRepository) {
		require.NoError(t, repo.Append("job", result("b1", run(entryA, false), run(entryB, true))))
		require.NoError(t, repo.Append("job", result("b2", run(entryA, true))))
		require.NoError(t, repo.Append("job", result("b1", run(entryA, true))))

		results, err := repo.Results("job")
		require.NoError(t, err)
		assert.Equal(t, []api.TestingResult{
			result("b1", run(entryA, false), run(entryB, true), run(entryA, true)),
			result("b2", run(entryA, true)),
		}, results)
	})
}

func TestResults_UnknownJobIsEmpty(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo JobResultsRepository) {
		results, err := repo.Results("unknown")
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestDelete(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo JobResultsRepository) {
		require.NoError(t, repo.Append("job", result("b1", run(entryA, true))))
		require.NoError(t, repo.Append("other", result("b1", run(entryA, false))))

		require.NoError(t, repo.Delete("job"))

		results, err := repo.Results("job")
		require.NoError(t, err)
		assert.Empty(t, results)

		results, err = repo.Results("other")
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})
}
