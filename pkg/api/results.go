package api

import (
	"time"

	"github.com/pkg/errors"
)

type TestException struct {
	Reason            string `json:"reason"`
	FilePathInProject string `json:"filePathInProject,omitempty"`
	LineNumber        int    `json:"lineNumber,omitempty"`
}

// TestRunResult is the outcome of one run of one test.
type TestRunResult struct {
	Succeeded   bool            `json:"succeeded"`
	Exceptions  []TestException `json:"exceptions,omitempty"`
	Duration    time.Duration   `json:"duration"`
	StartTime   time.Time       `json:"startTime"`
	HostName    string          `json:"hostName,omitempty"`
	SimulatorId string          `json:"simulatorId,omitempty"`
}

// TestEntryResult holds every run observed for one entry. An entry without runs is lost.
type TestEntryResult struct {
	TestEntry      TestEntry       `json:"testEntry"`
	TestRunResults []TestRunResult `json:"testRunResults"`
}

func LostTestEntryResult(entry TestEntry) TestEntryResult {
	return TestEntryResult{TestEntry: entry, TestRunResults: []TestRunResult{}}
}

func (r TestEntryResult) IsLost() bool {
	return len(r.TestRunResults) == 0
}

func (r TestEntryResult) Succeeded() bool {
	for _, run := range r.TestRunResults {
		if run.Succeeded {
			return true
		}
	}
	return false
}

func (r TestEntryResult) Failed() bool {
	return !r.IsLost() && !r.Succeeded()
}

// rank orders outcomes: lost < failed < succeeded.
func (r TestEntryResult) rank() int {
	switch {
	case r.Succeeded():
		return 2
	case r.IsLost():
		return 0
	default:
		return 1
	}
}

// TestingResult is the outcome of executing one bucket.
type TestingResult struct {
	BucketId          BucketId          `json:"bucketId"`
	TestDestination   TestDestination   `json:"testDestination"`
	UnfilteredResults []TestEntryResult `json:"unfilteredResults"`
}

func (r TestingResult) SuccessfulTests() []TestEntryResult {
	return r.filter(TestEntryResult.Succeeded)
}

func (r TestingResult) FailedTests() []TestEntryResult {
	return r.filter(TestEntryResult.Failed)
}

func (r TestingResult) LostTests() []TestEntryResult {
	return r.filter(TestEntryResult.IsLost)
}

func (r TestingResult) filter(predicate func(TestEntryResult) bool) []TestEntryResult {
	filtered := []TestEntryResult{}
	for _, result := range r.UnfilteredResults {
		if predicate(result) {
			filtered = append(filtered, result)
		}
	}
	return filtered
}

// PreferredTestEntryResult picks the result to keep out of two results for the same configuration.
// The more successful one wins; between equally successful results the candidate wins.
func PreferredTestEntryResult(current, candidate TestEntryResult) TestEntryResult {
	if candidate.rank() >= current.rank() {
		return candidate
	}
	return current
}

// CombineTestingResults appends the results of several deliveries for the same bucket. Every
// delivery holds results of different configurations, so a test that appears in more than one
// of them was repeated within the bucket.
func CombineTestingResults(results ...TestingResult) (TestingResult, error) {
	if len(results) == 0 {
		return TestingResult{}, errors.New("no testing results to combine")
	}
	combined := TestingResult{
		BucketId:          results[0].BucketId,
		TestDestination:   results[0].TestDestination,
		UnfilteredResults: []TestEntryResult{},
	}
	for _, result := range results {
		if result.BucketId != combined.BucketId {
			return TestingResult{}, errors.Errorf("cannot combine results of bucket %s with bucket %s", result.BucketId, combined.BucketId)
		}
		combined.UnfilteredResults = append(combined.UnfilteredResults, result.UnfilteredResults...)
	}
	return combined, nil
}
