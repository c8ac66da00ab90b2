package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupingKey_IgnoresTestEntry(t *testing.T) {
	first := TestEntryConfiguration{
		TestEntry:       TestEntry{ClassName: "A", MethodName: "one"},
		TestDestination: TestDestination{DeviceType: "iPhone X", Runtime: "15.0"},
		TestExecutionBehavior: TestExecutionBehavior{
			Environment:     map[string]string{"B": "2", "A": "1"},
			NumberOfRetries: 1,
		},
	}
	second := first
	second.TestEntry = TestEntry{ClassName: "B", MethodName: "two"}
	second.TestExecutionBehavior.Environment = map[string]string{"A": "1", "B": "2"}

	assert.Equal(t, first.GroupingKey(), second.GroupingKey())
}

func TestGroupingKey_DiffersByDestination(t *testing.T) {
	first := TestEntryConfiguration{TestDestination: TestDestination{DeviceType: "iPhone X", Runtime: "15.0"}}
	second := TestEntryConfiguration{TestDestination: TestDestination{DeviceType: "iPhone X", Runtime: "16.0"}}

	assert.NotEqual(t, first.GroupingKey(), second.GroupingKey())
}

func TestBucket_WithConfigurationsKeepsId(t *testing.T) {
	bucket := &Bucket{
		BucketId: "bucket",
		TestEntryConfigurations: []TestEntryConfiguration{
			{TestEntry: TestEntry{ClassName: "A", MethodName: "one"}},
			{TestEntry: TestEntry{ClassName: "A", MethodName: "two"}},
		},
	}
	derived := bucket.WithConfigurations(bucket.TestEntryConfigurations[1:])

	assert.Equal(t, bucket.BucketId, derived.BucketId)
	assert.Equal(t, []TestEntry{{ClassName: "A", MethodName: "two"}}, derived.TestEntries())
	assert.True(t, bucket.Contains(TestEntry{ClassName: "A", MethodName: "one"}))
	assert.False(t, derived.Contains(TestEntry{ClassName: "A", MethodName: "one"}))
}
