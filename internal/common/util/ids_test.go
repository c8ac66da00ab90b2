package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewULID_IsMonotonic(t *testing.T) {
	first := NewULID()
	second := NewULID()

	assert.Len(t, first, 26)
	assert.Less(t, first, second)
}

func TestNewUUID_IsUnique(t *testing.T) {
	assert.NotEqual(t, NewUUID(), NewUUID())
}

func TestSequentialIdGenerator(t *testing.T) {
	generator := &SequentialIdGenerator{Prefix: "bucket"}

	assert.Equal(t, "bucket-1", generator.Generate())
	assert.Equal(t, "bucket-2", generator.Generate())
}

func TestDummyClock_Advance(t *testing.T) {
	clock := NewDummyClock(testTime)
	clock.Advance(5)

	assert.Equal(t, testTime.Add(5), clock.Now())
}

var testTime = time.Date(2022, 10, 1, 12, 0, 0, 0, time.UTC)
