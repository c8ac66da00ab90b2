package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestBackgroundTaskManager_RunsUntilStopped(t *testing.T) {
	manager := NewBackgroundTaskManagerWithRegisterer("test_", prometheus.NewRegistry())
	var runs int32
	manager.Register(func() { atomic.AddInt32(&runs, 1) }, time.Millisecond, "counter")

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, time.Second, time.Millisecond)

	timedOut := manager.StopAll(time.Second)
	assert.False(t, timedOut)

	stoppedAt := atomic.LoadInt32(&runs)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stoppedAt, atomic.LoadInt32(&runs))
}

func TestBackgroundTaskManager_StopAllTimesOut(t *testing.T) {
	manager := NewBackgroundTaskManagerWithRegisterer("test_", prometheus.NewRegistry())
	release := make(chan struct{})
	started := make(chan struct{})
	manager.Register(func() {
		close(started)
		<-release
	}, time.Hour, "blocking")
	<-started

	assert.True(t, manager.StopAll(10*time.Millisecond))
	close(release)
}

func TestBackgroundTaskManager_SurvivesPanics(t *testing.T) {
	manager := NewBackgroundTaskManagerWithRegisterer("test_", prometheus.NewRegistry())
	var runs int32
	manager.Register(func() {
		if atomic.AddInt32(&runs, 1) == 1 {
			panic("first run fails")
		}
	}, time.Millisecond, "flaky")

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, time.Second, time.Millisecond)
	assert.False(t, manager.StopAll(time.Second))
}
