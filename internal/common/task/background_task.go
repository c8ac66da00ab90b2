package task

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

// BackgroundTaskManager runs registered functions periodically until StopAll is called.
// A panicking run is logged and counted; the task keeps its schedule.
// Register and StopAll must be called from a single goroutine.
type BackgroundTaskManager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	latency *prometheus.HistogramVec
	panics  *prometheus.CounterVec
}

func NewBackgroundTaskManager(metricsPrefix string) *BackgroundTaskManager {
	return NewBackgroundTaskManagerWithRegisterer(metricsPrefix, prometheus.DefaultRegisterer)
}

// NewBackgroundTaskManagerWithRegisterer lets tests keep task metrics in their own registry.
func NewBackgroundTaskManagerWithRegisterer(metricsPrefix string, registerer prometheus.Registerer) *BackgroundTaskManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &BackgroundTaskManager{
		ctx:    ctx,
		cancel: cancel,
		latency: promauto.With(registerer).NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "background_task_latency_seconds",
			Help:    "Latency of one run of a background task in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{"task"}),
		panics: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "background_task_panics_total",
			Help: "Number of background task runs that panicked",
		}, []string{"task"}),
	}
}

// Register runs backgroundTask straight away and then every interval.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, name string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			m.runOnce(name, backgroundTask)
			select {
			case <-ticker.C:
			case <-m.ctx.Done():
				log.Debugf("Stopped background task %s", name)
				return
			}
		}
	}()
}

// StopAll stops every task and waits for running iterations to finish.
// Returns true if the wait timed out.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()
	select {
	case <-done:
		return false
	case <-time.After(timeout):
		return true
	}
}

func (m *BackgroundTaskManager) runOnce(name string, backgroundTask func()) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Background task %s panicked: %v", name, r)
			m.panics.WithLabelValues(name).Inc()
		}
		m.latency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()
	backgroundTask()
}
