package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/G-Research/testdispatch/internal/queueserver/aliveness"
	"github.com/G-Research/testdispatch/pkg/api"
)

const MetricPrefix = "testdispatch_"

type QueueStateProvider interface {
	QueueStates() map[api.JobId]api.RunningQueueState
}

type WorkerStatusProvider interface {
	StatusCounts() map[aliveness.Status]int
}

// ExposeQueueMetrics registers a collector reading the queue and worker state on every scrape.
func ExposeQueueMetrics(registerer prometheus.Registerer, queues QueueStateProvider, workers WorkerStatusProvider) *QueueInfoCollector {
	collector := &QueueInfoCollector{queues: queues, workers: workers}
	registerer.MustRegister(collector)
	return collector
}

type QueueInfoCollector struct {
	queues  QueueStateProvider
	workers WorkerStatusProvider
}

var enqueuedBucketsDesc = prometheus.NewDesc(
	MetricPrefix+"queue_enqueued_buckets",
	"Number of buckets waiting to be dequeued",
	[]string{"job"},
	nil,
)

var dequeuedBucketsDesc = prometheus.NewDesc(
	MetricPrefix+"queue_dequeued_buckets",
	"Number of buckets leased to workers",
	[]string{"job"},
	nil,
)

var enqueuedTestsDesc = prometheus.NewDesc(
	MetricPrefix+"queue_enqueued_tests",
	"Number of tests waiting to be dequeued",
	[]string{"job"},
	nil,
)

var workersDesc = prometheus.NewDesc(
	MetricPrefix+"workers",
	"Number of known workers",
	[]string{"status"},
	nil,
)

var jobsDesc = prometheus.NewDesc(
	MetricPrefix+"jobs",
	"Number of jobs held by the queue server",
	[]string{"state"},
	nil,
)

func (c *QueueInfoCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- enqueuedBucketsDesc
	desc <- dequeuedBucketsDesc
	desc <- enqueuedTestsDesc
	desc <- workersDesc
	desc <- jobsDesc
}

func (c *QueueInfoCollector) Collect(metrics chan<- prometheus.Metric) {
	states := c.queues.QueueStates()
	jobIds := maps.Keys(states)
	slices.Sort(jobIds)

	ongoing := 0
	for _, jobId := range jobIds {
		state := states[jobId]
		if !state.IsDepleted() {
			ongoing++
		}
		job := string(jobId)
		metrics <- prometheus.MustNewConstMetric(enqueuedBucketsDesc, prometheus.GaugeValue, float64(state.EnqueuedBucketCount), job)
		metrics <- prometheus.MustNewConstMetric(dequeuedBucketsDesc, prometheus.GaugeValue, float64(state.DequeuedBucketCount), job)
		metrics <- prometheus.MustNewConstMetric(enqueuedTestsDesc, prometheus.GaugeValue, float64(len(state.EnqueuedTests)), job)
	}
	metrics <- prometheus.MustNewConstMetric(jobsDesc, prometheus.GaugeValue, float64(ongoing), "ongoing")
	metrics <- prometheus.MustNewConstMetric(jobsDesc, prometheus.GaugeValue, float64(len(jobIds)-ongoing), "finished")

	for status, count := range c.workers.StatusCounts() {
		metrics <- prometheus.MustNewConstMetric(workersDesc, prometheus.GaugeValue, float64(count), status.String())
	}
}

var acceptedResultsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "accepted_test_results_total",
		Help: "Test results accepted from workers, by whether they were collected or reenqueued",
	},
	[]string{"outcome"},
)

var stuckBucketsCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricPrefix + "stuck_buckets_reenqueued_total",
		Help: "Leased buckets put back into the queue because their worker stopped processing them",
	},
)

func RecordAcceptedResults(collected int, reenqueued int) {
	acceptedResultsCounter.WithLabelValues("collected").Add(float64(collected))
	acceptedResultsCounter.WithLabelValues("reenqueued").Add(float64(reenqueued))
}

func RecordStuckBuckets(count int) {
	stuckBucketsCounter.Add(float64(count))
}
