package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		jobsProcessedTotal,
		jobDurationSeconds,
		jobRetriesTotal,
		queueDepth,
		queueMaintenanceTotal,
	)
}

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_processed_total",
			Help: "Total number of queue jobs processed, labeled by queue and outcome.",
		},
		[]string{"queue", "outcome"}, // 'completed', 'retried', 'failed'
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Handler run time per queue.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"queue"},
	)

	jobRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_job_retries_total",
			Help: "Redeliveries scheduled after a retryable failure, by delivery number.",
		},
		[]string{"queue", "attempt"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Jobs per queue and state at the last maintenance sweep.",
		},
		[]string{"queue", "state"}, // 'waiting', 'active', 'delayed', 'failed'
	)

	queueMaintenanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_queue_maintenance_total",
			Help: "Jobs moved by maintenance, labeled by action.",
		},
		[]string{"queue", "action"}, // 'promoted', 'requeued'
	)
)

func IncJob(queue, outcome string) {
	jobsProcessedTotal.WithLabelValues(norm(queue), norm(outcome)).Inc()
}

func ObserveJobDuration(queue string, seconds float64) {
	jobDurationSeconds.WithLabelValues(norm(queue)).Observe(seconds)
}

func IncJobRetry(queue, attempt string) {
	jobRetriesTotal.WithLabelValues(norm(queue), attempt).Inc()
}

func SetQueueDepth(queue string, waiting, active, delayed, failed int64) {
	q := norm(queue)
	queueDepth.WithLabelValues(q, "waiting").Set(float64(waiting))
	queueDepth.WithLabelValues(q, "active").Set(float64(active))
	queueDepth.WithLabelValues(q, "delayed").Set(float64(delayed))
	queueDepth.WithLabelValues(q, "failed").Set(float64(failed))
}

func AddMaintenance(queue, action string, n int) {
	if n <= 0 {
		return
	}
	queueMaintenanceTotal.WithLabelValues(norm(queue), norm(action)).Add(float64(n))
}
