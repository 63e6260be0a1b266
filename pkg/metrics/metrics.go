package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_tasks_total",
			Help: "Total number of tasks by lifecycle state",
		},
		[]string{"state"},
	)

	TasksSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_tasks_submitted_total",
			Help: "Total number of submitted tasks",
		},
	)

	TasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_tasks_finished_total",
			Help: "Total number of tasks reaching a terminal state, by state",
		},
		[]string{"state"},
	)

	// Worker metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_workers_total",
			Help: "Total number of registered workers by health status",
		},
		[]string{"health"},
	)

	WorkersEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_workers_evicted_total",
			Help: "Total number of workers evicted for heartbeat staleness",
		},
	)

	// Scheduling metrics
	SchedulingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_scheduling_decisions_total",
			Help: "Total number of supervisor decisions by outcome",
		},
		[]string{"decision"},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drover_scheduling_latency_seconds",
			Help:    "Time taken to evaluate a task for scheduling in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BackpressureActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_backpressure_active",
			Help: "Whether backpressure is currently active (1 = active)",
		},
	)

	RetriesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_retries_scheduled_total",
			Help: "Total number of failed attempts scheduled for retry",
		},
	)

	// Arbitration metrics
	Arbitrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_arbitrations_total",
			Help: "Total number of arbitrations by final decision",
		},
		[]string{"decision"},
	)

	Escalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_arbitration_escalations_total",
			Help: "Total number of arbitrations flagged for escalation",
		},
	)

	// Snapshot metrics
	SnapshotsSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_snapshots_saved_total",
			Help: "Total number of task snapshots saved",
		},
	)

	SnapshotsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_snapshots_expired_total",
			Help: "Total number of snapshots removed by TTL cleanup",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drover_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksSubmitted)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkersEvicted)
	prometheus.MustRegister(SchedulingDecisions)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(BackpressureActive)
	prometheus.MustRegister(RetriesScheduled)
	prometheus.MustRegister(Arbitrations)
	prometheus.MustRegister(Escalations)
	prometheus.MustRegister(SnapshotsSaved)
	prometheus.MustRegister(SnapshotsExpired)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
