package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	subsystem = "sitesmith"

	queueDepth            = "queue_depth"
	jobsProcessedTotal    = "jobs_processed_total"
	rateLimitRejectsTotal = "rate_limit_rejections_total"
	livePreviews          = "live_previews"

	statusLabel   = "status"
	actionLabel   = "action"
	workflowLabel = "workflow"
)

var queueDepthMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      queueDepth,
		Help:      "number of jobs currently waiting in the queue",
	},
)

var jobsProcessedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      jobsProcessedTotal,
		Help:      "number of finished worker executions by workflow and terminal status",
	},
	[]string{workflowLabel, statusLabel},
)

var rateLimitRejectsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      rateLimitRejectsTotal,
		Help:      "number of requests rejected by the rate limiter",
	},
	[]string{actionLabel},
)

var livePreviewsMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      livePreviews,
		Help:      "number of non-expired preview instances on disk",
	},
)

func UpdateQueueDepthMetric(depth int64) {
	queueDepthMetric.Set(float64(depth))
}

func IncreaseJobsProcessedMetric(workflow, status string) {
	jobsProcessedTotalMetric.With(prometheus.Labels{
		workflowLabel: workflow,
		statusLabel:   status,
	}).Inc()
}

func IncreaseRateLimitRejectsMetric(action string) {
	rateLimitRejectsTotalMetric.With(prometheus.Labels{actionLabel: action}).Inc()
}

func UpdateLivePreviewsMetric(count int) {
	livePreviewsMetric.Set(float64(count))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(queueDepthMetric)
	prometheus.MustRegister(jobsProcessedTotalMetric)
	prometheus.MustRegister(rateLimitRejectsTotalMetric)
	prometheus.MustRegister(livePreviewsMetric)
}
