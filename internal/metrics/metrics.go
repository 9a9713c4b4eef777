package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Resolution outcomes.
const (
	OutcomeCreated = "created"
	OutcomeResumed = "resumed"
	OutcomeRefused = "refused"
)

// AttemptResolutions counts current-attempt resolutions by outcome.
var AttemptResolutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "savetest",
		Subsystem: "attempts",
		Name:      "resolutions_total",
		Help:      "Current-attempt resolutions by outcome",
	},
	[]string{"outcome"},
)

// ExamDataUpdates counts accepted and rejected exam data payloads.
var ExamDataUpdates = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "savetest",
		Subsystem: "attempts",
		Name:      "exam_data_updates_total",
		Help:      "Exam data attachments by result",
	},
	[]string{"result"},
)

// RequestDuration observes HTTP latency per route template.
var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "savetest",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method, route and status",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

func init() {
	prometheus.MustRegister(AttemptResolutions, ExamDataUpdates, RequestDuration)
}
