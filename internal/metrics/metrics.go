// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PeakbaggerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peaklogger_peakbagger_requests_total",
			Help: "Peakbagger requests by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	PeakbaggerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peaklogger_peakbagger_request_duration_seconds",
			Help:    "Peakbagger request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	StravaRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peaklogger_strava_requests_total",
			Help: "Strava API requests by operation and status code.",
		},
		[]string{"operation", "status"},
	)

	Analyses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peaklogger_activity_analyses_total",
			Help: "Activity analyses by outcome.",
		},
		[]string{"outcome"},
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "peaklogger_activity_analysis_duration_seconds",
			Help:    "Time spent analyzing a single activity.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	SummitsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peaklogger_summits_detected_total",
			Help: "Peaks classified as summited.",
		},
	)

	DescriptionUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peaklogger_description_updates_total",
			Help: "Activity description updates by outcome.",
		},
		[]string{"outcome"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peaklogger_webhook_events_total",
			Help: "Strava webhook events received.",
		},
		[]string{"object_type", "aspect_type"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peaklogger_queue_depth",
			Help: "Activities waiting in the analysis queue.",
		},
	)

	QueueJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peaklogger_queue_jobs_total",
			Help: "Queue jobs by result.",
		},
		[]string{"result"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePeakbagger records one Peakbagger round trip.
func ObservePeakbagger(endpoint string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	PeakbaggerRequests.WithLabelValues(endpoint, outcome).Inc()
	PeakbaggerDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
