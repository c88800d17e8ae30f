package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visiscope_http_requests_total",
			Help: "Total number of API requests.",
		},
		[]string{"method", "path", "status"},
	)

	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visiscope_probes_total",
			Help: "Site probes by probed path and outcome.",
		},
		[]string{"path", "outcome"}, // outcome: ok, miss, error
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visiscope_probe_duration_seconds",
			Help:    "Duration of individual site probes.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"path"},
	)

	QuickScores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visiscope_quick_scores_total",
			Help: "Quick scans by resulting score (\"undetermined\" for bot-blocked targets).",
		},
		[]string{"score"},
	)

	EngineChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visiscope_engine_checks_total",
			Help: "Engine question checks by engine and resulting bucket.",
		},
		[]string{"engine", "bucket"},
	)

	EngineCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visiscope_engine_check_duration_seconds",
			Help:    "Duration of engine question checks.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 45, 90},
		},
		[]string{"engine"},
	)

	VisibilityTotals = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "visiscope_visibility_total_score",
			Help:    "Distribution of computed visibility totals.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)
)
