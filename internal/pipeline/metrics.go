package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosun_pipeline_runs_total",
			Help: "Pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	stageFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosun_pipeline_stage_failures_total",
			Help: "Failed pipeline stages by role",
		},
		[]string{"role"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bosun_pipeline_stage_duration_seconds",
			Help:    "Text generation latency per stage",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"role"},
	)
)
