package agents

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosun_llm_calls_total",
			Help: "Text generation calls by outcome",
		},
		[]string{"status"},
	)

	llmDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bosun_llm_call_duration_seconds",
			Help:    "Text generation call latency",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
		},
	)

	rosterFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bosun_roster_fallbacks_total",
		Help: "Runs that fell back to static personas",
	})
)
