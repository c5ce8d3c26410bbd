package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	plannedSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bosun_planned_slots",
		Help: "Slots planned for the current day",
	})

	slotOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosun_slot_outcomes_total",
			Help: "Slot dispatches by outcome",
		},
		[]string{"status"},
	)

	pipelineRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bosun_pipeline_retries_total",
		Help: "Pipeline re-runs caused by empty content",
	})

	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bosun_dispatch_duration_seconds",
		Help:    "Wall time of one slot dispatch",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)
