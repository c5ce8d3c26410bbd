package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var emittedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bosun_events_emitted_total",
		Help: "Kafka events emitted by type and result",
	},
	[]string{"type", "result"},
)
