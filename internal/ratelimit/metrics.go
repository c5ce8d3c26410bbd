package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	remainingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bosun_ratelimit_remaining",
		Help: "Last known remaining publish calls in the current platform window",
	})

	resetGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bosun_ratelimit_reset_timestamp_seconds",
		Help: "Unix time at which the current platform window resets",
	})

	refusalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bosun_ratelimit_refusals_total",
		Help: "Publish attempts refused because the known budget was spent",
	})
)
