package responder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosun_responder_ticks_total",
			Help: "Responder ticks by outcome",
		},
		[]string{"outcome"},
	)

	repliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosun_responder_replies_total",
			Help: "Responder reply attempts by result",
		},
		[]string{"result"},
	)
)
