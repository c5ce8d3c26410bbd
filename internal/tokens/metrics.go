package tokens

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var fetchesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bosun_token_selections_total",
		Help: "Token selection attempts by outcome",
	},
	[]string{"outcome"},
)
