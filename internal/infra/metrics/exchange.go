package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(exchangesTotal, exchangeLatencyMs) }

var (
	exchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_exchanges_total",
			Help: "Request/response exchanges with the study service.",
		},
		[]string{"kind", "success"}, // kind: 'guided_bootstrap', 'guided_turn', 'chat', ...
	)

	exchangeLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "study_exchange_latency_ms",
			Help:    "Study service call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"kind"},
	)
)

func ObserveExchange(kind string, latencyMs int64, success bool) {
	exchangesTotal.WithLabelValues(norm(kind), strconv.FormatBool(success)).Inc()
	exchangeLatencyMs.WithLabelValues(norm(kind)).Observe(float64(latencyMs))
}
