package oracle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_oracle_calls_total",
			Help: "Decision oracle calls by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nudge_oracle_call_duration_seconds",
			Help:    "Latency of decision oracle calls.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"provider"},
	)
)

func observe(provider string, start time.Time, err error) {
	callDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	callsTotal.WithLabelValues(provider, outcome).Inc()
}
