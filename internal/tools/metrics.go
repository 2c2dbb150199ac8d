package tools

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var invocationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nudge_tool_invocations_total",
		Help: "Tool invocations by tool and outcome (ok or error kind).",
	},
	[]string{"tool", "outcome"},
)
