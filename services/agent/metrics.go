package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobwatch",
		Subsystem: "agent",
		Name:      "reports_total",
		Help:      "Reporting calls to the tracking service, by call and outcome.",
	}, []string{"call", "outcome"})
	uncorrelatedEnds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jobwatch",
		Subsystem: "agent",
		Name:      "uncorrelated_ends_total",
		Help:      "End events dropped because no start had been recorded for them.",
	})
)
