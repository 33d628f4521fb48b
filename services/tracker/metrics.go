package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jobwatch",
		Subsystem: "tracker",
		Name:      "executions_started_total",
		Help:      "Execution records created.",
	})
	executionsUpdated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobwatch",
		Subsystem: "tracker",
		Name:      "executions_updated_total",
		Help:      "Execution records updated, by resulting status.",
	}, []string{"status"})
)
