package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "maestro",
		Subsystem: "dispatcher",
		Name:      "submitted_tests_total",
		Help:      "Tests accepted by submit.",
	})
	metricCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Subsystem: "dispatcher",
		Name:      "completed_tests_total",
		Help:      "Tests that reached a terminal state, by outcome.",
	}, []string{"outcome"})
	metricQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "maestro",
		Subsystem: "dispatcher",
		Name:      "queue_depth",
		Help:      "Live test records by state.",
	}, []string{"state"})
)
