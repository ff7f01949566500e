package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricProducedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Subsystem: "worker",
		Name:      "produced_records_total",
		Help:      "Records produced per topic.",
	}, []string{"topic"})
	metricProduceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Subsystem: "worker",
		Name:      "produce_failures_total",
		Help:      "Produce attempts that returned an error, per topic.",
	}, []string{"topic"})
	metricConsumedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Subsystem: "worker",
		Name:      "consumed_records_total",
		Help:      "Records pulled into the correlation buffer, per topic.",
	}, []string{"topic"})
	metricDroppedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Subsystem: "worker",
		Name:      "dropped_records_total",
		Help:      "Consumed records filtered out before buffering, per topic.",
	}, []string{"topic"})
)
