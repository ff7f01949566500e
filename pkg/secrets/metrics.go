package secrets

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Subsystem: "secrets",
		Name:      "requests_total",
		Help:      "Total number of secret service requests issued.",
	}, []string{"topic"})
	metricRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                   "maestro",
		Subsystem:                   "secrets",
		Name:                        "request_duration_seconds",
		Help:                        "Secret service round-trip time.",
		NativeHistogramBucketFactor: 1.1,
	})
)
