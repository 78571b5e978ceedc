// Package metrics holds the Prometheus collectors of the invoker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal tracks attempts per service and outcome (success, failure)
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoker_attempts_total",
			Help: "Total number of attempts made against backend services",
		},
		[]string{"service", "outcome"},
	)

	// StepErrorsTotal tracks failures per service and pipeline step
	StepErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoker_step_errors_total",
			Help: "Total number of pipeline step failures",
		},
		[]string{"service", "step"},
	)

	// CallsTotal tracks finished logical calls per service and result
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoker_calls_total",
			Help: "Total number of finished logical calls",
		},
		[]string{"service", "result"},
	)

	// CallLatency tracks the duration of a logical call including retries
	CallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invoker_call_latency_seconds",
			Help:    "Logical call latency in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// TransportLatency tracks single HTTP round trips
	TransportLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invoker_transport_latency_seconds",
			Help:    "HTTP round trip latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)

	// LoginsTotal tracks coordinator login turns by result (ok, error, timeout)
	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoker_logins_total",
			Help: "Total number of login requests served by the coordinator",
		},
		[]string{"result"},
	)

	// LoginCacheEntries tracks the size of the login cache
	LoginCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "invoker_login_cache_entries",
			Help: "Number of cached login results",
		},
	)

	// DBConnectionPoolUsage tracks audit database pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "invoker_db_connection_pool_usage_percent",
			Help: "Audit database connection pool usage percentage",
		},
	)
)
