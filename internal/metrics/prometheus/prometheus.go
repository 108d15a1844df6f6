package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sheikh-saqib/account-ledger/internal/metrics"
)

// PrometheusCollector implements metrics.Collector for Prometheus.
type PrometheusCollector struct {
	operations      *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	conflictRetries *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	circuitState    *prometheus.GaugeVec
	circuitOpens    *prometheus.CounterVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of ledger operations per operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Ledger operation latency including retries",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
			[]string{"operation"},
		),
		conflictRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflict_retries_total",
				Help:      "Total number of attempts retried after a transaction conflict",
			},
			[]string{"operation"},
		),
		publishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_failures_total",
				Help:      "Total number of committed records whose event could not be published",
			},
			[]string{"topic"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_circuit_state",
				Help:      "Current store circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"store"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_circuit_opens_total",
				Help:      "Total number of store circuit breaker opens",
			},
			[]string{"store"},
		),
	}
}

// Register registers all metrics with the given Prometheus registerer.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.operations,
		pc.operationTime,
		pc.conflictRetries,
		pc.publishFailures,
		pc.circuitState,
		pc.circuitOpens,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

func (pc *PrometheusCollector) RecordOperation(operation string, outcome string, duration time.Duration) {
	pc.operations.WithLabelValues(operation, outcome).Inc()
	pc.operationTime.WithLabelValues(operation).Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordConflictRetry(operation string) {
	pc.conflictRetries.WithLabelValues(operation).Inc()
}

func (pc *PrometheusCollector) RecordPublishFailure(topic string) {
	pc.publishFailures.WithLabelValues(topic).Inc()
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(store string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(store).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(store).Inc()
	}
}

var _ metrics.Collector = (*PrometheusCollector)(nil)
