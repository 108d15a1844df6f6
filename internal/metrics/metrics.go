package metrics

import (
	"time"
)

// Collector defines the interface for collecting ledger metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory for tests).
type Collector interface {
	// RecordOperation is called once per ledger call with the outcome class
	// from models.Classify.
	RecordOperation(operation string, outcome string, duration time.Duration)

	// RecordConflictRetry is called each time a conflicted attempt is retried.
	RecordConflictRetry(operation string)

	// RecordPublishFailure is called when a committed record could not be published.
	RecordPublishFailure(topic string)

	// RecordCircuitState is called on every store circuit breaker transition.
	RecordCircuitState(store string, state CircuitState)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the store has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is the default collector when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordOperation(operation string, outcome string, duration time.Duration) {}

func (NoOpCollector) RecordConflictRetry(operation string) {}

func (NoOpCollector) RecordPublishFailure(topic string) {}

func (NoOpCollector) RecordCircuitState(store string, state CircuitState) {}
