package memory

import (
	"sync"
	"time"

	"github.com/sheikh-saqib/account-ledger/internal/metrics"
)

// MemoryCollector implements metrics.Collector for in-memory testing.
type MemoryCollector struct {
	mu sync.RWMutex

	operations      map[string]map[string]int64 // operation -> outcome -> count
	durations       map[string][]time.Duration
	conflictRetries map[string]int64
	publishFailures map[string]int64
	circuitStates   map[string]metrics.CircuitState
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		operations:      make(map[string]map[string]int64),
		durations:       make(map[string][]time.Duration),
		conflictRetries: make(map[string]int64),
		publishFailures: make(map[string]int64),
		circuitStates:   make(map[string]metrics.CircuitState),
	}
}

func (mc *MemoryCollector) RecordOperation(operation string, outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, ok := mc.operations[operation]; !ok {
		mc.operations[operation] = make(map[string]int64)
	}
	mc.operations[operation][outcome]++
	mc.durations[operation] = append(mc.durations[operation], duration)
}

func (mc *MemoryCollector) RecordConflictRetry(operation string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.conflictRetries[operation]++
}

func (mc *MemoryCollector) RecordPublishFailure(topic string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.publishFailures[topic]++
}

func (mc *MemoryCollector) RecordCircuitState(store string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.circuitStates[store] = state
}

// Operations returns how many times operation finished with outcome.
func (mc *MemoryCollector) Operations(operation, outcome string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.operations[operation][outcome]
}

// Durations returns a copy of the recorded durations for operation.
func (mc *MemoryCollector) Durations(operation string) []time.Duration {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return append([]time.Duration(nil), mc.durations[operation]...)
}

func (mc *MemoryCollector) ConflictRetries(operation string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.conflictRetries[operation]
}

func (mc *MemoryCollector) PublishFailures(topic string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.publishFailures[topic]
}

// CircuitState returns the last reported state, CircuitClosed if none.
func (mc *MemoryCollector) CircuitState(store string) metrics.CircuitState {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.circuitStates[store]
}

var _ metrics.Collector = (*MemoryCollector)(nil)
