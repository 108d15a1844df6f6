package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/account-ledger/internal/metrics"
)

func TestPrometheusCollector_Register(t *testing.T) {
	registry := prometheus.NewRegistry()
	pc := NewPrometheusCollector("ledger")

	require.NoError(t, pc.Register(registry))
	assert.Error(t, pc.Register(registry), "registering twice must fail")
}

func TestPrometheusCollector_Records(t *testing.T) {
	pc := NewPrometheusCollector("ledger")

	pc.RecordOperation("debit", "ok", 5*time.Millisecond)
	pc.RecordOperation("debit", "ok", 7*time.Millisecond)
	pc.RecordOperation("debit", "insufficient_funds", time.Millisecond)
	pc.RecordConflictRetry("debit")
	pc.RecordPublishFailure("ledger.transactions")
	pc.RecordCircuitState("postgres", metrics.CircuitOpen)
	pc.RecordCircuitState("postgres", metrics.CircuitHalfOpen)

	assert.Equal(t, 2.0, testutil.ToFloat64(pc.operations.WithLabelValues("debit", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.operations.WithLabelValues("debit", "insufficient_funds")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.conflictRetries.WithLabelValues("debit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.publishFailures.WithLabelValues("ledger.transactions")))
	assert.Equal(t, float64(metrics.CircuitHalfOpen), testutil.ToFloat64(pc.circuitState.WithLabelValues("postgres")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.circuitOpens.WithLabelValues("postgres")))
	assert.Equal(t, 1, testutil.CollectAndCount(pc.operationTime))
}
