package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/ledger"
	"github.com/sheikh-saqib/account-ledger/internal/metrics"
	metricsmemory "github.com/sheikh-saqib/account-ledger/internal/metrics/memory"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sheikh-saqib/account-ledger/internal/storage/memory"
)

// flakyStore fails session Start and Ping with startErr and Insert with
// insertErr. NewSession always succeeds, like every real adapter.
type flakyStore struct {
	*memory.MemoryLedgerStore

	mu        sync.Mutex
	startErr  error
	insertErr error
	block     bool
	calls     int
}

type faults struct {
	block     bool
	startErr  error
	insertErr error
}

func (f *flakyStore) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *flakyStore) setInsertErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertErr = err
}

// next counts a call that reached the store
func (f *flakyStore) next() faults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return faults{block: f.block, startErr: f.startErr, insertErr: f.insertErr}
}

func (f *flakyStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type flakySession struct {
	interfaces.Session
	store *flakyStore
}

func (s *flakySession) Start(ctx context.Context) error {
	if err := s.store.next().startErr; err != nil {
		return err
	}
	return s.Session.Start(ctx)
}

func (f *flakyStore) NewSession(ctx context.Context) (interfaces.Session, error) {
	inner, err := f.MemoryLedgerStore.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return &flakySession{Session: inner, store: f}, nil
}

func (f *flakyStore) Insert(ctx context.Context, sess interfaces.Session, record models.TransactionRecord) error {
	if err := f.next().insertErr; err != nil {
		return err
	}
	if fs, ok := sess.(*flakySession); ok {
		sess = fs.Session
	}
	return f.MemoryLedgerStore.Insert(ctx, sess, record)
}

func (f *flakyStore) GetAggregateBalance(ctx context.Context, sess interfaces.Session, accountID string) (decimal.Decimal, error) {
	if fs, ok := sess.(*flakySession); ok {
		sess = fs.Session
	}
	return f.MemoryLedgerStore.GetAggregateBalance(ctx, sess, accountID)
}

func (f *flakyStore) Ping(ctx context.Context) error {
	next := f.next()
	if next.block {
		<-ctx.Done()
		return models.StorageError("ping", ctx.Err())
	}
	return next.startErr
}

func testConfig() Config {
	cfg := DefaultConfig().
		WithTimeout(50 * time.Millisecond).
		WithCircuitBreakerTimeout(time.Hour)
	cfg.Name = "test"
	cfg.CircuitBreakerConfig.ConsecutiveFailures = 3
	return cfg
}

func TestResilientStore_PassesThrough(t *testing.T) {
	ctx := context.Background()
	rs := NewResilientStore(memory.NewMemoryLedgerStore(), testConfig(), nil, nil)
	defer rs.Close(ctx)

	l := ledger.NewLedger(rs)

	_, err := l.Credit(ctx, "acc", decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = l.Debit(ctx, "acc", decimal.NewFromInt(30))
	require.NoError(t, err)
	_, err = l.Debit(ctx, "acc", decimal.NewFromInt(500))
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	balance, err := l.GetBalance(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, "70", balance.String())
	assert.NoError(t, rs.Ping(ctx))
	assert.Equal(t, metrics.CircuitClosed, rs.State())
}

func TestResilientStore_TripsWhenStartFails(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryLedgerStore: memory.NewMemoryLedgerStore()}
	collector := metricsmemory.NewMemoryCollector()
	rs := NewResilientStore(inner, testConfig(), collector, nil)
	l := ledger.NewLedger(rs)

	inner.setStartErr(models.StorageError("begin", errors.New("connection refused")))
	for i := 0; i < 3; i++ {
		_, err := l.Credit(ctx, "acc", decimal.NewFromInt(1))
		require.ErrorIs(t, err, models.ErrStorage)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	assert.Equal(t, metrics.CircuitOpen, rs.State())
	assert.Equal(t, metrics.CircuitOpen, collector.CircuitState("test"))

	inner.setStartErr(nil)
	before := inner.callCount()
	_, err := l.Credit(ctx, "acc", decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.ErrorIs(t, err, models.ErrStorage)
	assert.Equal(t, before, inner.callCount(), "open circuit never reaches the store")
	assert.Empty(t, inner.Records())
}

func TestResilientStore_TripsWhenWritesFailAfterStart(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryLedgerStore: memory.NewMemoryLedgerStore()}
	rs := NewResilientStore(inner, testConfig(), nil, nil)
	l := ledger.NewLedger(rs)

	// Start succeeding inside each attempt must not reset the failure count
	inner.setInsertErr(models.StorageError("insert", errors.New("server selection timeout")))
	for i := 0; i < 3; i++ {
		_, err := l.Credit(ctx, "acc", decimal.NewFromInt(1))
		require.ErrorIs(t, err, models.ErrStorage)
	}
	assert.Equal(t, metrics.CircuitOpen, rs.State())
}

func TestResilientStore_ConflictsDoNotTrip(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryLedgerStore: memory.NewMemoryLedgerStore()}
	rs := NewResilientStore(inner, testConfig(), nil, nil)

	attempt := func(wantErr error) {
		sess, err := rs.NewSession(ctx)
		require.NoError(t, err)
		require.ErrorIs(t, sess.Start(ctx), wantErr)
		require.NoError(t, sess.End(ctx))
	}

	conflict := models.ConflictError("begin", errors.New("serialization failure"))
	inner.setStartErr(conflict)
	for i := 0; i < 10; i++ {
		attempt(models.ErrConflict)
	}

	inner.setStartErr(context.Canceled)
	for i := 0; i < 10; i++ {
		attempt(context.Canceled)
	}
	assert.Equal(t, metrics.CircuitClosed, rs.State())
}

func TestResilientStore_HalfOpenRecovers(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryLedgerStore: memory.NewMemoryLedgerStore()}
	rs := NewResilientStore(inner, testConfig().WithCircuitBreakerTimeout(20*time.Millisecond), nil, nil)
	l := ledger.NewLedger(rs)

	inner.setStartErr(models.StorageError("begin", errors.New("connection refused")))
	for i := 0; i < 3; i++ {
		_, _ = l.Credit(ctx, "acc", decimal.NewFromInt(1))
	}
	require.Equal(t, metrics.CircuitOpen, rs.State())

	inner.setStartErr(nil)
	require.Eventually(t, func() bool {
		return rs.State() == metrics.CircuitHalfOpen
	}, time.Second, 5*time.Millisecond)

	_, err := l.Credit(ctx, "acc", decimal.NewFromInt(7))
	require.NoError(t, err)
	assert.Equal(t, metrics.CircuitClosed, rs.State())

	balance, err := l.GetBalance(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, "7", balance.String())
}

func TestResilientStore_Timeout(t *testing.T) {
	inner := &flakyStore{MemoryLedgerStore: memory.NewMemoryLedgerStore(), block: true}
	rs := NewResilientStore(inner, testConfig(), nil, nil)

	start := time.Now()
	err := rs.Ping(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, models.ErrStorage)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestResilientStore_CallerCancellationIsNotATimeout(t *testing.T) {
	inner := &flakyStore{MemoryLedgerStore: memory.NewMemoryLedgerStore(), block: true}
	cfg := testConfig()
	cfg.Timeout = time.Hour
	rs := NewResilientStore(inner, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rs.Ping(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestResilientStore_RejectsUnwrappedSessions(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewMemoryLedgerStore()
	rs := NewResilientStore(inner, testConfig(), nil, nil)

	raw, err := inner.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, raw.Start(ctx))
	defer raw.End(ctx)

	_, err = rs.GetAggregateBalance(ctx, raw, "acc")
	assert.ErrorIs(t, err, models.ErrForeignSession)

	record := models.NewTransactionRecord("acc", decimal.NewFromInt(1), models.OperationCredit, time.Now())
	assert.ErrorIs(t, rs.Insert(ctx, raw, record), models.ErrForeignSession)
}

func TestResilientStore_AdmittedSessionFinishesWhileOpen(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryLedgerStore: memory.NewMemoryLedgerStore()}
	rs := NewResilientStore(inner, testConfig(), nil, nil)

	sess, err := rs.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Start(ctx))

	inner.setStartErr(models.StorageError("ping", errors.New("down")))
	for i := 0; i < 3; i++ {
		_ = rs.Ping(ctx)
	}
	require.Equal(t, metrics.CircuitOpen, rs.State())

	_, err = rs.NewSession(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	assert.NoError(t, sess.Commit(ctx))
	assert.NoError(t, sess.Abort(ctx))
	assert.NoError(t, sess.End(ctx))
	assert.NoError(t, sess.End(ctx))
	assert.Equal(t, metrics.CircuitOpen, rs.State(), "a late success does not close the circuit")
}
