package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/logging"
	"github.com/sheikh-saqib/account-ledger/internal/metrics"
	"github.com/sheikh-saqib/account-ledger/internal/models"
)

var (
	ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", models.ErrStoreUnavailable)
	ErrTimeout     = fmt.Errorf("%w: store call timed out", models.ErrStoreUnavailable)
)

// ResilientStore wraps a LedgerStore with a circuit breaker and a per-call
// timeout. The breaker counts one outcome per session, not per call: a session
// that hit a storage fault is a failure, anything else is a success. Conflicts
// and business rejections mean the store is healthy.
type ResilientStore struct {
	store   interfaces.LedgerStore
	name    string
	cb      *gobreaker.TwoStepCircuitBreaker
	timeout time.Duration
	metrics metrics.Collector
	logger  *logging.Logger
}

// NewResilientStore creates the wrapper. collector and logger may be nil.
func NewResilientStore(store interfaces.LedgerStore, config Config, collector metrics.Collector, logger *logging.Logger) *ResilientStore {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	name := config.Name
	if name == "" {
		name = "store"
	}
	logger = logger.Named("resilience").With(zap.String("store", name))

	rs := &ResilientStore{
		store:   store,
		name:    name,
		timeout: config.Timeout,
		metrics: collector,
		logger:  logger,
	}

	threshold := config.CircuitBreakerConfig.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	logger.Info("resilient store initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
		zap.Uint32("consecutive_failures", threshold),
	)

	rs.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			rs.metrics.RecordCircuitState(name, circuitState(to))
		},
	})
	collector.RecordCircuitState(name, metrics.CircuitClosed)

	return rs
}

// isHealthy reports whether err says nothing bad about the store itself
func isHealthy(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return !errors.Is(err, models.ErrStorage)
}

func circuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// State returns the current breaker state
func (rs *ResilientStore) State() metrics.CircuitState {
	return circuitState(rs.cb.State())
}

// admit asks the breaker for one unit of work. The returned func must be
// called exactly once with the outcome.
func (rs *ResilientStore) admit(op string) (func(success bool), error) {
	done, err := rs.cb.Allow()
	if err != nil {
		rs.logger.Warn("circuit breaker open - request rejected", zap.String("operation", op))
		return nil, models.StorageError(op, fmt.Errorf("%w: %w", ErrCircuitOpen, err))
	}
	return done, nil
}

// call runs fn under the per-call timeout when bounded is set.
func (rs *ResilientStore) call(ctx context.Context, op string, bounded bool, fn func(context.Context) error) error {
	start := time.Now()

	callCtx := ctx
	if bounded && rs.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, rs.timeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err == nil {
		return nil
	}

	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		rs.logger.Warn("operation timeout",
			zap.String("operation", op),
			zap.Duration("timeout", rs.timeout),
			zap.Duration("elapsed", time.Since(start)),
		)
		return models.StorageError(op, fmt.Errorf("%w: %w", ErrTimeout, err))
	}
	return err
}

// resilientSession holds one breaker admission from NewSession until End.
type resilientSession struct {
	inner interfaces.Session
	store *ResilientStore

	mu      sync.Mutex
	done    func(success bool)
	faulted bool
}

func (rs *ResilientStore) NewSession(ctx context.Context) (interfaces.Session, error) {
	done, err := rs.admit("open session")
	if err != nil {
		return nil, err
	}

	var inner interfaces.Session
	err = rs.call(ctx, "open session", true, func(ctx context.Context) error {
		var err error
		inner, err = rs.store.NewSession(ctx)
		return err
	})
	if err != nil {
		done(isHealthy(err))
		return nil, err
	}
	return &resilientSession{inner: inner, store: rs, done: done}, nil
}

// observe remembers a storage fault seen anywhere in the session
func (s *resilientSession) observe(err error) error {
	if !isHealthy(err) {
		s.mu.Lock()
		s.faulted = true
		s.mu.Unlock()
	}
	return err
}

// settle reports the session outcome to the breaker once
func (s *resilientSession) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return
	}
	s.done(!s.faulted)
	s.done = nil
}

// Start is not bounded by the call timeout: database/sql ties a transaction
// to the context it was begun with and rolls it back when that ends.
func (s *resilientSession) Start(ctx context.Context) error {
	return s.observe(s.store.call(ctx, "start", false, s.inner.Start))
}

func (s *resilientSession) Commit(ctx context.Context) error {
	return s.observe(s.store.call(ctx, "commit", true, s.inner.Commit))
}

// Abort and End are never rejected. Cleanup must reach the store even while
// the circuit is open.
func (s *resilientSession) Abort(ctx context.Context) error {
	return s.observe(s.inner.Abort(ctx))
}

func (s *resilientSession) End(ctx context.Context) error {
	err := s.observe(s.inner.End(ctx))
	s.settle()
	return err
}

func (rs *ResilientStore) unwrap(sess interfaces.Session) (*resilientSession, error) {
	rsess, ok := sess.(*resilientSession)
	if !ok || rsess == nil || rsess.store != rs {
		return nil, models.ErrForeignSession
	}
	return rsess, nil
}

func (rs *ResilientStore) Insert(ctx context.Context, sess interfaces.Session, record models.TransactionRecord) error {
	rsess, err := rs.unwrap(sess)
	if err != nil {
		return err
	}
	return rsess.observe(rs.call(ctx, "insert", true, func(ctx context.Context) error {
		return rs.store.Insert(ctx, rsess.inner, record)
	}))
}

func (rs *ResilientStore) GetAggregateBalance(ctx context.Context, sess interfaces.Session, accountID string) (decimal.Decimal, error) {
	rsess, err := rs.unwrap(sess)
	if err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err = rsess.observe(rs.call(ctx, "aggregate balance", true, func(ctx context.Context) error {
		var err error
		balance, err = rs.store.GetAggregateBalance(ctx, rsess.inner, accountID)
		return err
	}))
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (rs *ResilientStore) Ping(ctx context.Context) error {
	done, err := rs.admit("ping")
	if err != nil {
		return err
	}
	err = rs.call(ctx, "ping", true, rs.store.Ping)
	done(isHealthy(err))
	return err
}

// Close closes the wrapped store without consulting the breaker.
func (rs *ResilientStore) Close(ctx context.Context) error {
	return rs.store.Close(ctx)
}

var _ interfaces.LedgerStore = (*ResilientStore)(nil)
