package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/logging"
	"github.com/sheikh-saqib/account-ledger/internal/metrics"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sheikh-saqib/account-ledger/internal/models/events"
)

const (
	OpCredit  = "credit"
	OpDebit   = "debit"
	OpBalance = "balance"

	// DefaultTopic receives a TransactionCompleted event per committed record
	DefaultTopic = "ledger.transaction_completed"
)

// Ledger runs each account operation inside its own store session:
// open -> start -> operation -> commit or abort -> end.
// Conflicted attempts are retried with a fresh session and a fresh balance read.
type Ledger struct {
	store     interfaces.LedgerStore
	publisher interfaces.EventPublisher
	topic     string
	metrics   metrics.Collector
	logger    *logging.Logger
	retry     RetryPolicy
	now       func() time.Time
}

type Option func(*Ledger)

// WithPublisher publishes a TransactionCompleted event to topic after every commit
func WithPublisher(publisher interfaces.EventPublisher, topic string) Option {
	return func(l *Ledger) {
		if publisher != nil {
			l.publisher = publisher
		}
		if topic != "" {
			l.topic = topic
		}
	}
}

func WithMetrics(collector metrics.Collector) Option {
	return func(l *Ledger) {
		if collector != nil {
			l.metrics = collector
		}
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(l *Ledger) {
		if policy.MaxRetries >= 0 {
			l.retry = policy
		}
	}
}

// WithClock overrides the time source used to stamp records
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger creates a Ledger over store. The store's connection pool is shared
// by every call; sessions never are.
func NewLedger(store interfaces.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		publisher: interfaces.NoopPublisher{},
		topic:     DefaultTopic,
		metrics:   metrics.NoOpCollector{},
		logger:    logging.NewNoOpLogger(),
		retry:     DefaultRetryPolicy(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("ledger")
	return l
}

func (l *Ledger) account(accountID string) *Account {
	a := NewAccount(accountID, l.store)
	a.now = l.now
	return a
}

// Credit adds amount to the account unconditionally.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount decimal.Decimal) (models.TransactionRecord, error) {
	return l.write(ctx, OpCredit, accountID, amount, (*Account).Credit)
}

// Debit removes amount from the account. It fails with models.ErrInsufficientFunds
// when the balance observed inside the session cannot cover it.
func (l *Ledger) Debit(ctx context.Context, accountID string, amount decimal.Decimal) (models.TransactionRecord, error) {
	return l.write(ctx, OpDebit, accountID, amount, (*Account).Debit)
}

// GetBalance returns credits minus debits for the account as of one snapshot.
func (l *Ledger) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	start := time.Now()
	log := l.logger.With(zap.String("operation", OpBalance), zap.String("account_id", accountID))

	if err := models.ValidateAccountID(accountID); err != nil {
		l.finish(OpBalance, log, start, err)
		return decimal.Zero, err
	}

	log.Debug("fetching balance")

	account := l.account(accountID)
	var balance decimal.Decimal
	err := l.withRetry(ctx, OpBalance, log, func(ctx context.Context, sess interfaces.Session) error {
		var err error
		balance, err = account.Balance(ctx, sess)
		return err
	})
	l.finish(OpBalance, log, start, err)
	if err != nil {
		return decimal.Zero, err
	}

	log.Info("balance fetched", zap.Stringer("balance", balance))
	return balance, nil
}

type applyFunc func(*Account, context.Context, interfaces.Session, decimal.Decimal) (models.TransactionRecord, error)

func (l *Ledger) write(ctx context.Context, op string, accountID string, amount decimal.Decimal, apply applyFunc) (models.TransactionRecord, error) {
	start := time.Now()
	log := l.logger.With(
		zap.String("operation", op),
		zap.String("account_id", accountID),
		zap.Stringer("amount", amount),
	)

	// reject bad input before touching the store
	if err := models.ValidateAccountID(accountID); err != nil {
		l.finish(op, log, start, err)
		return models.TransactionRecord{}, err
	}
	if err := models.ValidateAmount(amount); err != nil {
		l.finish(op, log, start, err)
		return models.TransactionRecord{}, err
	}

	log.Debug("attempting ledger write")

	account := l.account(accountID)
	var record models.TransactionRecord
	err := l.withRetry(ctx, op, log, func(ctx context.Context, sess interfaces.Session) error {
		var err error
		record, err = apply(account, ctx, sess, amount)
		return err
	})
	l.finish(op, log, start, err)
	if err != nil {
		return models.TransactionRecord{}, err
	}

	log.Info("ledger write committed", zap.String("transaction_id", record.ID))
	l.publish(ctx, log, record)
	return record, nil
}

// withRetry runs fn in a fresh session until it succeeds, fails with anything
// other than a conflict, or the retry budget is spent.
func (l *Ledger) withRetry(ctx context.Context, op string, log *logging.Logger, fn func(context.Context, interfaces.Session) error) error {
	for attempt := 0; ; attempt++ {
		err := l.inSession(ctx, log, fn)
		if err == nil || !models.IsConflict(err) {
			return err
		}

		if attempt >= l.retry.MaxRetries {
			log.Warn("transaction conflict, retries exhausted",
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return err
		}

		l.metrics.RecordConflictRetry(op)
		log.Debug("transaction conflict, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		if waitErr := sleep(ctx, l.retry.delay(attempt)); waitErr != nil {
			return multierr.Append(err, waitErr)
		}
	}
}

// inSession owns the session for one attempt. End runs on every exit path,
// including panics, on a context that survives caller cancellation.
func (l *Ledger) inSession(ctx context.Context, log *logging.Logger, fn func(context.Context, interfaces.Session) error) error {
	sess, err := l.store.NewSession(ctx)
	if err != nil {
		return models.StorageError("open session", err)
	}

	cleanupCtx := context.WithoutCancel(ctx)
	defer func() {
		if endErr := sess.End(cleanupCtx); endErr != nil {
			log.Warn("failed to end session", zap.Error(endErr))
		}
	}()

	if err := sess.Start(ctx); err != nil {
		return err
	}

	if err := fn(ctx, sess); err != nil {
		if abortErr := sess.Abort(cleanupCtx); abortErr != nil {
			log.Warn("failed to abort session", zap.Error(abortErr))
			return multierr.Append(err, abortErr)
		}
		return err
	}

	return sess.Commit(ctx)
}

func (l *Ledger) finish(op string, log *logging.Logger, start time.Time, err error) {
	outcome := models.Classify(err)
	l.metrics.RecordOperation(op, outcome, time.Since(start))

	switch {
	case err == nil:
	case models.IsBusinessRejection(err):
		log.Info("ledger operation rejected", zap.String("outcome", outcome), zap.Error(err))
	default:
		log.Error("ledger operation failed", zap.String("outcome", outcome), zap.Error(err))
	}
}

// publish is best effort: the record is already durable, so a failed publish
// is logged and counted but never reported as an operation failure.
func (l *Ledger) publish(ctx context.Context, log *logging.Logger, record models.TransactionRecord) {
	event := events.NewTransactionCompleted(record)
	if err := l.publisher.Publish(ctx, l.topic, record.AccountID, event); err != nil {
		l.metrics.RecordPublishFailure(l.topic)
		log.Warn("failed to publish transaction event",
			zap.String("topic", l.topic),
			zap.String("transaction_id", record.ID),
			zap.Error(err),
		)
	}
}
