// Package storagetest holds the behaviour every LedgerStore adapter must share.
// Adapter packages run it from their own tests.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/ledger"
	"github.com/sheikh-saqib/account-ledger/internal/models"
)

// Run exercises store through the Storage Port and through a Ledger.
// Account ids are unique per run so a persistent database can be reused.
func Run(t *testing.T, store interfaces.LedgerStore) {
	t.Helper()

	t.Run("empty account has zero balance", func(t *testing.T) { emptyAccount(t, store) })
	t.Run("aggregates credits minus debits", func(t *testing.T) { aggregates(t, store) })
	t.Run("abort discards writes", func(t *testing.T) { abortDiscards(t, store) })
	t.Run("rejects inactive sessions", func(t *testing.T) { inactiveSessions(t, store) })
	t.Run("concurrent debits never overdraw", func(t *testing.T) { concurrentDebits(t, store) })
	t.Run("concurrent credits all land", func(t *testing.T) { concurrentCredits(t, store) })
}

func accountID() string {
	return "acc-" + uuid.NewString()
}

func record(accountID, amount string, op models.Operation) models.TransactionRecord {
	return models.NewTransactionRecord(accountID, decimal.RequireFromString(amount), op, time.Now())
}

func started(t *testing.T, store interfaces.LedgerStore) interfaces.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := store.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Start(ctx))
	t.Cleanup(func() { _ = sess.End(context.Background()) })
	return sess
}

func balance(t *testing.T, store interfaces.LedgerStore, accountID string) decimal.Decimal {
	t.Helper()
	ctx := context.Background()
	sess := started(t, store)
	got, err := store.GetAggregateBalance(ctx, sess, accountID)
	require.NoError(t, err)
	require.NoError(t, sess.Commit(ctx))
	require.NoError(t, sess.End(ctx))
	return got
}

func emptyAccount(t *testing.T, store interfaces.LedgerStore) {
	assert.True(t, balance(t, store, accountID()).IsZero())
}

func aggregates(t *testing.T, store interfaces.LedgerStore) {
	ctx := context.Background()
	acc, other := accountID(), accountID()

	sess := started(t, store)
	require.NoError(t, store.Insert(ctx, sess, record(acc, "100", models.OperationCredit)))
	require.NoError(t, store.Insert(ctx, sess, record(acc, "30.5", models.OperationDebit)))
	require.NoError(t, store.Insert(ctx, sess, record(acc, "0.25", models.OperationCredit)))
	require.NoError(t, store.Insert(ctx, sess, record(other, "7", models.OperationCredit)))

	inside, err := store.GetAggregateBalance(ctx, sess, acc)
	require.NoError(t, err)
	assert.Equal(t, "69.75", inside.String(), "a session sees its own writes")

	require.NoError(t, sess.Commit(ctx))
	require.NoError(t, sess.End(ctx))

	assert.Equal(t, "69.75", balance(t, store, acc).String())
	assert.Equal(t, "7", balance(t, store, other).String())
}

func abortDiscards(t *testing.T, store interfaces.LedgerStore) {
	ctx := context.Background()
	acc := accountID()

	sess := started(t, store)
	require.NoError(t, store.Insert(ctx, sess, record(acc, "5", models.OperationCredit)))
	require.NoError(t, sess.Abort(ctx))
	require.NoError(t, sess.End(ctx))

	assert.True(t, balance(t, store, acc).IsZero())
}

func inactiveSessions(t *testing.T, store interfaces.LedgerStore) {
	ctx := context.Background()
	acc := accountID()

	sess, err := store.NewSession(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, store.Insert(ctx, sess, record(acc, "1", models.OperationCredit)), models.ErrStorage)

	require.NoError(t, sess.Start(ctx))
	assert.ErrorIs(t, sess.Start(ctx), models.ErrSessionAlreadyStarted)
	require.NoError(t, sess.End(ctx))
	require.NoError(t, sess.End(ctx))

	_, err = store.GetAggregateBalance(ctx, sess, acc)
	assert.ErrorIs(t, err, models.ErrStorage)
	assert.True(t, balance(t, store, acc).IsZero())
}

func concurrentDebits(t *testing.T, store interfaces.LedgerStore) {
	ctx := context.Background()
	l := ledger.NewLedger(store, ledger.WithRetryPolicy(ledger.RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  5 * time.Millisecond,
	}))

	for round := 0; round < 5; round++ {
		acc := accountID()
		_, err := l.Credit(ctx, acc, decimal.NewFromInt(100))
		require.NoError(t, err)

		amounts := []int64{60, 70}
		errs := make([]error, len(amounts))
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i, amount := range amounts {
			wg.Add(1)
			go func(i int, amount int64) {
				defer wg.Done()
				<-start
				_, errs[i] = l.Debit(ctx, acc, decimal.NewFromInt(amount))
			}(i, amount)
		}
		close(start)
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, errors.Is(err, models.ErrInsufficientFunds) || errors.Is(err, models.ErrConflict),
				"unexpected error: %v", err)
		}
		assert.Equal(t, 1, succeeded, "exactly one of two overdrawing debits commits")

		got, err := l.GetBalance(ctx, acc)
		require.NoError(t, err)
		assert.False(t, got.IsNegative())
		assert.True(t, got.Equal(decimal.NewFromInt(40)) || got.Equal(decimal.NewFromInt(30)), "balance %s", got)
	}
}

func concurrentCredits(t *testing.T, store interfaces.LedgerStore) {
	ctx := context.Background()
	l := ledger.NewLedger(store, ledger.WithRetryPolicy(ledger.RetryPolicy{
		MaxRetries: 20,
		BaseDelay:  5 * time.Millisecond,
	}))
	acc := accountID()

	// the first credit creates the account, the rest race on it
	_, err := l.Credit(ctx, acc, decimal.NewFromInt(1))
	require.NoError(t, err)

	const writers = 9
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Credit(ctx, acc, decimal.NewFromInt(1))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	got, err := l.GetBalance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, "10", got.String())
}
