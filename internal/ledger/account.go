package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/models"
)

// Account enforces the balance invariant for one account over the store.
//
// It borrows a session for a single call and never commits or aborts it:
// errors are returned and the caller decides.
type Account struct {
	id    string
	store interfaces.LedgerStore
	now   func() time.Time
}

func NewAccount(id string, store interfaces.LedgerStore) *Account {
	return &Account{id: id, store: store, now: time.Now}
}

func (a *Account) ID() string {
	return a.id
}

// Credit appends a CREDIT record. No balance check.
func (a *Account) Credit(ctx context.Context, sess interfaces.Session, amount decimal.Decimal) (models.TransactionRecord, error) {
	if err := a.validate(amount); err != nil {
		return models.TransactionRecord{}, err
	}

	record := models.NewTransactionRecord(a.id, amount, models.OperationCredit, a.now())
	if err := a.store.Insert(ctx, sess, record); err != nil {
		return models.TransactionRecord{}, err
	}
	return record, nil
}

// Debit reads the balance in sess and appends a DEBIT record only if the
// balance stays non-negative. On rejection nothing is written.
func (a *Account) Debit(ctx context.Context, sess interfaces.Session, amount decimal.Decimal) (models.TransactionRecord, error) {
	if err := a.validate(amount); err != nil {
		return models.TransactionRecord{}, err
	}

	balance, err := a.store.GetAggregateBalance(ctx, sess, a.id)
	if err != nil {
		return models.TransactionRecord{}, err
	}

	if balance.Sub(amount).IsNegative() {
		return models.TransactionRecord{}, &models.InsufficientFundsError{
			AccountID: a.id,
			Balance:   balance,
			Requested: amount,
		}
	}

	record := models.NewTransactionRecord(a.id, amount, models.OperationDebit, a.now())
	if err := a.store.Insert(ctx, sess, record); err != nil {
		return models.TransactionRecord{}, err
	}
	return record, nil
}

func (a *Account) Balance(ctx context.Context, sess interfaces.Session) (decimal.Decimal, error) {
	if err := models.ValidateAccountID(a.id); err != nil {
		return decimal.Zero, err
	}
	return a.store.GetAggregateBalance(ctx, sess, a.id)
}

func (a *Account) validate(amount decimal.Decimal) error {
	if err := models.ValidateAccountID(a.id); err != nil {
		return err
	}
	return models.ValidateAmount(amount)
}
