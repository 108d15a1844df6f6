package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Ledger error taxonomy. Callers match with errors.Is; adapters wrap the
// driver error so the original cause stays in the chain.
var (
	// ErrInvalidAmount is returned for non-positive or malformed amounts.
	// Rejected before any store access.
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrInvalidAccountID is returned for empty or oversized account ids.
	ErrInvalidAccountID = errors.New("ledger: invalid account id")

	// ErrInsufficientFunds is a business rejection: the debit exceeds the balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrConflict is a transient concurrent-transaction conflict. Safe to retry
	// with a fresh session.
	ErrConflict = errors.New("ledger: transaction conflict")

	// ErrStorage is a connectivity or store fault. Not retried.
	ErrStorage = errors.New("ledger: storage failure")

	ErrSessionInactive       = fmt.Errorf("%w: session is not active", ErrStorage)
	ErrSessionEnded          = fmt.Errorf("%w: session already ended", ErrStorage)
	ErrSessionAlreadyStarted = fmt.Errorf("%w: session already started", ErrStorage)
	ErrForeignSession        = fmt.Errorf("%w: session belongs to another store", ErrStorage)
	ErrStoreUnavailable      = fmt.Errorf("%w: store unavailable", ErrStorage)
	ErrStoreClosed           = fmt.Errorf("%w: store closed", ErrStorage)
)

// InsufficientFundsError carries the balance observed when a debit was rejected.
type InsufficientFundsError struct {
	AccountID string
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("ledger: insufficient funds on account %s: balance %s, requested %s",
		e.AccountID, e.Balance.String(), e.Requested.String())
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// StorageError wraps a store fault with the operation that produced it
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// ConflictError wraps a driver-level conflict so errors.Is(err, ErrConflict) holds
func ConflictError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
}

// IsConflict reports whether err is retryable with a fresh session
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsBusinessRejection reports errors the caller caused and can correct.
// They are not system faults.
func IsBusinessRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidAccountID)
}

// Classify returns a short label for metrics and logs
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidAccountID):
		return "invalid_account"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "unknown"
	}
}
