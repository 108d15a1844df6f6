package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/account-ledger/internal/models"
)

// Session is one atomic unit of work against a store.
//
// Lifecycle: Created -> Started -> Committed | Aborted -> Ended.
// Start fails if the session was already started. Commit may fail with
// models.ErrConflict when a concurrent transaction won. Abort succeeds unless
// the session has ended. End is idempotent and must always be called.
type Session interface {
	Start(ctx context.Context) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
	End(ctx context.Context) error
}

// LedgerStore is the storage port the ledger needs. Reads and writes of one
// ledger operation go through the same Session so they see one snapshot and
// commit or abort together.
type LedgerStore interface {
	// NewSession opens a session on the (pooled) connection. The session is
	// owned by the caller and must not be shared.
	NewSession(ctx context.Context) (Session, error)

	// Insert appends one immutable record inside the session's transaction.
	Insert(ctx context.Context, session Session, record models.TransactionRecord) error

	// GetAggregateBalance sums credits minus debits for accountID as visible
	// inside the session. Zero when the account has no records.
	GetAggregateBalance(ctx context.Context, session Session, accountID string) (decimal.Decimal, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
