package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operation is the direction of a transaction record
type Operation string

const (
	OperationCredit Operation = "CREDIT"
	OperationDebit  Operation = "DEBIT"
)

func (o Operation) String() string {
	return string(o)
}

// Valid reports whether o is one of the known operations
func (o Operation) Valid() bool {
	return o == OperationCredit || o == OperationDebit
}

// ParseOperation accepts "credit"/"debit" in any case
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToUpper(strings.TrimSpace(s)))
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return op, nil
}

// TransactionRecord is a single append-only ledger record for an account.
// Records are never updated or deleted once written.
type TransactionRecord struct {
	ID        string          `json:"id"`         // unique identifier
	AccountID string          `json:"account_id"` // which account this record belongs to
	Amount    decimal.Decimal `json:"amount"`     // always non-negative, direction comes from Operation
	Operation Operation       `json:"operation"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewTransactionRecord builds a record with a fresh id
func NewTransactionRecord(accountID string, amount decimal.Decimal, op Operation, now time.Time) TransactionRecord {
	return TransactionRecord{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Amount:    amount,
		Operation: op,
		CreatedAt: now.UTC(),
	}
}

// BalanceFromTotals folds per-operation sums into a balance: credits minus debits.
// Missing operations count as zero.
func BalanceFromTotals(totals map[Operation]decimal.Decimal) decimal.Decimal {
	return totals[OperationCredit].Sub(totals[OperationDebit])
}
