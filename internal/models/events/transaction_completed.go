package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/account-ledger/internal/models"
)

// TransactionCompleted is published once a credit or debit has been committed
type TransactionCompleted struct {
	TransactionID string           `json:"transaction_id"`
	AccountID     string           `json:"account_id"`
	Operation     models.Operation `json:"operation"`
	Amount        decimal.Decimal  `json:"amount"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

func NewTransactionCompleted(record models.TransactionRecord) TransactionCompleted {
	return TransactionCompleted{
		TransactionID: record.ID,
		AccountID:     record.AccountID,
		Operation:     record.Operation,
		Amount:        record.Amount,
		OccurredAt:    record.CreatedAt,
	}
}
