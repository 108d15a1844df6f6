package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sheikh-saqib/account-ledger/internal/models/events"
)

func TestNewPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewPublisher(nil)
	assert.ErrorIs(t, err, ErrNoBrokers)

	p, err := NewPublisher([]string{"localhost:9092"})
	require.NoError(t, err)
	assert.Empty(t, p.writer.Topic, "topic is set per message")
	assert.NoError(t, p.Close())
}

func TestBuildMessage(t *testing.T) {
	createdAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	record := models.NewTransactionRecord("acc-1", decimal.RequireFromString("12.50"), models.OperationDebit, createdAt)

	msg, err := buildMessage("ledger.transaction_completed", record.AccountID, events.NewTransactionCompleted(record))
	require.NoError(t, err)

	assert.Equal(t, "ledger.transaction_completed", msg.Topic)
	assert.Equal(t, []byte("acc-1"), msg.Key)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, record.ID, decoded["transaction_id"])
	assert.Equal(t, "acc-1", decoded["account_id"])
	assert.Equal(t, "DEBIT", decoded["operation"])
	assert.Equal(t, "12.5", decoded["amount"], "decimal amounts are encoded as strings")
}

func TestBuildMessage_UnencodableEvent(t *testing.T) {
	_, err := buildMessage("topic", "key", make(chan int))
	assert.Error(t, err)
}

func TestPublish_CanceledContext(t *testing.T) {
	p, err := NewPublisher([]string{"127.0.0.1:1"})
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = p.Publish(ctx, "topic", "key", map[string]string{"a": "b"})
	assert.Error(t, err)
}
