package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fingaurd/fraud-engine/configs"
	"github.com/fingaurd/fraud-engine/internal/models"
)

func newTestStream(t *testing.T) (*RedisStreamClient, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	cfg := configs.RedisConfig{
		URL:           "redis://" + srv.Addr(),
		StreamName:    "transactions",
		ConsumerGroup: "scoring-workers",
		MaxRetries:    3,
	}

	client, err := NewRedisStreamClient(cfg, "transactions-dlq")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client, srv
}

func TestPublishConsumeAcknowledge(t *testing.T) {
	client, _ := newTestStream(t)
	ctx := context.Background()

	event := &models.TransactionEvent{
		TransactionID: "tx-1",
		UserID:        "user-1",
		Amount:        150,
		Category:      "groceries",
		Type:          models.TransactionTypeExpense,
		Timestamp:     time.Date(2025, 6, 11, 14, 30, 0, 0, time.UTC),
	}

	_, err := client.Publish(ctx, event)
	require.NoError(t, err)

	msgs, err := client.Consume(ctx, "worker-0", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "tx-1", msgs[0].Event.TransactionID)
	assert.Equal(t, 150.0, msgs[0].Event.Amount)

	require.NoError(t, client.Acknowledge(ctx, msgs[0].ID))

	count, err := client.GetPendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConsumeDeadLettersUnparseableMessages(t *testing.T) {
	client, srv := newTestStream(t)
	ctx := context.Background()

	_, err := srv.XAdd("transactions", "*", []string{"data", "{not json"})
	require.NoError(t, err)

	msgs, err := client.Consume(ctx, "worker-0", 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// The broken message must end up in the dead-letter stream, acked on the
	// source stream so it is never reclaimed again.
	dlq, err := srv.Stream("transactions-dlq")
	require.NoError(t, err)
	require.Len(t, dlq, 1)

	count, err := client.GetPendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSendToDeadLetterKeepsCause(t *testing.T) {
	client, srv := newTestStream(t)
	ctx := context.Background()

	event := &models.TransactionEvent{TransactionID: "tx-9", UserID: "user-1", RetryCount: 3}
	require.NoError(t, client.SendToDeadLetter(ctx, event, assert.AnError))

	dlq, err := srv.Stream("transactions-dlq")
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Contains(t, dlq[0].Values, assert.AnError.Error())
}
