package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/deadletter/internal/core/domain"
)

func TestQueueReplayer_Replay(t *testing.T) {
	client, mr := newTestClient(t)
	q := NewQueueReplayer(client, nil)
	ctx := context.Background()

	m := &domain.Message{ID: "m1", OriginalQueue: "jobs:webhooks", Payload: json.RawMessage(`{"n":1}`)}
	require.NoError(t, q.Replay(ctx, m))

	items, err := mr.List("jobs:webhooks")
	require.NoError(t, err)
	assert.Equal(t, []string{`{"n":1}`}, items)

	assert.ErrorIs(t, q.Replay(ctx, &domain.Message{ID: "m2", Payload: m.Payload}), ErrNoQueue)
	assert.ErrorIs(t, q.Replay(ctx, &domain.Message{ID: "m3", OriginalQueue: "jobs:webhooks"}), ErrEmptyPayload)
}

func TestQueueReplayer_SendFallback(t *testing.T) {
	client, mr := newTestClient(t)
	q := NewQueueReplayer(client, map[string]string{"email": "email:fallback"})
	ctx := context.Background()

	assert.True(t, q.HasFallback(domain.OperationEmail))
	assert.False(t, q.HasFallback(domain.OperationSMS))

	m := &domain.Message{
		ID:            "m1",
		OperationType: domain.OperationEmail,
		Provider:      "sendgrid",
		Payload:       json.RawMessage(`{"to":"a@example.com"}`),
		Metadata:      domain.Metadata{CorrelationID: "c1"},
	}
	require.NoError(t, q.SendFallback(ctx, m))

	items, err := mr.List("email:fallback")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{
		"message_id": "m1",
		"correlation_id": "c1",
		"operation_type": "email",
		"failed_via": "sendgrid",
		"payload": {"to":"a@example.com"}
	}`, items[0])

	sms := &domain.Message{ID: "m2", OperationType: domain.OperationSMS, Payload: m.Payload}
	assert.ErrorIs(t, q.SendFallback(ctx, sms), ErrNoQueue)
}
