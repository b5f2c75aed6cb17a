package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/deadletter/internal/core/domain"
)

func TestAlertLog_CappedNewestFirst(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	log := NewAlertLog(client, 3)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(ctx, domain.Alert{
			ID:        fmt.Sprintf("a%d", i),
			Type:      domain.AlertHighVolume,
			Severity:  domain.SeverityHigh,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := log.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a4", all[0].ID)
	assert.Equal(t, "a2", all[2].ID)

	two, err := log.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a4", "a3"}, []string{two[0].ID, two[1].ID})
}

func TestQueueReplayer(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	replayer := NewQueueReplayer(client, map[string]string{"email": "email:fallback"})

	msg := testMessage("m1", "sendgrid", domain.OperationEmail, domain.StatusRetrying)
	msg.Metadata.CorrelationID = "corr-1"

	require.NoError(t, replayer.Replay(ctx, msg))
	items, err := mr.List("jobs")
	require.NoError(t, err)
	assert.Equal(t, []string{`{"k":"v"}`}, items)

	assert.True(t, replayer.HasFallback(domain.OperationEmail))
	assert.False(t, replayer.HasFallback(domain.OperationSMS))

	require.NoError(t, replayer.SendFallback(ctx, msg))
	items, err = mr.List("email:fallback")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var env fallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(items[0]), &env))
	assert.Equal(t, "m1", env.MessageID)
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.Equal(t, "sendgrid", env.FailedVia)

	sms := testMessage("m2", "twilio", domain.OperationSMS, domain.StatusRetrying)
	assert.ErrorIs(t, replayer.SendFallback(ctx, sms), ErrNoQueue)

	empty := testMessage("m3", "stripe", domain.OperationWebhook, domain.StatusRetrying)
	empty.Payload = nil
	assert.ErrorIs(t, replayer.Replay(ctx, empty), ErrEmptyPayload)
}
