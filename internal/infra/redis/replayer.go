package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/deadletter/internal/core/domain"
)

var (
	// ErrNoQueue is returned when a message has no queue to go back to
	ErrNoQueue = errors.New("no target queue")

	// ErrEmptyPayload is returned when there is nothing to replay
	ErrEmptyPayload = errors.New("empty payload")
)

// QueueReplayer puts payloads back onto Redis list queues.
// Queue names are used as-is, without the client key prefix, since they belong
// to the producing services.
type QueueReplayer struct {
	rdb            redis.UniversalClient
	fallbackQueues map[string]string
}

// NewQueueReplayer creates a replayer. fallbackQueues maps an operation type
// (email, sms) to the queue of its alternate provider.
func NewQueueReplayer(client *Client, fallbackQueues map[string]string) *QueueReplayer {
	return &QueueReplayer{rdb: client.rdb, fallbackQueues: fallbackQueues}
}

// Replay pushes the original payload back onto the message's original queue.
func (q *QueueReplayer) Replay(ctx context.Context, m *domain.Message) error {
	if m.OriginalQueue == "" {
		return fmt.Errorf("%w: message %s", ErrNoQueue, m.ID)
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: message %s", ErrEmptyPayload, m.ID)
	}
	if err := q.rdb.LPush(ctx, m.OriginalQueue, []byte(m.Payload)).Err(); err != nil {
		return fmt.Errorf("failed to replay onto %s: %w", m.OriginalQueue, err)
	}
	return nil
}

// HasFallback reports whether a fallback queue is configured for the operation type.
func (q *QueueReplayer) HasFallback(op domain.OperationType) bool {
	return q.fallbackQueues[string(op)] != ""
}

type fallbackEnvelope struct {
	MessageID     string          `json:"message_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	OperationType string          `json:"operation_type"`
	FailedVia     string          `json:"failed_via"`
	Payload       json.RawMessage `json:"payload"`
}

// SendFallback enqueues the payload for the alternate provider of its operation type.
func (q *QueueReplayer) SendFallback(ctx context.Context, m *domain.Message) error {
	queue := q.fallbackQueues[string(m.OperationType)]
	if queue == "" {
		return fmt.Errorf("%w: no fallback for %s", ErrNoQueue, m.OperationType)
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: message %s", ErrEmptyPayload, m.ID)
	}

	data, err := json.Marshal(fallbackEnvelope{
		MessageID:     m.ID,
		CorrelationID: m.Metadata.CorrelationID,
		OperationType: string(m.OperationType),
		FailedVia:     m.Provider,
		Payload:       m.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal fallback envelope: %w", err)
	}

	if err := q.rdb.LPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue fallback onto %s: %w", queue, err)
	}
	return nil
}
