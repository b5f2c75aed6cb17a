package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/deadletter/internal/core/domain"
	"github.com/vietddude/deadletter/internal/infra/storage"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientFrom(rdb, ""), mr
}

func testMessage(id, provider string, op domain.OperationType, status domain.Status) *domain.Message {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Message{
		ID:            id,
		OriginalQueue: "jobs",
		OperationType: op,
		Provider:      provider,
		Payload:       []byte(`{"k":"v"}`),
		Error:         domain.ErrorInfo{Message: "boom", StatusCode: 503, Retryable: true},
		Metadata:      domain.Metadata{Priority: domain.PriorityNormal, AttemptCount: 3},
		Classification: domain.Classification{
			Category: domain.CategoryServer,
			Severity: domain.SeverityHigh,
		},
		Recovery: domain.Recovery{
			AutoRetryEnabled: true,
			MaxAutoRetries:   3,
			RetryStrategy:    domain.RetryExponential,
			NextRetryAt:      domain.TimePtr(created.Add(5 * time.Minute)),
		},
		Resolution: domain.Resolution{Status: status},
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestMessageStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewMessageStore(client)

	msg := testMessage("m1", "stripe", domain.OperationWebhook, domain.StatusPending)
	require.NoError(t, store.Create(ctx, msg))

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	assert.True(t, mr.Exists("dlq:msg:m1"))
	members, err := mr.SMembers("dlq:idx:provider:stripe")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, members)
	members, err = mr.SMembers("dlq:idx:status:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, members)

	err = store.Create(ctx, msg)
	assert.ErrorIs(t, err, storage.ErrMessageExists)
}

func TestMessageStore_UpdateMovesIndices(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewMessageStore(client)

	require.NoError(t, store.Create(ctx, testMessage("m1", "stripe", domain.OperationWebhook, domain.StatusPending)))

	updated, err := store.Update(ctx, "m1", func(m *domain.Message) error {
		m.Resolution.Status = domain.StatusRetrying
		m.Recovery.LeaseOwner = "worker-1"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetrying, updated.Resolution.Status)

	pending, err := store.CountByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
	retrying, err := store.CountByStatus(ctx, domain.StatusRetrying)
	require.NoError(t, err)
	assert.Equal(t, 1, retrying)

	members, err := mr.SMembers("dlq:idx:status:retrying")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, members)
}

func TestMessageStore_UpdateAbortKeepsRecord(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewMessageStore(client)

	require.NoError(t, store.Create(ctx, testMessage("m1", "stripe", domain.OperationWebhook, domain.StatusPending)))

	errAbort := errors.New("abort")
	_, err := store.Update(ctx, "m1", func(m *domain.Message) error {
		m.Resolution.Status = domain.StatusAbandoned
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Resolution.Status)

	_, err = store.Update(ctx, "missing", func(m *domain.Message) error { return nil })
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)
}

func TestMessageStore_ConcurrentClaimsSerialize(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewMessageStore(client)

	require.NoError(t, store.Create(ctx, testMessage("m1", "stripe", domain.OperationWebhook, domain.StatusPending)))

	errClaimed := errors.New("already claimed")
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "m1", func(m *domain.Message) error {
				if m.Resolution.Status != domain.StatusPending {
					return errClaimed
				}
				m.Resolution.Status = domain.StatusRetrying
				return nil
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestMessageStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewMessageStore(client)

	a := testMessage("a", "stripe", domain.OperationWebhook, domain.StatusPending)
	b := testMessage("b", "stripe", domain.OperationEmail, domain.StatusManual)
	c := testMessage("c", "sendgrid", domain.OperationEmail, domain.StatusPending)
	b.CreatedAt = a.CreatedAt.Add(time.Minute)
	c.CreatedAt = a.CreatedAt.Add(2 * time.Minute)
	for _, m := range []*domain.Message{c, a, b} {
		require.NoError(t, store.Create(ctx, m))
	}

	all, err := store.List(ctx, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, ids(all))

	stripe, err := store.List(ctx, domain.Filter{Provider: "stripe", Status: domain.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(stripe))

	email, err := store.List(ctx, domain.Filter{OperationType: domain.OperationEmail})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(email))

	require.NoError(t, store.Delete(ctx, "b"))
	assert.False(t, mr.Exists("dlq:msg:b"))
	manual, err := store.CountByStatus(ctx, domain.StatusManual)
	require.NoError(t, err)
	assert.Equal(t, 0, manual)
	isMember, err := mr.SIsMember("dlq:idx:all", "b")
	require.NoError(t, err)
	assert.False(t, isMember)

	assert.ErrorIs(t, store.Delete(ctx, "b"), storage.ErrMessageNotFound)
}

func TestMessageStore_LoadAllSkipsCorrupt(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewMessageStore(client)

	require.NoError(t, store.Create(ctx, testMessage("good", "stripe", domain.OperationWebhook, domain.StatusPending)))
	require.NoError(t, mr.Set("dlq:msg:bad", "{not json"))
	_, err := mr.SAdd("dlq:idx:all", "bad", "ghost")
	require.NoError(t, err)

	msgs, skipped, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []string{"good"}, ids(msgs))
}

func TestClient_Lock(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	ok, err := client.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = client.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, client.Unlock(ctx, "sweep"))
	assert.False(t, mr.Exists("dlq:lock:sweep"))
}

func TestClient_UnlockKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	newClient := func() *Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return NewClientFrom(rdb, "")
	}
	slow, fast := newClient(), newClient()

	ok, err := slow.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// slow overruns its ttl and fast takes the lock over
	mr.FastForward(2 * time.Minute)
	ok, err = fast.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, slow.Unlock(ctx, "sweep"))
	assert.True(t, mr.Exists("dlq:lock:sweep"))

	ok, err = slow.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fast.Unlock(ctx, "sweep"))
	assert.False(t, mr.Exists("dlq:lock:sweep"))
}

func ids(msgs []*domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
