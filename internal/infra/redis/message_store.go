package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/deadletter/internal/core/domain"
	"github.com/vietddude/deadletter/internal/infra/storage"
)

// maxTxAttempts bounds optimistic WATCH retries on a hot key.
const maxTxAttempts = 16

// MessageStore implements storage.MessageStore using Redis.
//
// Layout:
//
//	<prefix>:msg:<id>              JSON record
//	<prefix>:idx:all               set of ids
//	<prefix>:idx:provider:<name>   set of ids
//	<prefix>:idx:op:<type>         set of ids
//	<prefix>:idx:status:<status>   set of ids
type MessageStore struct {
	rdb    redis.UniversalClient
	prefix string
	log    *slog.Logger
}

// NewMessageStore creates a new Redis-backed message store.
func NewMessageStore(client *Client) *MessageStore {
	return &MessageStore{
		rdb:    client.rdb,
		prefix: client.prefix,
		log:    slog.Default().With("component", "redis_message_store"),
	}
}

// Key helpers
func (s *MessageStore) msgKey(id string) string {
	return fmt.Sprintf("%s:msg:%s", s.prefix, id)
}

func (s *MessageStore) allKey() string {
	return fmt.Sprintf("%s:idx:all", s.prefix)
}

func (s *MessageStore) providerKey(provider string) string {
	return fmt.Sprintf("%s:idx:provider:%s", s.prefix, provider)
}

func (s *MessageStore) opKey(op domain.OperationType) string {
	return fmt.Sprintf("%s:idx:op:%s", s.prefix, op)
}

func (s *MessageStore) statusKey(status domain.Status) string {
	return fmt.Sprintf("%s:idx:status:%s", s.prefix, status)
}

// Create stores a new message together with its index entries.
func (s *MessageStore) Create(ctx context.Context, m *domain.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := s.msgKey(m.ID)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("exists failed: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", storage.ErrMessageExists, m.ID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			s.addIndices(ctx, pipe, m)
			return nil
		})
		return err
	})
}

// Get loads a message by id.
func (s *MessageStore) Get(ctx context.Context, id string) (*domain.Message, error) {
	data, err := s.rdb.Get(ctx, s.msgKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrMessageNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	var m domain.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %s: %w", id, err)
	}
	return &m, nil
}

// Update applies fn under WATCH so that the record and its indices change
// atomically and concurrent writers cannot interleave.
func (s *MessageStore) Update(
	ctx context.Context,
	id string,
	fn storage.UpdateFunc,
) (*domain.Message, error) {
	key := s.msgKey(id)
	var result *domain.Message

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("%w: %s", storage.ErrMessageNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to get message: %w", err)
		}

		var old domain.Message
		if err := json.Unmarshal(data, &old); err != nil {
			return fmt.Errorf("failed to unmarshal message %s: %w", id, err)
		}

		updated := old.Clone()
		if err := fn(updated); err != nil {
			return err
		}
		updated.ID = id

		newData, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, 0)
			s.removeIndices(ctx, pipe, &old)
			s.addIndices(ctx, pipe, updated)
			return nil
		})
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a message and all of its index entries.
func (s *MessageStore) Delete(ctx context.Context, id string) error {
	key := s.msgKey(id)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("%w: %s", storage.ErrMessageNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to get message: %w", err)
		}

		var old domain.Message
		decoded := json.Unmarshal(data, &old) == nil

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.allKey(), id)
			if decoded {
				s.removeIndices(ctx, pipe, &old)
			}
			return nil
		})
		return err
	})
}

// List returns messages in the intersection of the requested index sets.
func (s *MessageStore) List(ctx context.Context, filter domain.Filter) ([]*domain.Message, error) {
	keys := []string{s.allKey()}
	if filter.Status != "" {
		keys = append(keys, s.statusKey(filter.Status))
	}
	if filter.Provider != "" {
		keys = append(keys, s.providerKey(filter.Provider))
	}
	if filter.OperationType != "" {
		keys = append(keys, s.opKey(filter.OperationType))
	}

	ids, err := s.rdb.SInter(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("sinter failed: %w", err)
	}

	msgs, _, err := s.fetch(ctx, ids)
	return msgs, err
}

// LoadAll returns every decodable record. Corrupt records are skipped and logged.
func (s *MessageStore) LoadAll(ctx context.Context) ([]*domain.Message, int, error) {
	ids, err := s.rdb.SMembers(ctx, s.allKey()).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("smembers failed: %w", err)
	}
	return s.fetch(ctx, ids)
}

// CountByStatus returns the cardinality of a status index.
func (s *MessageStore) CountByStatus(ctx context.Context, status domain.Status) (int, error) {
	count, err := s.rdb.SCard(ctx, s.statusKey(status)).Result()
	if err != nil {
		return 0, fmt.Errorf("scard failed: %w", err)
	}
	return int(count), nil
}

// Close is a no-op; the shared Client owns the connection.
func (s *MessageStore) Close() error {
	return nil
}

func (s *MessageStore) fetch(ctx context.Context, ids []string) ([]*domain.Message, int, error) {
	if len(ids) == 0 {
		return nil, 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.msgKey(id)
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("mget failed: %w", err)
	}

	msgs := make([]*domain.Message, 0, len(ids))
	skipped := 0
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a record
			continue
		}
		var m domain.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			skipped++
			s.log.Warn("Skipping corrupt message record", "id", ids[i], "error", err)
			continue
		}
		msgs = append(msgs, &m)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, skipped, nil
}

func (s *MessageStore) addIndices(ctx context.Context, pipe redis.Pipeliner, m *domain.Message) {
	pipe.SAdd(ctx, s.allKey(), m.ID)
	pipe.SAdd(ctx, s.providerKey(m.Provider), m.ID)
	pipe.SAdd(ctx, s.opKey(m.OperationType), m.ID)
	pipe.SAdd(ctx, s.statusKey(m.Resolution.Status), m.ID)
}

func (s *MessageStore) removeIndices(ctx context.Context, pipe redis.Pipeliner, m *domain.Message) {
	pipe.SRem(ctx, s.providerKey(m.Provider), m.ID)
	pipe.SRem(ctx, s.opKey(m.OperationType), m.ID)
	pipe.SRem(ctx, s.statusKey(m.Resolution.Status), m.ID)
}

// watch runs fn inside WATCH key and retries when another client modified it.
func (s *MessageStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxAttempts; i++ {
		err := s.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", storage.ErrConflict, key)
}
