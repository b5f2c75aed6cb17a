package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/deadletter/internal/core/domain"
)

var (
	// ErrMessageNotFound is returned when no record exists for an id
	ErrMessageNotFound = errors.New("message not found")

	// ErrMessageExists is returned by Create when the id is already taken
	ErrMessageExists = errors.New("message already exists")

	// ErrConflict is returned when a conditional update keeps losing the race
	ErrConflict = errors.New("concurrent update conflict")
)

// UpdateFunc mutates a message inside an atomic read-modify-write.
// Returning an error aborts the write and the error is passed to the caller.
type UpdateFunc func(m *domain.Message) error

// MessageStore is the durable keyed store for dead-letter messages.
// Every write keeps the secondary indices (all, provider, operation type, status)
// consistent with the primary record.
type MessageStore interface {
	// Create stores a new message
	Create(ctx context.Context, m *domain.Message) error

	// Get loads a message by id
	Get(ctx context.Context, id string) (*domain.Message, error)

	// Update applies fn atomically; concurrent writers to the same id are serialized
	Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Message, error)

	// Delete removes the record and all its index entries
	Delete(ctx context.Context, id string) error

	// List returns messages matching the indexed fields of filter
	List(ctx context.Context, filter domain.Filter) ([]*domain.Message, error)

	// LoadAll returns every decodable record and the number of records skipped
	LoadAll(ctx context.Context) ([]*domain.Message, int, error)

	// CountByStatus returns the size of a status index
	CountByStatus(ctx context.Context, status domain.Status) (int, error)

	// Close releases the underlying connection
	Close() error
}

// ArchiveStore keeps resolved messages after they leave the active store.
type ArchiveStore interface {
	// Archive persists a copy of the message
	Archive(ctx context.Context, m *domain.Message) error

	// Get loads an archived message
	Get(ctx context.Context, id string) (*domain.Message, error)

	// Count returns the number of archived messages
	Count(ctx context.Context) (int, error)
}

// AlertLog is the capped, newest-first alert history.
type AlertLog interface {
	// Append records an alert, dropping the oldest entries beyond the cap
	Append(ctx context.Context, alert domain.Alert) error

	// Recent returns up to limit alerts, newest first
	Recent(ctx context.Context, limit int) ([]domain.Alert, error)
}

// Locker provides a named lock with an expiry.
type Locker interface {
	// TryLock acquires the lock if free, returning false when held by someone else
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error)

	// Unlock releases the lock
	Unlock(ctx context.Context, name string) error
}
