package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/deadletter/internal/core/domain"
	"github.com/vietddude/deadletter/internal/infra/storage"
)

type index map[string]map[string]struct{}

func (ix index) add(key, id string) {
	set, ok := ix[key]
	if !ok {
		set = make(map[string]struct{})
		ix[key] = set
	}
	set[id] = struct{}{}
}

func (ix index) remove(key, id string) {
	if set, ok := ix[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(ix, key)
		}
	}
}

// MemoryStorage keeps every record in process memory. It backs tests and
// single-instance deployments without Redis.
type MemoryStorage struct {
	messages   map[string]*domain.Message
	byProvider index
	byOp       index
	byStatus   index
	archive    map[string]*domain.Message
	alerts     []domain.Alert
	maxAlerts  int
	locks      map[string]time.Time
	now        func() time.Time
	mu         sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages:   make(map[string]*domain.Message),
		byProvider: make(index),
		byOp:       make(index),
		byStatus:   make(index),
		archive:    make(map[string]*domain.Message),
		maxAlerts:  100,
		locks:      make(map[string]time.Time),
		now:        time.Now,
	}
}

// -----------------------------------------------------------------------------
// Message Store
// -----------------------------------------------------------------------------

type MessageRepo struct {
	store *MemoryStorage
}

func NewMessageRepo(store *MemoryStorage) *MessageRepo {
	return &MessageRepo{store: store}
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.messages[m.ID]; ok {
		return fmt.Errorf("%w: %s", storage.ErrMessageExists, m.ID)
	}
	r.store.put(m.Clone())
	return nil
}

func (r *MessageRepo) Get(ctx context.Context, id string) (*domain.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	m, ok := r.store.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrMessageNotFound, id)
	}
	return m.Clone(), nil
}

func (r *MessageRepo) Update(ctx context.Context, id string, fn storage.UpdateFunc) (*domain.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	old, ok := r.store.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrMessageNotFound, id)
	}

	updated := old.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	updated.ID = id

	r.store.unindex(old)
	r.store.put(updated)
	return updated.Clone(), nil
}

func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	m, ok := r.store.messages[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrMessageNotFound, id)
	}
	r.store.unindex(m)
	delete(r.store.messages, id)
	return nil
}

func (r *MessageRepo) List(ctx context.Context, filter domain.Filter) ([]*domain.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var sets []map[string]struct{}
	if filter.Status != "" {
		sets = append(sets, r.store.byStatus[string(filter.Status)])
	}
	if filter.Provider != "" {
		sets = append(sets, r.store.byProvider[filter.Provider])
	}
	if filter.OperationType != "" {
		sets = append(sets, r.store.byOp[string(filter.OperationType)])
	}

	var res []*domain.Message
	for id, m := range r.store.messages {
		if !inAll(sets, id) {
			continue
		}
		res = append(res, m.Clone())
	}
	sortByCreated(res)
	return res, nil
}

func (r *MessageRepo) LoadAll(ctx context.Context) ([]*domain.Message, int, error) {
	msgs, err := r.List(ctx, domain.Filter{})
	return msgs, 0, err
}

func (r *MessageRepo) CountByStatus(ctx context.Context, status domain.Status) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.byStatus[string(status)]), nil
}

func (r *MessageRepo) Close() error { return nil }

func (s *MemoryStorage) put(m *domain.Message) {
	s.messages[m.ID] = m
	s.byProvider.add(m.Provider, m.ID)
	s.byOp.add(string(m.OperationType), m.ID)
	s.byStatus.add(string(m.Resolution.Status), m.ID)
}

func (s *MemoryStorage) unindex(m *domain.Message) {
	s.byProvider.remove(m.Provider, m.ID)
	s.byOp.remove(string(m.OperationType), m.ID)
	s.byStatus.remove(string(m.Resolution.Status), m.ID)
}

func inAll(sets []map[string]struct{}, id string) bool {
	for _, set := range sets {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func sortByCreated(msgs []*domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// -----------------------------------------------------------------------------
// Archive Store
// -----------------------------------------------------------------------------

type ArchiveRepo struct{ store *MemoryStorage }

func NewArchiveRepo(s *MemoryStorage) *ArchiveRepo { return &ArchiveRepo{store: s} }

func (r *ArchiveRepo) Archive(ctx context.Context, m *domain.Message) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.archive[m.ID] = m.Clone()
	return nil
}

func (r *ArchiveRepo) Get(ctx context.Context, id string) (*domain.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	m, ok := r.store.archive[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrMessageNotFound, id)
	}
	return m.Clone(), nil
}

func (r *ArchiveRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.archive), nil
}

// -----------------------------------------------------------------------------
// Alert Log
// -----------------------------------------------------------------------------

type AlertRepo struct{ store *MemoryStorage }

// NewAlertRepo creates an alert log capped at maxAlerts entries.
func NewAlertRepo(s *MemoryStorage, maxAlerts int) *AlertRepo {
	s.mu.Lock()
	if maxAlerts > 0 {
		s.maxAlerts = maxAlerts
	}
	s.mu.Unlock()
	return &AlertRepo{store: s}
}

func (r *AlertRepo) Append(ctx context.Context, alert domain.Alert) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.alerts = append([]domain.Alert{alert}, r.store.alerts...)
	if len(r.store.alerts) > r.store.maxAlerts {
		r.store.alerts = r.store.alerts[:r.store.maxAlerts]
	}
	return nil
}

func (r *AlertRepo) Recent(ctx context.Context, limit int) ([]domain.Alert, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if limit <= 0 || limit > len(r.store.alerts) {
		limit = len(r.store.alerts)
	}
	out := make([]domain.Alert, limit)
	copy(out, r.store.alerts[:limit])
	return out, nil
}

// -----------------------------------------------------------------------------
// Locker
// -----------------------------------------------------------------------------

type Locker struct{ store *MemoryStorage }

func NewLocker(s *MemoryStorage) *Locker { return &Locker{store: s} }

func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	now := l.store.now()
	if exp, ok := l.store.locks[name]; ok && now.Before(exp) {
		return false, nil
	}
	l.store.locks[name] = now.Add(ttl)
	return true, nil
}

func (l *Locker) Unlock(ctx context.Context, name string) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	delete(l.store.locks, name)
	return nil
}
