package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/deadletter/internal/core/domain"
	"github.com/vietddude/deadletter/internal/core/worker"
	"github.com/vietddude/deadletter/internal/infra/storage"
	"github.com/vietddude/deadletter/internal/recovery"
)

// Config holds the engine settings.
type Config struct {
	Policy          recovery.Policy
	RetryIntervals  recovery.Intervals
	SweepInterval   time.Duration
	LeaseTTL        time.Duration
	HandlerTimeout  time.Duration
	Retention       time.Duration
	ArchiveResolved bool
	Pool            worker.PoolConfig
}

// Observer receives engine events. Notify is called synchronously after the
// change is persisted and must not block for long.
type Observer interface {
	Notify(ctx context.Context, ev domain.Event)
}

// Dispatcher runs ProcessRetry for a message id, usually on a worker pool.
type Dispatcher interface {
	Submit(messageID string) bool
}

// Dependencies are the collaborators of the engine. Store, Registry and
// Classifier are required.
type Dependencies struct {
	Store      storage.MessageStore
	Archive    storage.ArchiveStore
	Alerts     storage.AlertLog
	Locker     storage.Locker
	Registry   *recovery.Registry
	Classifier *recovery.Classifier
	Observers  []Observer

	// Dispatcher replaces the internal worker pool when set
	Dispatcher Dispatcher

	Now func() time.Time
}

// Engine is the dead-letter recovery engine.
type Engine struct {
	cfg        Config
	store      storage.MessageStore
	archive    storage.ArchiveStore
	alerts     storage.AlertLog
	locker     storage.Locker
	registry   *recovery.Registry
	classifier *recovery.Classifier
	observers  []Observer
	dispatcher Dispatcher
	pool       *worker.Pool
	scheduler  *scheduler
	now        func() time.Time
	instanceID string
	log        *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	started bool
}

// Ingest is the input of AddMessage.
type Ingest struct {
	OriginalQueue string
	OperationType domain.OperationType
	Provider      string
	Payload       []byte
	Error         domain.ErrorInfo
	Metadata      domain.Metadata
}

// New creates an engine.
func New(cfg Config, deps Dependencies) (*Engine, error) {
	if deps.Store == nil || deps.Registry == nil || deps.Classifier == nil {
		return nil, fmt.Errorf("engine: store, registry and classifier are required")
	}
	if len(cfg.RetryIntervals) == 0 {
		return nil, fmt.Errorf("engine: retry intervals must not be empty")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * cfg.HandlerTimeout
	}

	e := &Engine{
		cfg:        cfg,
		store:      deps.Store,
		archive:    deps.Archive,
		alerts:     deps.Alerts,
		locker:     deps.Locker,
		registry:   deps.Registry,
		classifier: deps.Classifier,
		observers:  deps.Observers,
		dispatcher: deps.Dispatcher,
		now:        deps.Now,
		instanceID: uuid.NewString(),
		log:        slog.Default().With("component", "engine"),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.dispatcher == nil {
		e.pool = worker.NewPool(cfg.Pool, e.ProcessRetry)
		e.dispatcher = e.pool
	}
	e.scheduler = newScheduler(e.now, e.dispatch)
	return e, nil
}

// Registry returns the strategy registry.
func (e *Engine) Registry() *recovery.Registry {
	return e.registry
}

// AddMessage classifies a failed operation, stores it and schedules the first
// automatic attempt when a strategy applies.
func (e *Engine) AddMessage(ctx context.Context, in Ingest) (string, error) {
	if !in.OperationType.Valid() {
		return "", fmt.Errorf("%w: unknown operation type %q", ErrInvalidMessage, in.OperationType)
	}
	if in.Provider == "" {
		return "", fmt.Errorf("%w: provider is required", ErrInvalidMessage)
	}

	now := e.now().UTC()
	info := in.Error
	info.Retryable = recovery.IsRetryable(info.StatusCode)

	meta := in.Metadata
	meta.Tags = append([]string(nil), in.Metadata.Tags...)
	if meta.FirstFailedAt.IsZero() {
		meta.FirstFailedAt = now
	}
	if meta.LastFailedAt.IsZero() {
		meta.LastFailedAt = now
	}
	if meta.Priority == "" {
		meta.Priority = domain.PriorityNormal
	}

	cls := e.classifier.Classify(info, in.OperationType, in.Provider)
	m := &domain.Message{
		ID:             uuid.NewString(),
		OriginalQueue:  in.OriginalQueue,
		OperationType:  in.OperationType,
		Provider:       in.Provider,
		Payload:        append([]byte(nil), in.Payload...),
		Error:          info,
		Metadata:       meta,
		Classification: cls,
		Recovery:       recovery.ResolveSettings(cls, in.OperationType, e.cfg.Policy),
		Resolution:     domain.Resolution{Status: domain.StatusPending},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(m.Payload) == 0 {
		m.Payload = nil
	}

	if m.Recovery.AutoRetryEnabled {
		if s, ok := e.registry.Select(m); ok {
			m.Recovery.SelectedStrategy = s.Name()
			m.Recovery.NextRetryAt = domain.TimePtr(now.Add(e.cfg.RetryIntervals.Delay(0)))
		} else {
			m.Classification.RequiresManualIntervention = true
			m.AddNote("no applicable recovery strategy")
		}
	} else {
		m.Classification.RequiresManualIntervention = true
	}

	if err := e.store.Create(ctx, m); err != nil {
		return "", fmt.Errorf("failed to store message: %w", err)
	}

	if m.Recovery.NextRetryAt != nil {
		e.scheduler.Schedule(m.ID, *m.Recovery.NextRetryAt)
	}

	e.log.Info("Dead-letter message added",
		"message_id", m.ID,
		"operation", m.OperationType,
		"provider", m.Provider,
		"category", m.Classification.Category,
		"strategy", m.Recovery.SelectedStrategy,
	)
	e.notify(ctx, domain.Event{EventType: domain.EventTypeIngested, Message: m, Strategy: m.Recovery.SelectedStrategy})
	return m.ID, nil
}

// Start rebuilds the schedule from the store and starts the worker pool and
// the sweep loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	msgs, skipped, err := e.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	if skipped > 0 {
		e.log.Warn("Skipped corrupt records while loading", "count", skipped)
	}

	scheduled := 0
	for _, m := range msgs {
		if m.Resolution.Status == domain.StatusPending && m.Recovery.AutoRetryEnabled && m.Recovery.NextRetryAt != nil {
			e.scheduler.Schedule(m.ID, *m.Recovery.NextRetryAt)
			scheduled++
		}
	}

	if e.pool != nil {
		e.pool.Start(ctx)
	}

	e.loops.Add(1)
	go func() {
		defer e.loops.Done()
		e.sweepLoop(ctx)
	}()

	e.log.Info("Engine started", "messages", len(msgs), "scheduled", scheduled, "instance", e.instanceID)
	return nil
}

// Stop drains timers and workers and closes the store. Unresolved messages stay
// persisted and are rescheduled by the next Start.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	e.scheduler.Stop()
	e.loops.Wait()

	var firstErr error
	if e.pool != nil {
		if err := e.pool.Stop(ctx); err != nil && !errors.Is(err, worker.ErrPoolStopped) {
			firstErr = fmt.Errorf("failed to drain workers: %w", err)
		}
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close store: %w", err)
	}

	e.log.Info("Engine stopped")
	return firstErr
}

func (e *Engine) dispatch(id string) {
	if !e.dispatcher.Submit(id) {
		e.log.Debug("Dispatch skipped", "message_id", id)
	}
}

func (e *Engine) notify(ctx context.Context, ev domain.Event) {
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = e.now().UTC()
	}
	for _, o := range e.observers {
		o.Notify(ctx, ev)
	}
}
