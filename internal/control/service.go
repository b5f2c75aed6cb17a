package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/deadletter/internal/core/config"
	"github.com/vietddude/deadletter/internal/core/domain"
	"github.com/vietddude/deadletter/internal/core/worker"
	"github.com/vietddude/deadletter/internal/engine"
	"github.com/vietddude/deadletter/internal/infra/probe"
	redisclient "github.com/vietddude/deadletter/internal/infra/redis"
	"github.com/vietddude/deadletter/internal/infra/storage"
	"github.com/vietddude/deadletter/internal/infra/storage/memory"
	"github.com/vietddude/deadletter/internal/infra/storage/postgres"
	"github.com/vietddude/deadletter/internal/infra/webhook"
	"github.com/vietddude/deadletter/internal/monitoring"
	"github.com/vietddude/deadletter/internal/recovery"
)

// Service wires the engine to its stores, collaborators and ops server.
type Service struct {
	cfg      *config.AppConfig
	engine   *engine.Engine
	alerts   *monitoring.AlertEngine
	server   *monitoring.Server
	pruner   *worker.Pruner
	redis    *redisclient.Client
	db       *postgres.DB
	closers  []func()
	log      *slog.Logger
	cancel   context.CancelFunc
	group    *errgroup.Group
	shutdown bool
}

type stores struct {
	messages storage.MessageStore
	archive  storage.ArchiveStore
	alerts   storage.AlertLog
	locker   storage.Locker
}

// NewService builds every component from cfg. Redis backs the message store
// when configured, PostgreSQL the archive; both fall back to memory.
func NewService(ctx context.Context, cfg *config.AppConfig) (*Service, error) {
	s := &Service{cfg: cfg, log: slog.Default().With("component", "service")}

	st, err := s.initStores(ctx)
	if err != nil {
		s.closeInfra()
		return nil, err
	}

	collab := s.initCollaborators()
	registry, err := recovery.NewRegistry(recovery.Builtins(collab)...)
	if err != nil {
		s.closeInfra()
		return nil, fmt.Errorf("failed to build strategy registry: %w", err)
	}
	if registry.Len() == 0 {
		s.log.Warn("No recovery strategies configured, every message will need manual intervention")
	}

	alertCfg := monitoring.AlertConfig{
		HighThreshold:     cfg.Alerts.HighThreshold,
		CriticalThreshold: cfg.Alerts.CriticalThreshold,
		SpikeThreshold:    cfg.Alerts.SpikeThreshold,
		SpikeWindow:       cfg.Alerts.SpikeWindow,
	}
	s.alerts = monitoring.NewAlertEngine(alertCfg, st.messages, st.alerts, nil)

	rc := cfg.Recovery
	s.engine, err = engine.New(engine.Config{
		Policy: recovery.Policy{
			EnableAutoRecovery: rc.AutoRecoveryEnabled(),
			MaxAutoRetries:     rc.MaxAutoRetries,
		},
		RetryIntervals:  recovery.Intervals(rc.RetryIntervals),
		SweepInterval:   rc.SweepInterval,
		LeaseTTL:        rc.LeaseTTL,
		HandlerTimeout:  rc.HandlerTimeout,
		Retention:       cfg.Retention.Period,
		ArchiveResolved: cfg.Retention.ArchiveResolved,
		Pool: worker.PoolConfig{
			Workers:   rc.Workers,
			QueueSize: rc.QueueSize,
			Backoff:   worker.DefaultBackoff(rc.JobMaxAttempts),
		},
	}, engine.Dependencies{
		Store:      st.messages,
		Archive:    st.archive,
		Alerts:     st.alerts,
		Locker:     st.locker,
		Registry:   registry,
		Classifier: recovery.NewClassifier(rc.CriticalProviders),
		Observers:  []engine.Observer{s.alerts, monitoring.MetricsObserver{}},
	})
	if err != nil {
		s.closeInfra()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	s.server = monitoring.NewServer(s.engine, alertCfg, cfg.Server.Port)
	if s.redis != nil {
		s.server.AddCheck("redis", s.redis.Ping)
	}
	if s.db != nil {
		s.server.AddCheck("archive", s.db.Health)
	}
	s.pruner = worker.NewPruner(cfg.Retention.Period, s.engine)

	s.log.Info("Service initialized",
		"strategies", registry.Len(),
		"redis", s.redis != nil,
		"archive", s.db != nil,
	)
	return s, nil
}

func (s *Service) initStores(ctx context.Context) (stores, error) {
	var st stores

	if s.cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(s.cfg.Redis)
		if err != nil {
			return st, fmt.Errorf("failed to init redis: %w", err)
		}
		s.redis = client
		st.messages = redisclient.NewMessageStore(client)
		st.alerts = redisclient.NewAlertLog(client, s.cfg.Alerts.MaxAlerts)
		st.locker = client
		s.log.Info("Using Redis message store")
	} else {
		mem := memory.NewMemoryStorage()
		st.messages = memory.NewMessageRepo(mem)
		st.alerts = memory.NewAlertRepo(mem, s.cfg.Alerts.MaxAlerts)
		st.locker = memory.NewLocker(mem)
		st.archive = memory.NewArchiveRepo(mem)
		s.log.Info("Using memory message store")
	}

	if s.cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, s.cfg.Database)
		if err != nil {
			return st, fmt.Errorf("failed to init db: %w", err)
		}
		s.db = db
		if err := db.Migrate(); err != nil {
			return st, err
		}
		st.archive = postgres.NewArchiveRepo(db)
		s.log.Info("Using PostgreSQL archive")
	} else if st.archive == nil && s.cfg.Retention.ArchiveResolved {
		s.log.Warn("Archiving enabled without a database, resolved messages will be deleted unarchived")
	}

	return st, nil
}

func (s *Service) initCollaborators() recovery.Collaborators {
	cc := s.cfg.Collaborators
	var c recovery.Collaborators

	if s.redis != nil && cc.QueueReplay {
		replayer := redisclient.NewQueueReplayer(s.redis, cc.FallbackQueues)
		c.Replayer = replayer
		if replayer.HasFallback(domain.OperationEmail) {
			c.EmailFallback = replayer
		}
		if replayer.HasFallback(domain.OperationSMS) {
			c.SMSFallback = replayer
		}
	}
	if len(cc.HealthChecks) > 0 {
		prober := probe.New(cc.HealthChecks, cc.HealthCheckTimeout)
		c.HealthChecker = prober
		s.closers = append(s.closers, func() { _ = prober.Close() })
	}
	if cc.WebhookRedelivery {
		sender := webhook.NewRedeliverer(cc.WebhookTimeout)
		c.WebhookSender = sender
		s.closers = append(s.closers, sender.Close)
	}
	if len(cc.TokenEndpoints) > 0 {
		refresher := webhook.NewTokenRefresher(cc.TokenEndpoints, cc.WebhookTimeout)
		c.TokenRefresher = refresher
		s.closers = append(s.closers, refresher.Close)
	}
	return c
}

// Engine returns the recovery engine.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// Start starts the engine, the ops server and the pruner.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Ops server failed", "error", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.pruner.Start(gctx)
		return nil
	})
	s.group = g

	s.log.Info("Service started", "port", s.cfg.Server.Port)
	return nil
}

// Stop shuts down the server, drains the engine and closes connections.
func (s *Service) Stop(ctx context.Context) error {
	if s.shutdown {
		return nil
	}
	s.shutdown = true
	s.log.Info("Stopping service...")

	if s.cancel != nil {
		s.cancel()
	}

	var errs []error
	if s.group != nil {
		if err := s.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop ops server: %w", err))
		}
		if err := s.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.engine.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	s.closeInfra()
	return errors.Join(errs...)
}

func (s *Service) closeInfra() {
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
		s.redis = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
		s.db = nil
	}
}

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 15 * time.Second
