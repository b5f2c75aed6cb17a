package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/deadletter/internal/core/domain"
	"github.com/vietddude/deadletter/internal/infra/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeCounter struct {
	mu      sync.Mutex
	pending int
}

func (c *fakeCounter) set(n int) {
	c.mu.Lock()
	c.pending = n
	c.mu.Unlock()
}

func (c *fakeCounter) CountByStatus(ctx context.Context, status domain.Status) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if status != domain.StatusPending {
		return 0, nil
	}
	return c.pending, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func msg(id, provider string, status domain.Status) *domain.Message {
	return &domain.Message{
		ID:             id,
		Provider:       provider,
		OperationType:  domain.OperationWebhook,
		Classification: domain.Classification{Category: domain.CategoryServer, Severity: domain.SeverityMedium},
		Resolution:     domain.Resolution{Status: status},
		CreatedAt:      t0,
	}
}

func resolvedMsg(id string, by string, after time.Duration) *domain.Message {
	m := msg(id, "stripe", domain.StatusResolved)
	m.Resolution.ResolvedBy = by
	m.Resolution.ResolvedAt = domain.TimePtr(t0.Add(after))
	return m
}

func TestCompute(t *testing.T) {
	flagged := msg("m4", "zoom", domain.StatusPending)
	flagged.Classification.RequiresManualIntervention = true
	flagged.Classification.Category = domain.CategoryValidation

	msgs := []*domain.Message{
		resolvedMsg("m1", domain.ResolvedBySystem, 10*time.Minute),
		resolvedMsg("m2", domain.ResolvedByOperator, 30*time.Minute),
		msg("m3", "zoom", domain.StatusManual),
		flagged,
	}

	st := Compute(msgs, 2, t0)

	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.ByStatus[domain.StatusResolved])
	assert.Equal(t, 1, st.ByStatus[domain.StatusManual])
	assert.Equal(t, 2, st.ByProvider["stripe"])
	assert.Equal(t, 1, st.ByCategory[domain.CategoryValidation])
	assert.Equal(t, 4, st.ByOperationType[domain.OperationWebhook])
	assert.Equal(t, 20*time.Minute, st.AverageResolutionTime)
	assert.InDelta(t, 0.25, st.AutoRecoveryRate, 1e-9)
	assert.InDelta(t, 0.5, st.ManualInterventionRate, 1e-9)
	assert.Equal(t, 2, st.Skipped)
	assert.Equal(t, t0, st.ComputedAt)
}

func TestCompute_Empty(t *testing.T) {
	st := Compute(nil, 0, t0)
	assert.Zero(t, st.Total)
	assert.Zero(t, st.AutoRecoveryRate)
	assert.Zero(t, st.ManualInterventionRate)
	assert.Zero(t, st.AverageResolutionTime)
	assert.NotNil(t, st.ByStatus)
}

func newAlertEngine(cfg AlertConfig, counter *fakeCounter, c *clock) (*AlertEngine, *memory.AlertRepo) {
	sink := memory.NewAlertRepo(memory.NewMemoryStorage(), 100)
	return NewAlertEngine(cfg, counter, sink, c.Now), sink
}

func recent(t *testing.T, sink *memory.AlertRepo) []domain.Alert {
	t.Helper()
	alerts, err := sink.Recent(context.Background(), 0)
	require.NoError(t, err)
	return alerts
}

func TestAlertEngine_HighVolumeCrossingAndRearm(t *testing.T) {
	ctx := context.Background()
	counter := &fakeCounter{}
	c := &clock{now: t0}
	a, sink := newAlertEngine(AlertConfig{HighThreshold: 3, CriticalThreshold: 5}, counter, c)

	ingest := func(pending int) {
		counter.set(pending)
		a.Notify(ctx, domain.Event{EventType: domain.EventTypeIngested, Message: msg("m", "stripe", domain.StatusPending)})
	}

	ingest(2)
	assert.Empty(t, recent(t, sink))

	ingest(3)
	ingest(4)
	alerts := recent(t, sink)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertHighVolume, alerts[0].Type)
	assert.Equal(t, domain.SeverityHigh, alerts[0].Severity)

	ingest(5)
	ingest(6)
	alerts = recent(t, sink)
	require.Len(t, alerts, 2)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)

	// Falling below re-arms the high level
	ingest(1)
	ingest(3)
	alerts = recent(t, sink)
	require.Len(t, alerts, 3)
	assert.Equal(t, domain.SeverityHigh, alerts[0].Severity)
	assert.NotEmpty(t, alerts[0].ID)
	assert.Equal(t, t0, alerts[0].Timestamp)
}

func TestAlertEngine_ErrorSpike(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: t0}
	a, sink := newAlertEngine(AlertConfig{SpikeThreshold: 3, SpikeWindow: time.Minute}, &fakeCounter{}, c)

	ingest := func(provider string) {
		a.Notify(ctx, domain.Event{EventType: domain.EventTypeIngested, Message: msg("m", provider, domain.StatusPending)})
	}

	ingest("stripe")
	ingest("zoom")
	ingest("stripe")
	assert.Empty(t, recent(t, sink))

	ingest("stripe")
	ingest("stripe")
	alerts := recent(t, sink)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertErrorSpike, alerts[0].Type)
	assert.Equal(t, "stripe", alerts[0].Metadata["provider"])

	// Old arrivals leave the window
	c.Advance(2 * time.Minute)
	ingest("stripe")
	ingest("stripe")
	assert.Len(t, recent(t, sink), 1)
	ingest("stripe")
	assert.Len(t, recent(t, sink), 2)
}

func TestAlertEngine_ManualAndFault(t *testing.T) {
	ctx := context.Background()
	a, sink := newAlertEngine(AlertConfig{}, &fakeCounter{}, &clock{now: t0})

	m := msg("m1", "paypal", domain.StatusManual)
	m.Classification.Severity = domain.SeverityCritical
	a.Notify(ctx, domain.Event{EventType: domain.EventTypeManualIntervention, Message: m, Strategy: "network-retry"})
	a.Notify(ctx, domain.Event{EventType: domain.EventTypeFault, Message: m, Strategy: "network-retry", Err: errors.New("redis down")})
	a.Notify(ctx, domain.Event{EventType: domain.EventTypeRecovered, Message: m})

	alerts := recent(t, sink)
	require.Len(t, alerts, 2)
	assert.Equal(t, domain.AlertRecoveryFailure, alerts[0].Type)
	assert.Equal(t, "redis down", alerts[0].Metadata["error"])
	assert.Equal(t, domain.AlertManualIntervention, alerts[1].Type)
	assert.Equal(t, domain.SeverityCritical, alerts[1].Severity)
	assert.Equal(t, []string{"m1"}, alerts[1].MessageIDs)
}

func TestEvaluate(t *testing.T) {
	cfg := AlertConfig{HighThreshold: 10, CriticalThreshold: 20}
	stats := func(pending, manual, skipped int) domain.Stats {
		return domain.Stats{
			ByStatus: map[domain.Status]int{domain.StatusPending: pending, domain.StatusManual: manual},
			Skipped:  skipped,
		}
	}

	assert.Equal(t, StatusHealthy, Evaluate(stats(1, 0, 0), cfg).Status)
	assert.Equal(t, StatusDegraded, Evaluate(stats(1, 1, 0), cfg).Status)
	assert.Equal(t, StatusDegraded, Evaluate(stats(1, 0, 3), cfg).Status)
	assert.Equal(t, StatusDegraded, Evaluate(stats(10, 0, 0), cfg).Status)
	assert.Equal(t, StatusCritical, Evaluate(stats(25, 0, 0), cfg).Status)
}

type stubProvider struct {
	stats  domain.Stats
	alerts []domain.Alert
	err    error
	limit  int
}

func (p *stubProvider) GetStats(ctx context.Context) (domain.Stats, error) {
	return p.stats, p.err
}

func (p *stubProvider) GetAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	p.limit = limit
	return p.alerts, p.err
}

func TestServer(t *testing.T) {
	p := &stubProvider{
		stats: domain.Stats{
			Total:    30,
			ByStatus: map[domain.Status]int{domain.StatusPending: 30},
		},
		alerts: []domain.Alert{{ID: "a1", Type: domain.AlertHighVolume}},
	}
	srv := NewServer(p, AlertConfig{HighThreshold: 10, CriticalThreshold: 20}, 0)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusCritical, report.Status)
	assert.Equal(t, 30, report.Pending)

	rec = get("/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	var st domain.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 30, st.Total)

	rec = get("/alerts?limit=5")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, p.limit)
	var alerts []domain.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "a1", alerts[0].ID)

	assert.Equal(t, http.StatusBadRequest, get("/alerts?limit=x").Code)

	rec = get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deadletter_messages")

	p.stats.ByStatus[domain.StatusPending] = 0
	var redisErr error
	srv.AddCheck("redis", func(ctx context.Context) error { return redisErr })

	rec = get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	report = HealthReport{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, map[string]string{"redis": "ok"}, report.Checks)

	redisErr = errors.New("connection refused")
	rec = get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	report = HealthReport{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "connection refused", report.Checks["redis"])

	p.err = errors.New("store down")
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").Code)
	assert.Equal(t, http.StatusInternalServerError, get("/stats").Code)
}
