package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/deadletter/internal/core/domain"
)

const defaultAlertLimit = 20

// StatsProvider exposes the read side of the engine.
type StatsProvider interface {
	GetStats(ctx context.Context) (domain.Stats, error)
	GetAlerts(ctx context.Context, limit int) ([]domain.Alert, error)
}

// Check probes one backing dependency.
type Check func(ctx context.Context) error

type namedCheck struct {
	name string
	fn   Check
}

// Server provides HTTP endpoints for health, metrics, stats and alerts.
type Server struct {
	provider StatsProvider
	cfg      AlertConfig
	checks   []namedCheck
	server   *http.Server
}

// NewServer creates a new ops server.
func NewServer(provider StatsProvider, cfg AlertConfig, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		provider: provider,
		cfg:      cfg,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// AddCheck registers a dependency check run by /health. A failing check makes
// the service critical. Call before Start.
func (s *Server) AddCheck(name string, fn Check) {
	s.checks = append(s.checks, namedCheck{name: name, fn: fn})
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.provider.GetStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": string(StatusCritical),
			"error":  err.Error(),
		})
		return
	}
	RecordStats(st)

	report := Evaluate(st, s.cfg)
	for _, c := range s.checks {
		if report.Checks == nil {
			report.Checks = make(map[string]string, len(s.checks))
		}
		if err := c.fn(r.Context()); err != nil {
			report.Checks[c.name] = err.Error()
			report.Status = StatusCritical
			continue
		}
		report.Checks[c.name] = "ok"
	}
	code := http.StatusOK
	if report.Status == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.provider.GetStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	RecordStats(st)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	alerts, err := s.provider.GetAlerts(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}
