// Package opshttp serves the operational endpoints for a running batch:
// health and readiness probes, Prometheus metrics, live batch status,
// breaker state, and runtime log controls. Operator surface only; there
// is no product API here.
package opshttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokenforge/pkg/extract/circuit"
	"tokenforge/pkg/logx"
	"tokenforge/pkg/status"
)

// StatusReader is the read side of a status backend. The Redis sink
// satisfies it; the memory sink in testkit does too.
type StatusReader interface {
	Get(ctx context.Context, taskID string) (*status.Update, error)
	BatchTasks(ctx context.Context, batchID string) ([]string, error)
}

// Server hosts the ops endpoints. Zero-value readiness is false so load
// balancers hold traffic until the pipeline reports ready.
type Server struct {
	addr     string
	logger   *logx.Logger
	statuses StatusReader
	breakers func() []circuit.Stats
	ready    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithStatusReader wires the live-status read side for /batches/{id}.
func WithStatusReader(r StatusReader) Option {
	return func(s *Server) { s.statuses = r }
}

// WithBreakerStats wires a breaker snapshot source for /breakers.
func WithBreakerStats(fn func() []circuit.Stats) Option {
	return func(s *Server) { s.breakers = fn }
}

// New creates an ops server listening on addr once started.
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		logger: logx.NewLogger("ops"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetReady flips the readiness probe. The run command marks ready once
// the coordinator and its collaborators are wired.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the routed handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/batches/{id}", s.handleBatch)
	r.Get("/breakers", s.handleBreakers)
	r.Get("/logs", s.handleLogs)
	r.Get("/loglevel", s.handleGetLogLevel)
	r.Put("/loglevel", s.handleSetLogLevel)

	return r
}

// Start runs the server until ctx is cancelled. Non-blocking; listen
// errors are logged, not returned, since the ops surface must never take
// the pipeline down with it.
func (s *Server) Start(ctx context.Context) {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("🚀 Ops server listening on %s", s.addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Ops server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		// Parent context is cancelled; shutdown needs a fresh one.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		//nolint:contextcheck // fresh context required after parent cancellation
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Ops server shutdown failed: %v", err)
		}
	}()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "not ready")
		return
	}
	fmt.Fprintln(w, "ready")
}

type taskStatusView struct {
	TaskID   string    `json:"task_id"`
	ImageRef string    `json:"image_ref,omitempty"`
	Stage    string    `json:"stage"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

type batchStatusView struct {
	BatchID string           `json:"batch_id"`
	Tasks   []taskStatusView `json:"tasks"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if s.statuses == nil {
		http.Error(w, "no status backend configured", http.StatusServiceUnavailable)
		return
	}

	batchID := chi.URLParam(r, "id")
	taskIDs, err := s.statuses.BatchTasks(r.Context(), batchID)
	if err != nil {
		s.logger.Error("Status lookup for batch %s failed: %v", batchID, err)
		http.Error(w, "status backend error", http.StatusInternalServerError)
		return
	}
	if len(taskIDs) == 0 {
		http.Error(w, "batch not found", http.StatusNotFound)
		return
	}
	sort.Strings(taskIDs)

	view := batchStatusView{BatchID: batchID, Tasks: make([]taskStatusView, 0, len(taskIDs))}
	for _, taskID := range taskIDs {
		update, err := s.statuses.Get(r.Context(), taskID)
		if errors.Is(err, status.ErrNotFound) {
			// Entry expired between the index read and this lookup.
			continue
		}
		if err != nil {
			s.logger.Error("Status lookup for task %s failed: %v", taskID, err)
			http.Error(w, "status backend error", http.StatusInternalServerError)
			return
		}
		view.Tasks = append(view.Tasks, taskStatusView{
			TaskID:   update.TaskID,
			ImageRef: update.ImageRef,
			Stage:    update.Stage,
			Detail:   update.Detail,
			At:       update.At,
		})
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	var stats []circuit.Stats
	if s.breakers != nil {
		stats = s.breakers()
	}
	if stats == nil {
		stats = []circuit.Stats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	component := r.URL.Query().Get("component")
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	writeJSON(w, http.StatusOK, logx.RecentEntries(component, since))
}

type logLevelView struct {
	Debug      bool     `json:"debug"`
	Components []string `json:"components,omitempty"`
}

func (s *Server) handleGetLogLevel(w http.ResponseWriter, _ *http.Request) {
	enabled, components := logx.DebugState()
	writeJSON(w, http.StatusOK, logLevelView{Debug: enabled, Components: components})
}

func (s *Server) handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req logLevelView
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	logx.SetDebug(req.Debug, req.Components...)
	s.logger.Info("Log level changed: debug=%v components=%v", req.Debug, req.Components)

	enabled, components := logx.DebugState()
	writeJSON(w, http.StatusOK, logLevelView{Debug: enabled, Components: components})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Warnf("Failed to encode ops response: %v", err)
	}
}
