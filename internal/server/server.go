package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hazz-dev/pingmon/internal/event"
	"github.com/hazz-dev/pingmon/internal/registry"
	"github.com/hazz-dev/pingmon/internal/scheduler"
	"github.com/hazz-dev/pingmon/internal/storage"
)

// Monitor is the registration and snapshot surface the server exposes.
type Monitor interface {
	Register(t registry.Target) error
	Deregister(id string)
	Reconfigure(id string, u registry.Update) (registry.Target, error)
	Get(id string) (registry.Record, bool)
	Snapshot() []registry.Record
}

// HistoryStore defines the storage queries the server needs.
type HistoryStore interface {
	History(ctx context.Context, target string, limit, offset int) ([]storage.Probe, int, error)
	Transitions(ctx context.Context, target string, limit int) ([]storage.Transition, error)
	UptimePercent(ctx context.Context, target string, last int) (float64, error)
}

// EventSource hands out event stream subscriptions.
type EventSource interface {
	Subscribe() *event.Subscription
}

// Server holds the chi router and its dependencies.
type Server struct {
	monitor Monitor
	store   HistoryStore
	events  EventSource
	origins []string
	router  chi.Router
	logger  *slog.Logger
}

// New creates a new Server and registers all routes. store and events may be
// nil, in which case the history and event endpoints answer 503.
func New(monitor Monitor, store HistoryStore, events EventSource, corsOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		monitor: monitor,
		store:   store,
		events:  events,
		origins: corsOrigins,
		router:  chi.NewRouter(),
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/events", s.handleEvents)
	r.Route("/api/targets", func(r chi.Router) {
		r.Get("/", s.handleListTargets)
		r.Post("/", s.handleCreateTarget)
		r.Get("/{id}", s.handleGetTarget)
		r.Put("/{id}", s.handleUpdateTarget)
		r.Delete("/{id}", s.handleDeleteTarget)
		r.Get("/{id}/history", s.handleTargetHistory)
		r.Get("/{id}/transitions", s.handleTargetTransitions)
	})
}

// --- Response helpers ---

type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg, Code: code})
}

// writeRegistryError maps registry and scheduler errors to a status and code.
func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	code := registry.Code(err)
	switch {
	case errors.Is(err, registry.ErrDuplicateID):
		writeError(w, http.StatusConflict, code, err.Error())
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, code, err.Error())
	case errors.Is(err, registry.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, code, err.Error())
	case errors.Is(err, scheduler.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "STOPPED", err.Error())
	default:
		s.logger.Error("registry operation", "error", err)
		writeError(w, http.StatusInternalServerError, code, "internal error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "targets": len(s.monitor.Snapshot())})
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// Hijack passes the connection through for websocket upgrades.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
