package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/config"
	"github.com/JakeFAU/scrape-queue/internal/dispatcher"
	"github.com/JakeFAU/scrape-queue/internal/job"
	"github.com/JakeFAU/scrape-queue/internal/metrics"
	"github.com/JakeFAU/scrape-queue/internal/progress"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 30 * time.Second
)

// Engine is the scheduler surface the API drives.
type Engine interface {
	Enqueue(refs []string) []job.Job
	Start(ctx context.Context) error
	Stop()
	Clear()
	SetConcurrency(n int) int
	Snapshot() job.Snapshot
}

// Broadcaster hands out progress subscriptions.
type Broadcaster interface {
	Subscribe(ctx context.Context, source progress.SnapshotSource) (*progress.Subscription, error)
}

// Server wires HTTP handlers to the engine and the progress hub.
type Server struct {
	router   chi.Router
	engine   Engine
	hub      Broadcaster
	metrics  *metrics.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
	ready    atomic.Bool
}

// NewServer constructs a Server with middleware and routes. m may be nil,
// in which case /metrics is not served.
func NewServer(engine Engine, hub Broadcaster, m *metrics.Metrics, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:  engine,
		hub:     hub,
		metrics: m,
		logger:  logger.Named("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
	s.ready.Store(true)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	if m != nil {
		r.Use(m.Middleware)
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Post("/jobs", s.submitJobs)
			r.Route("/queue", func(r chi.Router) {
				r.Get("/", s.getQueue)
				r.Post("/start", s.startQueue)
				r.Post("/stop", s.stopQueue)
				r.Post("/clear", s.clearQueue)
				r.Put("/concurrency", s.setConcurrency)
			})
		})
		r.Get("/events", s.streamWebsocket)
		r.Get("/events/stream", s.streamSSE)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReady flips the readiness check; shutdown marks the server unready first.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	URLs []string `json:"urls"`
}

type submitResponse struct {
	Accepted []job.Job `json:"accepted"`
}

func (s *Server) submitJobs(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	accepted := s.engine.Enqueue(req.URLs)
	if accepted == nil {
		accepted = []job.Job{}
	}
	if s.metrics != nil {
		s.metrics.ObserveSubmission(len(req.URLs), len(accepted))
	}
	s.logger.Debug("references submitted",
		zap.Int("submitted", len(req.URLs)),
		zap.Int("accepted", len(accepted)),
	)
	writeJSON(w, http.StatusAccepted, submitResponse{Accepted: accepted})
}

func (s *Server) getQueue(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Snapshot()
	snap.Pending = nonNil(snap.Pending)
	snap.Running = nonNil(snap.Running)
	snap.Completed = nonNil(snap.Completed)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) startQueue(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Start(r.Context())
	switch {
	case errors.Is(err, dispatcher.ErrAlreadyProcessing), errors.Is(err, dispatcher.ErrEmptyQueue):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispatcher.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.logger.Error("start failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "start failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "processing"})
	}
}

func (s *Server) stopQueue(w http.ResponseWriter, _ *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
}

func (s *Server) clearQueue(w http.ResponseWriter, _ *http.Request) {
	s.engine.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type concurrencyRequest struct {
	Concurrency *int `json:"concurrency"`
}

func (s *Server) setConcurrency(w http.ResponseWriter, r *http.Request) {
	var req concurrencyRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Concurrency == nil {
		writeError(w, http.StatusBadRequest, "concurrency required")
		return
	}
	applied := s.engine.SetConcurrency(*req.Concurrency)
	writeJSON(w, http.StatusOK, map[string]int{"concurrency": applied})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
