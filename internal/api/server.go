package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitepdf/internal/logging"
	"github.com/JakeFAU/sitepdf/internal/pipeline"
	"github.com/JakeFAU/sitepdf/internal/progress"
)

// DefaultMaxBodyBytes bounds JSON request bodies.
const DefaultMaxBodyBytes int64 = 50 << 20

// Runner executes conversion jobs.
type Runner interface {
	Run(ctx context.Context, job pipeline.Job, sink progress.Sink) (pipeline.Result, error)
}

// Artifacts serves and removes generated PDFs.
type Artifacts interface {
	ServeInline(art pipeline.Artifact, serve func(data []byte) error) error
	Open(name string) (*os.File, os.FileInfo, error)
	CleanupAll(ctx context.Context) (int, error)
}

// Connections is the slice of the connection registry the handlers need.
type Connections interface {
	progress.Sender
	Count() int
}

// Metrics is the optional instrumentation surface.
type Metrics interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
	ObserveCleanup(deleted int)
}

// Defaults are the crawl parameters applied when a request omits them.
type Defaults struct {
	MaxDepth int
	MaxPages int
	Delay    time.Duration
}

// Config tunes the server.
type Config struct {
	MaxBodyBytes int64
	Defaults     Defaults
}

// Deps collects the server's collaborators. Runner, Artifacts, and
// Connections are required.
type Deps struct {
	Runner      Runner
	Artifacts   Artifacts
	Connections Connections
	// Events receives every job event in addition to the bound connection.
	Events    progress.Sink
	Metrics   Metrics
	WebSocket http.Handler
	Now       func() time.Time
}

// Server wires HTTP handlers to the pipeline and artifact store.
type Server struct {
	router  chi.Router
	runner  Runner
	store   Artifacts
	conns   Connections
	events  progress.Sink
	metrics Metrics
	ws      http.Handler
	cfg     Config
	started time.Time
	now     func() time.Time
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Runner == nil || deps.Artifacts == nil || deps.Connections == nil {
		return nil, errors.New("api: runner, artifacts, and connections are required")
	}
	logger = logging.OrNop(logger)
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Defaults.MaxDepth <= 0 {
		cfg.Defaults.MaxDepth = 2
	}
	if cfg.Defaults.MaxPages <= 0 {
		cfg.Defaults.MaxPages = 50
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{
		runner:  deps.Runner,
		store:   deps.Artifacts,
		conns:   deps.Connections,
		events:  deps.Events,
		metrics: deps.Metrics,
		ws:      deps.WebSocket,
		cfg:     cfg,
		started: now(),
		now:     now,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(accessLog(logger))
	r.Use(recoverer(logger))
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(limitBody(cfg.MaxBodyBytes))

	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	if s.ws != nil {
		r.Method(http.MethodGet, "/ws", s.ws)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/convert-page", s.convertPage)
		r.Post("/debug-convert", s.debugConvert)
		r.Post("/crawl", s.crawl)
		r.Get("/download/{filename}", s.download)
		r.Get("/status", s.status)
		r.Delete("/cleanup", s.cleanup)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// root accepts WebSocket clients that connect to the server root.
func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	if s.ws != nil && websocket.IsWebSocketUpgrade(r) {
		s.ws.ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": "sitepdf", "status": "running"})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sinkFor binds a job's events to the client's connection and the shared hub.
func (s *Server) sinkFor(clientID string) progress.Sink {
	sinks := progress.Tee{progress.NewConnectionSink(s.conns, clientID)}
	if s.events != nil {
		sinks = append(sinks, s.events)
	}
	return sinks
}

// statusFor maps pipeline failure kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
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
