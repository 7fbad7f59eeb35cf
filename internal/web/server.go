// Package web serves the local status API: the model artifact, skill
// invocation, and a WebSocket stream of operational events.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nugget/jarvis-core/internal/buildinfo"
	"github.com/nugget/jarvis-core/internal/events"
	"github.com/nugget/jarvis-core/internal/ledger"
	"github.com/nugget/jarvis-core/internal/resource"
	"github.com/nugget/jarvis-core/internal/skills"
)

// ModelService is the resolver as seen by the server.
type ModelService interface {
	Status(settings resource.Settings, env resource.Env) resource.Artifact
	GetOrAcquire(ctx context.Context, settings resource.Settings, env resource.Env) resource.Artifact
	ModelDir(env resource.Env) string
}

// Config wires a [Server]. Skills, Ledger and Bus are optional; the
// routes that need them answer 503 without.
type Config struct {
	Address string
	Port    int

	Model ModelService
	// Settings is called per request so that edits to the settings file
	// are picked up without a restart.
	Settings func() resource.Settings
	Env      resource.Env

	Skills *skills.Registry
	Ledger *ledger.Ledger
	Bus    *events.Bus
	Logger *slog.Logger
}

// Server is the HTTP status server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server

	// base outlives individual requests; background acquisitions use it.
	base      context.Context
	acquiring atomic.Bool
}

// NewServer creates a server. It does not listen until [Server.Start].
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Settings == nil {
		cfg.Settings = func() resource.Settings { return resource.MapSettings{} }
	}
	if cfg.Env == nil {
		cfg.Env = resource.MapEnv{}
	}
	return &Server{cfg: cfg, logger: logger, base: context.Background()}
}

// Handler returns the routed handler, wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleDashboard)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/model", s.handleModel)
	mux.HandleFunc("POST /v1/model/acquire", s.handleAcquire)
	mux.HandleFunc("GET /v1/model/acquisitions", s.handleAcquisitions)
	mux.HandleFunc("GET /v1/skills", s.handleSkillList)
	mux.HandleFunc("POST /v1/skills/{name}", s.handleSkillCall)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	return s.withLogging(mux)
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.base = ctx
	addr := s.cfg.Address
	if addr == "" {
		addr = "127.0.0.1"
	}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(addr, strconv.Itoa(s.cfg.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("starting status server", "address", addr, "port", s.cfg.Port)

	errc := make(chan error, 1)
	go func() { errc <- s.server.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"code":    code,
		},
	}, s.logger)
}

// handleHealth reports liveness along with build and uptime details.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	info := buildinfo.Info()
	info["status"] = "healthy"
	writeJSON(w, http.StatusOK, info, s.logger)
}
