// Package server exposes the roster pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/ShayCichocki/rosterbuild/internal/cache"
	"github.com/ShayCichocki/rosterbuild/internal/health"
	"github.com/ShayCichocki/rosterbuild/internal/state"
	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

// AgentType is reported with every built roster.
const AgentType = "wnba_team_builder"

// GzipMinSize is the smallest response body that gets compressed.
const GzipMinSize = 1000

// Runner executes one pipeline run. *pipeline.Envelope implements it.
type Runner interface {
	Run(ctx context.Context, req models.Request, deadline time.Duration) models.Outcome
}

// HealthChecker reports provider reachability.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// RunLister reads the run ledger.
type RunLister interface {
	GetRun(ctx context.Context, id string) (*state.Run, error)
	ListRuns(ctx context.Context, limit int) ([]state.Run, error)
	RunStats(ctx context.Context) (*state.Stats, error)
}

// CacheStats reports memoizing cache counters.
type CacheStats interface {
	Stats() cache.Stats
}

// Config configures the HTTP server.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	// Deadline bounds each /build-roster run. It can be changed later with SetDeadline.
	Deadline time.Duration
}

// Deps are the collaborators the handlers call. Runner is required.
type Deps struct {
	Runner Runner
	Health HealthChecker
	Runs   RunLister
	Cache  CacheStats
}

// Server serves the HTTP API.
type Server struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	deadline atomic.Int64
	now      func() time.Time
}

// New creates a Server. A nil logger discards output.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Runner == nil {
		return nil, errors.New("server: runner is required")
	}
	if cfg.Addr == "" {
		return nil, errors.New("server: addr is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger, now: time.Now}
	s.SetDeadline(cfg.Deadline)
	return s, nil
}

// SetDeadline changes the per-run deadline for subsequent requests.
func (s *Server) SetDeadline(d time.Duration) {
	s.deadline.Store(int64(d))
}

// Deadline returns the current per-run deadline.
func (s *Server) Deadline() time.Duration {
	return time.Duration(s.deadline.Load())
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /build-roster", s.handleBuildRoster)
	mux.HandleFunc("GET /models/health", s.handleModelsHealth)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/stats", s.handleRunStats)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /cache/stats", s.handleCacheStats)

	gz, err := gzhttp.NewWrapper(gzhttp.MinSize(GzipMinSize))
	if err != nil {
		return nil, fmt.Errorf("gzip wrapper: %w", err)
	}

	var h http.Handler = mux
	h = recoverMiddleware(s.logger, h)
	h = requestLogMiddleware(s.logger, h)
	h = requestIDMiddleware(h)
	h = corsMiddleware(s.cfg.AllowedOrigins, h)
	return gz(h), nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	handler, err := s.Handler()
	if err != nil {
		ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		s.logger.Info("http server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
