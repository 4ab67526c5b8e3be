package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/rosterbuild/internal/config"
	"github.com/ShayCichocki/rosterbuild/internal/server"
)

var serveAddr string

// The ledger lives in memory; a long-running server drops old entries.
const (
	ledgerRetention  = 24 * time.Hour
	ledgerPurgeEvery = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the roster API over HTTP",
	Long: `Start the HTTP API.

Endpoints:
  POST /build-roster    build a roster under the configured deadline
  GET  /health          liveness
  GET  /models/health   model backend reachability
  GET  /runs            recent runs from the in-memory ledger
  GET  /cache/stats     memoizing cache counters

Editing the active config file retunes the cache TTL and run deadline
without a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	srv, err := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Deadline:        cfg.Pipeline.Deadline,
	}, server.Deps{
		Runner: a.envelope,
		Health: a.checker,
		Runs:   a.ledger,
		Cache:  a.cache,
	}, logger)
	if err != nil {
		return err
	}

	watchConfig(srv, a)
	go purgeLedger(ctx, a)

	logger.Info("serving",
		"addr", cfg.Server.Addr,
		"models", a.registry.Names(),
		"deadline", cfg.Pipeline.Deadline,
		"cache_ttl", cfg.Cache.DefaultTTL,
	)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// watchConfig retunes the live server on config edits. Only the deadline
// and cache TTL are hot; everything else needs a restart.
func watchConfig(srv *server.Server, a *app) {
	apply := func(next *config.Config, err error) {
		if err != nil {
			logger.Warn("config reload failed, keeping previous settings", "error", err)
			return
		}
		if err := next.Validate(); err != nil {
			logger.Warn("reloaded config is invalid, keeping previous settings", "error", err)
			return
		}
		srv.SetDeadline(next.Pipeline.Deadline)
		a.cache.SetDefaultTTL(next.Cache.DefaultTTL)
		logger.Info("config reloaded",
			"deadline", next.Pipeline.Deadline,
			"cache_ttl", next.Cache.DefaultTTL,
		)
	}

	var (
		path string
		err  error
	)
	if configPath != "" {
		path, err = configPath, config.WatchPath(configPath, apply)
	} else {
		path, err = config.Watch(apply)
	}
	switch {
	case errors.Is(err, config.ErrNoConfigFile):
		logger.Debug("no config file to watch")
	case err != nil:
		logger.Warn("config watch disabled", "error", err)
	default:
		logger.Info("watching config", "path", path)
	}
}

func purgeLedger(ctx context.Context, a *app) {
	ticker := time.NewTicker(ledgerPurgeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.ledger.PurgeOldRuns(ctx, ledgerRetention)
			if err != nil {
				logger.Warn("purge run ledger", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged old runs", "count", n)
			}
		}
	}
}
