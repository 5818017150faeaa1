// Package main provides the MCP server entry point for documentation search.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bull/docsearch-mcp/internal/app"
	"github.com/bull/docsearch-mcp/internal/auth"
	"github.com/bull/docsearch-mcp/internal/config"
	mcpserver "github.com/bull/docsearch-mcp/internal/mcp"
	"github.com/bull/docsearch-mcp/internal/scheduler"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Syncs left RUNNING by a crashed process would block their version forever.
	if _, err := a.Syncer.RecoverStale(ctx, cfg.Sync.StaleAfter); err != nil {
		logger.Warn("Failed to recover stale syncs", "error", err)
	}

	server := mcpserver.NewServer(&mcpserver.Config{
		Store:      a.Store,
		Searcher:   a.Engine,
		StaleAfter: cfg.Sync.StaleAfter,
		Version:    version,
		Logger:     logger,
	})

	var gate *auth.Gate
	if cfg.Auth.Enabled {
		gate, err = auth.NewGate(a.Store, auth.Options{
			BcryptCost:       cfg.Auth.BcryptCost,
			DefaultRateLimit: cfg.Auth.DefaultRateLimit,
			LimiterCacheSize: cfg.Auth.LimiterCacheSize,
			TouchTimeout:     cfg.Auth.TouchTimeout,
			Logger:           logger,
		})
		if err != nil {
			return err
		}
		defer gate.Wait()
	} else {
		logger.Warn("API key authentication is disabled")
	}

	routerOpts := mcpserver.RouterOptions{
		Server:         server,
		API:            mcpserver.NewAPI(a.Store, a.Engine, logger),
		Store:          a.Store,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	}
	if gate != nil {
		routerOpts.Auth = gate
	}
	if hc, ok := a.Index.(mcpserver.HealthChecker); ok {
		routerOpts.Vector = hc
	}
	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           mcpserver.NewRouter(routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched, err := scheduler.New(a.Store, a.Syncer, scheduler.Options{
		Spec:    cfg.Scheduler.Spec,
		Enabled: config.SchedulerEnabled,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", httpServer.Addr, "mcp", "/mcp", "api", "/api/v1", "health", "/health")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			serveErr <- err
		}
		close(serveErr)
	}()

	if cfg.Server.ServerMode {
		select {
		case <-ctx.Done():
		case err := <-serveErr:
			if err != nil {
				return err
			}
		}
	} else {
		// Stdio mode: run MCP over stdin/stdout for local clients while the
		// HTTP server keeps serving health checks and the REST API.
		logger.Info("Starting documentation MCP server (stdio mode)")
		if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("stdio server error", "error", err)
		}
	}

	logger.Info("Shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return httpServer.Shutdown(shutdownCtx)
}
