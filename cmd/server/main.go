/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the incentive compensation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment, then apply flags
  2. Configure structured logging
  3. Initialize SQLite store
  4. Build engine, token manager, metrics and handler
  5. Configure HTTP router
  6. Start the recompute scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  See config/config.go. JWT_SECRET must be set unless DEV_SCENARIOS=true.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the recompute scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/incentives.db"

  # Run with in-memory database, demo scenarios and JSON logs
  DEV_SCENARIOS=true LOG_FORMAT=json ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment variables
  - cmd/devtoken: Issue tokens for local testing
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/incentive-engine/api"
	"github.com/warp/incentive-engine/auth"
	"github.com/warp/incentive-engine/compensation"
	"github.com/warp/incentive-engine/config"
	"github.com/warp/incentive-engine/logging"
	"github.com/warp/incentive-engine/metrics"
	"github.com/warp/incentive-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Port = *port
	cfg.DBPath = *dbPath

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to initialize database", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}
	defer store.Close()

	m := metrics.New()
	engine := compensation.NewEngine(compensation.Deps{
		Store:    store,
		Logger:   logger,
		Observer: m,
	})
	tokens := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)

	// Initialize handler
	handler := api.NewHandler(engine, store, logger)
	handler.Tokens = tokens

	// Create router
	router := api.NewRouter(handler, api.RouterConfig{
		Tokens:         tokens,
		Limiter:        api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Metrics:        m,
		AllowedOrigins: cfg.CORSOrigins,
		DevScenarios:   cfg.DevScenarios,
		Logger:         logger,
	})

	scheduler := api.NewRecomputeScheduler(engine, store, logger)
	scheduler.CheckInterval = cfg.RecomputeInterval
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DBPath, "scenarios", cfg.DevScenarios)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return
	}

	logger.Info("server stopped")
}
