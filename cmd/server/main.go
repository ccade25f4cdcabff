/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the achievement service.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the SQLite store (runs migrations)
  4. Optionally connect the Redis ledger
  5. Seed the achievement catalog (insert-only)
  6. Wire engine, realtime hub, tracker and API handler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: 8080)
  -db       SQLite database path (default: achievements.db)
            Use ":memory:" for in-memory database
  -catalog  Achievement catalog JSON (default: embedded catalog)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Close Redis and database connections
  4. Exit

EXAMPLES:
  # Run with file database
  JWT_SECRET=dev ./server -db="./data/achievements.db"

  # Run with in-memory database and the Redis ledger
  JWT_SECRET=dev LEDGER_BACKEND=redis ./server -db=":memory:"

SEE ALSO:
  - config/config.go: all settings
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/gtcompanion/achievement-engine/achievement"
	"github.com/gtcompanion/achievement-engine/api"
	"github.com/gtcompanion/achievement-engine/catalog"
	"github.com/gtcompanion/achievement-engine/config"
	"github.com/gtcompanion/achievement-engine/progress"
	"github.com/gtcompanion/achievement-engine/realtime"
	"github.com/gtcompanion/achievement-engine/store/redis"
	"github.com/gtcompanion/achievement-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	var ledger achievement.LedgerStore = store
	if cfg.LedgerBackend == config.LedgerRedis {
		rl, err := redis.New(redisConfig(cfg.Redis))
		if err != nil {
			return err
		}
		defer rl.Close()
		ledger = rl
		log.Info("using redis ledger", zap.String("addr", cfg.Redis.Addr))
	}

	// Seed catalog
	defs, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	inserted, err := catalog.Seed(ctx, store, defs)
	if err != nil {
		return err
	}
	log.Info("achievement catalog seeded",
		zap.Int("definitions", len(defs)),
		zap.Int("inserted", inserted))

	// Wire domain
	engine := achievement.NewEngine(store, ledger, store, log.Named("achievement"))
	hub := realtime.NewHub(log.Named("realtime"))
	streamer := realtime.NewStreamer(hub, log.Named("realtime"), allowOrigins(cfg.CORSOrigins))
	tracker := progress.NewTracker(store, engine, hub, log.Named("progress"))

	auth := api.NewAuthenticator([]byte(cfg.JWTSecret), log.Named("auth"))
	handler := api.NewHandler(engine, tracker, streamer, log.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		Auth:           auth,
		AllowedOrigins: cfg.CORSOrigins,
		Log:            log.Named("http"),
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

// redisConfig maps the Redis settings onto the ledger's connection config.
func redisConfig(c config.RedisConfig) redis.Config {
	return redis.Config{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		KeyPrefix:    c.KeyPrefix,
	}
}

// allowOrigins restricts websocket upgrades to the CORS origins.
// Requests without an Origin header (non-browser clients) are allowed.
func allowOrigins(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin] || allowed["*"]
	}
}
