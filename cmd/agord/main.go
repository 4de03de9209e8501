// Package main is the entry point for agord, the local coordination daemon
// that owns the entity store, the Task Scheduler (C4), the Permission
// Arbiter, the Terminal Service (C8) and the RPC surface CLIs and executors
// talk to (spec.md §1, §4).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/agor/agor/internal/common/config"
	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/internal/db"
	"github.com/agor/agor/internal/eventbus"
	"github.com/agor/agor/internal/permission"
	"github.com/agor/agor/internal/rpc"
	"github.com/agor/agor/internal/scheduler"
	"github.com/agor/agor/internal/service"
	"github.com/agor/agor/internal/store"
	"github.com/agor/agor/internal/terminal"
)

func main() {
	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agord: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logging.
	log, err := logger.NewLogger(logger.LoggingConfig(cfg.Logging))
	if err != nil {
		fmt.Fprintf(os.Stderr, "agord: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Open the entity-store database pool.
	pool, err := openPool(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer func() { _ = pool.Close() }()

	// 4. Construct the event bus (NATS if configured, else in-memory).
	bus, err := eventbus.New(cfg.NATS, log)
	if err != nil {
		log.Fatal("Failed to construct event bus", zap.Error(err))
	}

	// 5. Open the entity store.
	st, err := store.New(pool, cfg.Database.Driver, bus, log)
	if err != nil {
		log.Fatal("Failed to construct store", zap.Error(err))
	}

	// 6. Wire the Permission Arbiter, token signer, Task Scheduler and
	// Terminal Service on top of the store.
	arbiter := permission.New(st, log, cfg.Executor.PermissionTimeout())
	signer := service.NewTokenSigner(cfg.Auth)
	daemonURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	sched := scheduler.New(st, signer, cfg.Executor, daemonURL, log)
	term := terminal.New(bus, cfg.Terminal, log)

	// 7. Build the orchestration-facing Service used by every RPC handler.
	svc := service.New(st, sched, arbiter, signer, log)

	// 8. Reconcile Sessions/Tasks left "running" by a prior process before
	// accepting any new work (spec.md §4.4, crash-recovery on startup).
	if err := sched.ReconcileOnStartup(ctx); err != nil {
		log.Fatal("Failed to reconcile scheduler state on startup", zap.Error(err))
	}
	log.Info("Startup reconciliation complete")

	// 9. Build the RPC surface.
	rpcServer := rpc.NewServer(rpc.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}, rpc.Deps{
		Service:  svc,
		Signer:   signer,
		EventBus: bus,
		Arbiter:  arbiter,
		Terminal: term,
		Logger:   log,
	})

	// 10. Create the HTTP server.
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      rpcServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 11. Start serving in a goroutine.
	go func() {
		log.Info("agord listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 12. Wait for a shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agord...")

	// 13. Graceful shutdown: stop accepting new connections, cancel
	// background work, then close the store and event bus.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := st.Close(); err != nil {
		log.Error("Store close error", zap.Error(err))
	}
	if err := bus.Close(); err != nil {
		log.Error("Event bus close error", zap.Error(err))
	}

	log.Info("agord stopped")
}

// openPool opens the writer/reader *sql.DB pair for the configured driver
// and wraps them in a *db.Pool. Postgres has no separate reader DSN yet, so
// both sides of the pool share one connection pool; sqlite opens its
// dedicated read-only connection per internal/db/sqlite.go.
func openPool(cfg config.DatabaseConfig) (*db.Pool, error) {
	switch cfg.Driver {
	case "sqlite":
		writer, err := db.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite writer: %w", err)
		}
		reader, err := db.OpenSQLiteReader(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite reader: %w", err)
		}
		return db.NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3")), nil

	case "postgresql", "postgres":
		sqlDB, err := db.OpenPostgres(cfg.URL, cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		sqlxDB := sqlx.NewDb(sqlDB, "pgx")
		return db.NewPool(sqlxDB, sqlxDB), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
