package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/collectops/ledgersync/internal/httpapi"
	"github.com/collectops/ledgersync/internal/ledger"
)

func main() {
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	addr := os.Getenv("LEDGERSYNC_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	stateFile := strings.TrimSpace(os.Getenv("LEDGERSYNC_STATE_FILE"))
	if stateFile == "" {
		stateFile = ".ledgersync/state.json"
	}

	store, err := ledger.OpenStore(stateFile, logger)
	if err != nil {
		logger.Fatalf("failed to open local store: %v", err)
	}
	bus := ledger.NewBus()

	remote, err := ledger.BuildRemoteStoreFromDSN(os.Getenv("LEDGERSYNC_REMOTE_DSN"), logger)
	if err != nil {
		logger.Fatalf("failed to initialize remote store: %v", err)
	}
	if remote == nil {
		logger.Printf("no remote DSN configured, running local-only")
	}

	metrics := httpapi.NewMetrics(nil)
	outbox := ledger.NewOutbox(ledger.OutboxOptions{
		Remote:       remote,
		Logger:       logger,
		Notifier:     metrics,
		MaxAttempts:  intEnv(logger, "LEDGERSYNC_OUTBOX_MAX_ATTEMPTS", 0),
		RetryDelay:   durationEnv(logger, "LEDGERSYNC_OUTBOX_RETRY_DELAY", 0),
		QueueSize:    intEnv(logger, "LEDGERSYNC_OUTBOX_QUEUE_SIZE", 0),
		WriteTimeout: durationEnv(logger, "LEDGERSYNC_OUTBOX_WRITE_TIMEOUT", 0),
	})
	defer outbox.Close()

	repos := ledger.NewRepositories(ledger.Deps{
		Store:  store,
		Bus:    bus,
		Outbox: outbox,
		Logger: logger,
	})

	guard, err := ledger.NewSchemaGuard(logger)
	if err != nil {
		logger.Fatalf("failed to compile document schemas: %v", err)
	}

	syncManager := ledger.NewSyncManager(ledger.SyncOptions{
		Store:   store,
		Bus:     bus,
		Remote:  remote,
		Logger:  logger,
		Guard:   guard,
		OnMerge: metrics.SnapshotMerged,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	syncManager.Start(ctx)

	if boolEnv(logger, "LEDGERSYNC_WATCH_STATE_FILE", false) {
		watcher, err := ledger.NewStoreWatcher(store, bus, logger)
		if err != nil {
			logger.Fatalf("failed to watch state file: %v", err)
		}
		defer watcher.Close()
	}

	server := httpapi.NewServer(httpapi.ServerOptions{
		Repos:   repos,
		Store:   store,
		Bus:     bus,
		Outbox:  outbox,
		Sync:    syncManager,
		Remote:  remote,
		Metrics: metrics,
		Logger:  logger,
	})

	httpServer := &http.Server{Addr: addr, Handler: server}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Printf("ledgersyncd listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server failed: %v", err)
	}
	if remote != nil {
		_ = remote.Close()
	}
}

func intEnv(logger ledger.Logger, name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logger.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(logger ledger.Logger, name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logger.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func boolEnv(logger ledger.Logger, name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Printf("invalid %s=%q, using fallback %v", name, raw, fallback)
		return fallback
	}
	return value
}
