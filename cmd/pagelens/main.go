// Package main wires together the capture service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/api"
	"github.com/pagelens/pagelens/internal/browser"
	"github.com/pagelens/pagelens/internal/cache"
	"github.com/pagelens/pagelens/internal/clock/system"
	"github.com/pagelens/pagelens/internal/config"
	"github.com/pagelens/pagelens/internal/id/uuid"
	"github.com/pagelens/pagelens/internal/logging"
	"github.com/pagelens/pagelens/internal/metrics"
	queueMemory "github.com/pagelens/pagelens/internal/queue/memory"
	queuePubSub "github.com/pagelens/pagelens/internal/queue/pubsub"
	"github.com/pagelens/pagelens/internal/snapshot"
	statusMemory "github.com/pagelens/pagelens/internal/status/memory"
	statusPostgres "github.com/pagelens/pagelens/internal/status/postgres"
	"github.com/pagelens/pagelens/internal/storage"
	"github.com/pagelens/pagelens/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	resultCache, err := cache.New(cfg.Cache.Dir, logger.Named("cache"))
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}

	clock := system.New()
	idGen := uuid.New()

	renderer := browser.New(browser.Config{
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: cfg.Browser.NavTimeout(),
		IdleTimeout:       cfg.Browser.IdleTimeout(),
		IdleCheckInterval: cfg.Browser.IdleCheckInterval(),
		Quality:           cfg.Browser.ScreenshotQuality,
		StagingDir:        resultCache.StagingDir(),
	}, clock, logger.Named("browser"))
	defer renderer.Stop()

	statusStore, closeStatus, err := newStatusStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init status store: %w", err)
	}
	defer closeStatus()

	broker, err := newBroker(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init broker: %w", err)
	}
	defer func() {
		if closeErr := broker.Close(); closeErr != nil {
			logger.Warn("broker close failed", zap.Error(closeErr))
		}
	}()

	archive, err := newArchive(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init archive: %w", err)
	}

	processor := worker.NewProcessor(resultCache, renderer, statusStore, archive, logger.Named("processor"))
	consumer := worker.NewConsumer(broker, processor, cfg.Consumer.Concurrency, logger.Named("consumer"))

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Run(ctx)
	}()

	apiServer := api.NewServer(statusStore, broker, resultCache, idGen, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}

	// In-flight jobs finish before the consumer returns.
	if err := <-consumerDone; err != nil {
		logger.Warn("consumer stopped with error", zap.Error(err))
	}
	return nil
}

func newStatusStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (snapshot.StatusStore, func(), error) {
	switch cfg.Status.Provider {
	case "memory":
		return statusMemory.New(logger.Named("status")), func() {}, nil
	case "postgres":
		store, err := statusPostgres.New(ctx, statusPostgres.Config{
			DSN:   cfg.Status.Postgres.DSN,
			Table: cfg.Status.Postgres.Table,
		}, logger.Named("status"))
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown status provider: %s", cfg.Status.Provider)
	}
}

func newBroker(ctx context.Context, cfg config.Config, logger *zap.Logger) (snapshot.Broker, error) {
	switch cfg.Queue.Provider {
	case "memory":
		return queueMemory.New(cfg.Queue.Depth, logger.Named("queue")), nil
	case "pubsub":
		return queuePubSub.New(ctx, queuePubSub.Config{
			ProjectID:      cfg.Queue.PubSub.ProjectID,
			TopicID:        cfg.Queue.PubSub.TopicID,
			SubscriptionID: cfg.Queue.PubSub.SubscriptionID,
		}, logger.Named("queue"))
	default:
		return nil, fmt.Errorf("unknown queue provider: %s", cfg.Queue.Provider)
	}
}

func newArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Provider, error) {
	switch cfg.Archive.Provider {
	case "noop":
		return &storage.NoOpProvider{}, nil
	case "gcs":
		return storage.NewGCSProvider(ctx, cfg.Archive.GCS.Bucket, logger.Named("archive"))
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", cfg.Archive.Provider)
	}
}
