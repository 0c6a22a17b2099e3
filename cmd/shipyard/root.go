package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/shipyard/internal/api"
	"github.com/hyperengineering/shipyard/internal/config"
	"github.com/hyperengineering/shipyard/internal/embedding"
	"github.com/hyperengineering/shipyard/internal/ingest"
	"github.com/hyperengineering/shipyard/internal/store"
	"github.com/hyperengineering/shipyard/internal/upstream"
	"github.com/hyperengineering/shipyard/internal/vectorindex"
	"github.com/hyperengineering/shipyard/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "shipyard",
	Short: "Shipyard - Activity Sync and Search Service",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "level", cfg.Log.Level)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	embedder := embedding.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.Model)
	slog.Info("embedder initialized", "model", cfg.Embedding.Model)

	index := vectorindex.NewManager(db,
		cfg.Index.RebuildThreshold,
		time.Duration(cfg.Index.RebuildInterval))
	if err := index.RebuildAll(ctx); err != nil {
		// Search serves empty results for unbuilt kinds until the refresh
		// worker catches up; not fatal.
		slog.Warn("initial index build incomplete", "error", err)
	}

	pipeline := embedding.NewPipeline(db, embedder, index, store.TextHash,
		time.Duration(cfg.Embedding.Timeout))

	fetcher := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Token,
		time.Duration(cfg.Sync.FetchTimeout))

	orchestrator := ingest.NewOrchestrator(db, fetcher, pipeline, ingest.Config{
		FetchTimeout: time.Duration(cfg.Sync.FetchTimeout),
		MaxAttempts:  cfg.Sync.MaxAttempts,
		BackoffBase:  time.Duration(cfg.Sync.BackoffBase),
	})

	sources, err := parseSources(cfg.Sync.Sources)
	if err != nil {
		return err
	}

	scheduler := worker.NewSyncScheduler(orchestrator, sources,
		time.Duration(cfg.Sync.Interval))
	retryWorker := worker.NewEmbeddingRetryWorker(db, embedder, index, store.TextHash,
		time.Duration(cfg.Worker.EmbeddingRetryInterval),
		cfg.Worker.EmbeddingRetryMaxAttempts,
		cfg.Worker.EmbeddingRetryBatchSize)
	refreshWorker := worker.NewIndexRefreshWorker(index,
		time.Duration(cfg.Index.PollInterval))

	var wg sync.WaitGroup
	startWorker(ctx, &wg, "sync-scheduler", scheduler.Run)
	startWorker(ctx, &wg, "embedding-retry", retryWorker.Run)
	startWorker(ctx, &wg, "index-refresh", refreshWorker.Run)

	handler := api.NewHandler(db, embedder, index, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully. Anything else is a real failure.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseSources validates the configured source names.
func parseSources(names []string) ([]ingest.Source, error) {
	valid := make(map[ingest.Source]bool, len(ingest.AllSources))
	for _, s := range ingest.AllSources {
		valid[s] = true
	}

	sources := make([]ingest.Source, 0, len(names))
	for _, name := range names {
		s := ingest.Source(name)
		if !valid[s] {
			return nil, fmt.Errorf("unknown sync source %q", name)
		}
		sources = append(sources, s)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sync sources configured")
	}
	return sources, nil
}

// startWorker launches a background worker goroutine that respects context
// cancellation. Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
