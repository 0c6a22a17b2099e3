package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/shipyard/internal/config"
	"github.com/hyperengineering/shipyard/internal/embedding"
	"github.com/hyperengineering/shipyard/internal/ingest"
	"github.com/hyperengineering/shipyard/internal/store"
	"github.com/hyperengineering/shipyard/internal/upstream"
)

// syncCmd runs one full sync cycle and exits. Useful for cron-style
// deployments and for backfilling from the command line.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle against the upstream API and exit",
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	embedder := embedding.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.Model)
	pipeline := embedding.NewPipeline(db, embedder, nil, store.TextHash,
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

	start := time.Now()
	if err := orchestrator.SyncAll(ctx, sources); err != nil {
		return err
	}
	slog.Info("sync completed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}
