package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/shipyard/internal/ingest"
)

// SyncRunner is implemented by ingest.Orchestrator.
type SyncRunner interface {
	SyncAll(ctx context.Context, sources []ingest.Source) error
}

// SyncScheduler kicks off a full sync cycle on a fixed interval. Cycles run
// inline, so a long cycle simply delays the next tick; checkpointed sources
// make overlapping cycles pointless anyway.
type SyncScheduler struct {
	runner   SyncRunner
	sources  []ingest.Source
	interval time.Duration
}

// NewSyncScheduler creates a scheduler for the given sources.
func NewSyncScheduler(runner SyncRunner, sources []ingest.Source, interval time.Duration) *SyncScheduler {
	return &SyncScheduler{runner: runner, sources: sources, interval: interval}
}

// Run starts the scheduler loop. The first cycle starts immediately.
// Blocks until ctx is cancelled.
func (s *SyncScheduler) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "sync-scheduler",
		"interval", s.interval.String(),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "sync-scheduler",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *SyncScheduler) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.runner.SyncAll(ctx, s.sources); err != nil {
		slog.Error("sync cycle finished with errors",
			"component", "worker",
			"worker", "sync-scheduler",
			"error", err,
		)
		return
	}
	slog.Info("sync cycle completed",
		"component", "worker",
		"worker", "sync-scheduler",
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
