package worker

import (
	"context"
	"log/slog"
	"time"
)

// IndexRebuilder is implemented by vectorindex.Manager.
type IndexRebuilder interface {
	RebuildDue(ctx context.Context)
}

// IndexRefreshWorker periodically asks the index manager to rebuild any
// kind whose accumulated writes or age crossed the configured thresholds.
// The poll interval only bounds how quickly a threshold crossing is
// noticed; the rebuild cadence itself lives in the manager.
type IndexRefreshWorker struct {
	manager  IndexRebuilder
	interval time.Duration
}

// NewIndexRefreshWorker creates an index refresh worker.
func NewIndexRefreshWorker(manager IndexRebuilder, interval time.Duration) *IndexRefreshWorker {
	return &IndexRefreshWorker{manager: manager, interval: interval}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *IndexRefreshWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "index-refresh",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "index-refresh",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.manager.RebuildDue(ctx)
		}
	}
}
