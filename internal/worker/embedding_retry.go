package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/shipyard/internal/store"
	"github.com/hyperengineering/shipyard/internal/types"
)

// EmbeddingStore defines the store operations needed by the embedding retry worker.
type EmbeddingStore interface {
	PendingEmbeddings(ctx context.Context, kind types.EntityKind, limit int) ([]store.PendingText, error)
	UpdateEmbedding(ctx context.Context, kind types.EntityKind, id string, embedding []float32, textHash string) error
	MarkEmbeddingFailed(ctx context.Context, kind types.EntityKind, id string) error
}

// Embedder defines the embedding operations needed by the worker.
type Embedder interface {
	EmbedBatch(ctx context.Context, contents []string) ([][]float32, error)
}

// IndexNotifier counts successful vector writes toward index rebuilds.
type IndexNotifier interface {
	NoteWrite(kind types.EntityKind)
}

// EmbeddingRetryWorker sweeps rows whose embedding is pending: new rows the
// synchronous path never reached and rows whose ingest-time embed call
// failed. Rows that exhaust maxAttempts are marked failed and dropped from
// similarity results until the text changes again.
type EmbeddingRetryWorker struct {
	store       EmbeddingStore
	embedder    Embedder
	index       IndexNotifier
	hash        func(text string) string
	interval    time.Duration
	maxAttempts int
	batchSize   int
	retryCount  map[string]int // "<kind>/<id>" -> attempts
}

// NewEmbeddingRetryWorker creates a new embedding retry worker. index may be nil.
func NewEmbeddingRetryWorker(
	s EmbeddingStore,
	e Embedder,
	index IndexNotifier,
	hash func(text string) string,
	interval time.Duration,
	maxAttempts int,
	batchSize int,
) *EmbeddingRetryWorker {
	return &EmbeddingRetryWorker{
		store:       s,
		embedder:    e,
		index:       index,
		hash:        hash,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		retryCount:  make(map[string]int),
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *EmbeddingRetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Process immediately on start so rows left pending by a previous
	// process don't wait a full interval.
	w.processPending(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

func (w *EmbeddingRetryWorker) processPending(ctx context.Context) {
	for _, kind := range types.EmbeddableKinds {
		if ctx.Err() != nil {
			return
		}
		w.processKind(ctx, kind)
	}
}

func (w *EmbeddingRetryWorker) processKind(ctx context.Context, kind types.EntityKind) {
	entries, err := w.store.PendingEmbeddings(ctx, kind, w.batchSize)
	if err != nil {
		slog.Error("failed to get pending embeddings",
			"component", "worker",
			"worker", "embedding-retry",
			"kind", string(kind),
			"error", err,
		)
		return
	}

	if len(entries) == 0 {
		return
	}

	var toProcess []store.PendingText
	for _, e := range entries {
		if w.retryCount[retryKey(kind, e.ID)] >= w.maxAttempts {
			w.markAsFailed(ctx, kind, e.ID)
			continue
		}
		toProcess = append(toProcess, e)
	}

	if len(toProcess) == 0 {
		return
	}

	contents := make([]string, len(toProcess))
	for i, e := range toProcess {
		contents[i] = e.Text
	}

	embeddings, err := w.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		slog.Warn("embedding batch failed, will retry",
			"component", "worker",
			"worker", "embedding-retry",
			"kind", string(kind),
			"count", len(toProcess),
			"error", err,
		)
		for _, e := range toProcess {
			w.retryCount[retryKey(kind, e.ID)]++
		}
		return
	}

	var successCount int
	for i, entry := range toProcess {
		if err := w.store.UpdateEmbedding(ctx, kind, entry.ID, embeddings[i], w.hash(entry.Text)); err != nil {
			slog.Error("failed to update embedding",
				"component", "worker",
				"worker", "embedding-retry",
				"kind", string(kind),
				"id", entry.ID,
				"error", err,
			)
			w.retryCount[retryKey(kind, entry.ID)]++
			continue
		}
		delete(w.retryCount, retryKey(kind, entry.ID))
		if w.index != nil {
			w.index.NoteWrite(kind)
		}
		successCount++
	}

	if successCount > 0 {
		slog.Info("processed pending embeddings",
			"component", "worker",
			"worker", "embedding-retry",
			"kind", string(kind),
			"count", successCount,
		)
	}
}

func (w *EmbeddingRetryWorker) markAsFailed(ctx context.Context, kind types.EntityKind, id string) {
	attempts := w.retryCount[retryKey(kind, id)]

	if err := w.store.MarkEmbeddingFailed(ctx, kind, id); err != nil {
		slog.Error("failed to mark embedding as failed",
			"component", "worker",
			"worker", "embedding-retry",
			"kind", string(kind),
			"id", id,
			"error", err,
		)
		return
	}

	slog.Error("embedding permanently failed",
		"component", "worker",
		"worker", "embedding-retry",
		"kind", string(kind),
		"id", id,
		"attempts", attempts,
	)

	delete(w.retryCount, retryKey(kind, id))
}

func retryKey(kind types.EntityKind, id string) string {
	return string(kind) + "/" + id
}
