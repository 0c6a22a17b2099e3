package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/shipyard/internal/types"
)

// PipelineStore defines the store operations the pipeline needs.
// Implemented by store.SQLiteStore.
type PipelineStore interface {
	EmbeddingTextHash(ctx context.Context, kind types.EntityKind, id string) (string, types.EmbeddingStatus, error)
	UpdateEmbedding(ctx context.Context, kind types.EntityKind, id string, embedding []float32, textHash string) error
}

// IndexNotifier receives a signal whenever a vector is written, so the
// index manager can count un-indexed writes toward its rebuild threshold.
type IndexNotifier interface {
	NoteWrite(kind types.EntityKind)
}

// Hash fingerprints embedding input text. It is re-exported here so the
// pipeline and the retry worker agree on one definition.
type Hash func(text string) string

// Pipeline keeps stored vectors in step with stored text. Ensure is invoked
// on every text-bearing upsert; failures leave the row pending for the
// background sweep and are never fatal to the owning ingestion run.
type Pipeline struct {
	store    PipelineStore
	embedder Embedder
	index    IndexNotifier
	hash     Hash
	timeout  time.Duration
}

// NewPipeline creates a pipeline. index may be nil when no index manager is
// wired (tests, one-shot CLI runs).
func NewPipeline(s PipelineStore, e Embedder, index IndexNotifier, hash Hash, timeout time.Duration) *Pipeline {
	return &Pipeline{store: s, embedder: e, index: index, hash: hash, timeout: timeout}
}

// Ensure computes and stores a vector for the row when no vector exists or
// the text no longer matches the one that produced the stored vector.
// A matching hash on a complete row is a no-op.
func (p *Pipeline) Ensure(ctx context.Context, kind types.EntityKind, id string, text string) error {
	storedHash, status, err := p.store.EmbeddingTextHash(ctx, kind, id)
	if err != nil {
		return fmt.Errorf("read embedding state: %w", err)
	}

	textHash := p.hash(text)
	if status == types.EmbeddingComplete && storedHash == textHash {
		return nil
	}

	embedCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	vector, err := p.embedder.Embed(embedCtx, text)
	if err != nil {
		// Entity stays committed with status pending; the retry worker
		// picks it up later.
		slog.Warn("embedding generation failed, leaving row pending",
			"component", "embedding",
			"kind", string(kind),
			"id", id,
			"error", err,
		)
		return nil
	}

	if err := p.store.UpdateEmbedding(ctx, kind, id, vector, textHash); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}

	if p.index != nil {
		p.index.NoteWrite(kind)
	}
	return nil
}
