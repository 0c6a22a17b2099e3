// Package vectorindex maintains per-entity-kind similarity indexes over the
// embedding columns. Indexes are eventually consistent with the store: a
// vector written after the last rebuild is not searchable until the next
// rebuild cycle. That staleness window is documented behavior, not a bug.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/shipyard/internal/store"
	"github.com/hyperengineering/shipyard/internal/types"
)

// VectorSource feeds index builds. Implemented by store.SQLiteStore.
type VectorSource interface {
	EmbeddedVectors(ctx context.Context, kind types.EntityKind) ([]store.VectorRow, error)
}

// Filter is a relational pre-filter applied to candidate rows before
// similarity scoring.
type Filter func(row store.VectorRow) bool

// generation is one fully built index. Queries only ever see a complete
// generation; a rebuild prepares the next one off to the side and swaps it
// in atomically.
type generation struct {
	index   *bruteIndex
	rows    []store.VectorRow
	builtAt time.Time
}

// Manager owns one index generation per entity kind and decides when to
// rebuild: after rebuildThreshold un-indexed writes or rebuildInterval since
// the last build, whichever comes first.
type Manager struct {
	source           VectorSource
	rebuildThreshold int
	rebuildInterval  time.Duration

	mu          sync.RWMutex
	generations map[types.EntityKind]*generation

	pendingMu sync.Mutex
	pending   map[types.EntityKind]int
}

// NewManager creates a Manager with no built generations; call Rebuild (or
// let the refresh worker run) before expecting search results.
func NewManager(source VectorSource, rebuildThreshold int, rebuildInterval time.Duration) *Manager {
	return &Manager{
		source:           source,
		rebuildThreshold: rebuildThreshold,
		rebuildInterval:  rebuildInterval,
		generations:      make(map[types.EntityKind]*generation),
		pending:          make(map[types.EntityKind]int),
	}
}

// NoteWrite records one un-indexed vector write for rebuild accounting.
func (m *Manager) NoteWrite(kind types.EntityKind) {
	m.pendingMu.Lock()
	m.pending[kind]++
	m.pendingMu.Unlock()
}

// Rebuild constructs a fresh generation for one kind from the store and
// swaps it in. The previous generation keeps serving queries until the swap.
func (m *Manager) Rebuild(ctx context.Context, kind types.EntityKind) error {
	rows, err := m.source.EmbeddedVectors(ctx, kind)
	if err != nil {
		return fmt.Errorf("load vectors for %s: %w", kind, err)
	}

	ids := make([]string, len(rows))
	vecs := make([][]float32, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
		vecs[i] = row.Vector
	}

	idx, err := newBruteIndex(ids, vecs)
	if err != nil {
		return fmt.Errorf("build index for %s: %w", kind, err)
	}

	gen := &generation{index: idx, rows: rows, builtAt: time.Now().UTC()}

	m.mu.Lock()
	m.generations[kind] = gen
	m.mu.Unlock()

	m.pendingMu.Lock()
	m.pending[kind] = 0
	m.pendingMu.Unlock()

	slog.Debug("vector index rebuilt",
		"component", "vectorindex",
		"kind", string(kind),
		"vectors", len(rows),
	)
	return nil
}

// RebuildAll rebuilds every embeddable kind, continuing past individual
// failures and returning the first error encountered.
func (m *Manager) RebuildAll(ctx context.Context) error {
	var firstErr error
	for _, kind := range types.EmbeddableKinds {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.Rebuild(ctx, kind); err != nil {
			slog.Error("vector index rebuild failed",
				"component", "vectorindex",
				"kind", string(kind),
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RebuildDue rebuilds only the kinds whose write count or age crossed the
// configured thresholds.
func (m *Manager) RebuildDue(ctx context.Context) {
	for _, kind := range types.EmbeddableKinds {
		if ctx.Err() != nil {
			return
		}
		if !m.due(kind) {
			continue
		}
		if err := m.Rebuild(ctx, kind); err != nil {
			slog.Error("vector index rebuild failed",
				"component", "vectorindex",
				"kind", string(kind),
				"error", err,
			)
		}
	}
}

func (m *Manager) due(kind types.EntityKind) bool {
	m.pendingMu.Lock()
	writes := m.pending[kind]
	m.pendingMu.Unlock()

	m.mu.RLock()
	gen := m.generations[kind]
	m.mu.RUnlock()

	if gen == nil {
		return writes > 0
	}
	if writes >= m.rebuildThreshold {
		return true
	}
	return time.Since(gen.builtAt) >= m.rebuildInterval
}

// Search returns the k nearest rows of a kind by cosine similarity against
// the last fully built generation. filter, when non-nil, restricts
// candidates before scoring. No generation yet means no results.
func (m *Manager) Search(ctx context.Context, kind types.EntityKind, query []float32, k int, filter Filter) ([]types.SearchMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	gen := m.generations[kind]
	m.mu.RUnlock()

	if gen == nil {
		return nil, nil
	}

	var allow func(pos int) bool
	if filter != nil {
		allow = func(pos int) bool { return filter(gen.rows[pos]) }
	}

	ids, scores, err := gen.index.query(query, k, allow)
	if err != nil {
		return nil, fmt.Errorf("query %s index: %w", kind, err)
	}

	matches := make([]types.SearchMatch, len(ids))
	for i := range ids {
		matches[i] = types.SearchMatch{Kind: kind, ID: ids[i], Score: scores[i]}
	}
	return matches, nil
}

// Stats reports generation age and size for one kind, for observability.
func (m *Manager) Stats(kind types.EntityKind) (builtAt time.Time, size int, built bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gen := m.generations[kind]
	if gen == nil {
		return time.Time{}, 0, false
	}
	return gen.builtAt, gen.index.size(), true
}
