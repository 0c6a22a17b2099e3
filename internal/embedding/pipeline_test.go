package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperengineering/shipyard/internal/types"
)

type fakePipelineStore struct {
	hash    string
	status  types.EmbeddingStatus
	hashErr error

	updated     bool
	updatedHash string
	updateErr   error
}

func (f *fakePipelineStore) EmbeddingTextHash(ctx context.Context, kind types.EntityKind, id string) (string, types.EmbeddingStatus, error) {
	return f.hash, f.status, f.hashErr
}

func (f *fakePipelineStore) UpdateEmbedding(ctx context.Context, kind types.EntityKind, id string, embedding []float32, textHash string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = true
	f.updatedHash = textHash
	return nil
}

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(ctx context.Context, content string) ([]float32, error) {
	f.calls++
	return f.vector, f.err
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, contents []string) ([][]float32, error) {
	out := make([][]float32, len(contents))
	for i := range out {
		out[i] = f.vector
	}
	return out, f.err
}

func (f *fakeEmbedder) ModelName() string { return "fake" }

type countingNotifier struct {
	writes int
}

func (c *countingNotifier) NoteWrite(kind types.EntityKind) { c.writes++ }

func testHash(text string) string { return "hash:" + text }

func TestPipeline_MatchingHashIsNoop(t *testing.T) {
	s := &fakePipelineStore{hash: testHash("same text"), status: types.EmbeddingComplete}
	e := &fakeEmbedder{vector: []float32{1}}
	p := NewPipeline(s, e, nil, testHash, time.Second)

	if err := p.Ensure(context.Background(), types.KindProject, "1", "same text"); err != nil {
		t.Fatal(err)
	}
	if e.calls != 0 {
		t.Errorf("Expected no embed call for matching hash, got %d", e.calls)
	}
	if s.updated {
		t.Error("Expected no store write for matching hash")
	}
}

func TestPipeline_StaleHashRecomputes(t *testing.T) {
	s := &fakePipelineStore{hash: testHash("old text"), status: types.EmbeddingComplete}
	e := &fakeEmbedder{vector: []float32{1, 2}}
	notifier := &countingNotifier{}
	p := NewPipeline(s, e, notifier, testHash, time.Second)

	if err := p.Ensure(context.Background(), types.KindDevLog, "7", "new text"); err != nil {
		t.Fatal(err)
	}
	if e.calls != 1 {
		t.Errorf("Expected 1 embed call, got %d", e.calls)
	}
	if !s.updated {
		t.Fatal("Expected vector stored")
	}
	if s.updatedHash != testHash("new text") {
		t.Errorf("Expected new text hash stored, got %q", s.updatedHash)
	}
	if notifier.writes != 1 {
		t.Errorf("Expected 1 index notification, got %d", notifier.writes)
	}
}

func TestPipeline_PendingRowAlwaysEmbeds(t *testing.T) {
	// Same hash but status pending: a previous run wrote the hash and then
	// failed to store the vector, so the row must be recomputed.
	s := &fakePipelineStore{hash: testHash("text"), status: types.EmbeddingPending}
	e := &fakeEmbedder{vector: []float32{1}}
	p := NewPipeline(s, e, nil, testHash, time.Second)

	if err := p.Ensure(context.Background(), types.KindComment, "01X", "text"); err != nil {
		t.Fatal(err)
	}
	if e.calls != 1 {
		t.Errorf("Expected embed call for pending row, got %d", e.calls)
	}
}

func TestPipeline_EmbedFailureIsNotFatal(t *testing.T) {
	s := &fakePipelineStore{status: types.EmbeddingPending}
	e := &fakeEmbedder{err: errors.New("rate limited")}
	p := NewPipeline(s, e, nil, testHash, time.Second)

	// The entity stays committed; the retry worker sweeps it up later.
	if err := p.Ensure(context.Background(), types.KindProject, "1", "text"); err != nil {
		t.Errorf("Expected embed failure swallowed, got %v", err)
	}
	if s.updated {
		t.Error("Expected no store write after embed failure")
	}
}

func TestPipeline_StoreFailureSurfaces(t *testing.T) {
	s := &fakePipelineStore{status: types.EmbeddingPending, updateErr: errors.New("disk full")}
	e := &fakeEmbedder{vector: []float32{1}}
	p := NewPipeline(s, e, nil, testHash, time.Second)

	if err := p.Ensure(context.Background(), types.KindProject, "1", "text"); err == nil {
		t.Error("Expected store failure to surface")
	}
}

func TestPipeline_HashReadFailureSurfaces(t *testing.T) {
	s := &fakePipelineStore{hashErr: errors.New("boom")}
	p := NewPipeline(s, &fakeEmbedder{}, nil, testHash, time.Second)

	if err := p.Ensure(context.Background(), types.KindProject, "1", "text"); err == nil {
		t.Error("Expected hash read failure to surface")
	}
}
