package store

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperengineering/shipyard/internal/types"
)

func TestEmbedding_PendingListsNewRows(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	seedUser(t, db, "U001")
	seedProject(t, db, 1, "Weather Station")

	pending, err := db.PendingEmbeddings(ctx, types.KindProject, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending row, got %d", len(pending))
	}
	if pending[0].ID != "1" {
		t.Errorf("Expected id 1, got %q", pending[0].ID)
	}
	// The pending text is what the vector will be derived from.
	if pending[0].Text != "Weather Station" {
		t.Errorf("Expected trimmed title text, got %q", pending[0].Text)
	}
}

func TestEmbedding_PendingTextMatchesEmbeddingText(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	seedUser(t, db, "U001")

	project := types.Project{
		ID: 1, Title: "Weather Station", Description: strp("logs rainfall"), SlackID: "U001",
	}
	if _, err := db.UpsertProject(ctx, project); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingEmbeddings(ctx, types.KindProject, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending row, got %d", len(pending))
	}

	// The SQL text expression and the Go side must agree, otherwise the
	// stored hash never matches and vectors churn forever.
	if pending[0].Text != project.EmbeddingText() {
		t.Errorf("SQL text %q does not match EmbeddingText %q", pending[0].Text, project.EmbeddingText())
	}
}

func TestEmbedding_UpdateMarksComplete(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	seedUser(t, db, "U001")
	seedProject(t, db, 1, "Weather Station")

	hash := TextHash("Weather Station")
	if err := db.UpdateEmbedding(ctx, types.KindProject, "1", []float32{0.1, 0.2, 0.3}, hash); err != nil {
		t.Fatal(err)
	}

	storedHash, status, err := db.EmbeddingTextHash(ctx, types.KindProject, "1")
	if err != nil {
		t.Fatal(err)
	}
	if status != types.EmbeddingComplete {
		t.Errorf("Expected complete, got %s", status)
	}
	if storedHash != hash {
		t.Errorf("Expected stored hash %s, got %s", hash, storedHash)
	}

	pending, err := db.PendingEmbeddings(ctx, types.KindProject, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending rows after update, got %d", len(pending))
	}
}

func TestEmbedding_UpdateUnknownRowReturnsNotFound(t *testing.T) {
	db := newTestStore(t)

	err := db.UpdateEmbedding(context.Background(), types.KindProject, "42", []float32{0.1}, "h")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestEmbedding_MarkFailedExcludesFromVectors(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	seedUser(t, db, "U001")
	seedProject(t, db, 1, "Weather Station")

	if err := db.MarkEmbeddingFailed(ctx, types.KindProject, "1"); err != nil {
		t.Fatal(err)
	}

	_, status, err := db.EmbeddingTextHash(ctx, types.KindProject, "1")
	if err != nil {
		t.Fatal(err)
	}
	if status != types.EmbeddingFailed {
		t.Errorf("Expected failed, got %s", status)
	}

	vectors, err := db.EmbeddedVectors(ctx, types.KindProject)
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 0 {
		t.Errorf("Expected failed row excluded from vectors, got %d", len(vectors))
	}
}

func TestEmbedding_VectorsCarryProjectCategory(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	seedUser(t, db, "U001")

	project := types.Project{ID: 1, Title: "Weather Station", Category: strp("hardware"), SlackID: "U001"}
	if _, err := db.UpsertProject(ctx, project); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateEmbedding(ctx, types.KindProject, "1", []float32{0.5, 0.5}, TextHash("Weather Station")); err != nil {
		t.Fatal(err)
	}

	vectors, err := db.EmbeddedVectors(ctx, types.KindProject)
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 1 {
		t.Fatalf("Expected 1 vector, got %d", len(vectors))
	}
	if vectors[0].Category != "hardware" {
		t.Errorf("Expected category hardware, got %q", vectors[0].Category)
	}
	if len(vectors[0].Vector) != 2 {
		t.Errorf("Expected 2-dim vector, got %d", len(vectors[0].Vector))
	}
}

func TestEmbedding_UnknownKindRejected(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	_, err := db.PendingEmbeddings(ctx, types.EntityKind("widget"), 10)
	if !errors.Is(err, ErrUnknownEntityKind) {
		t.Errorf("Expected ErrUnknownEntityKind, got %v", err)
	}
}
