package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperengineering/shipyard/internal/types"
)

// kindTables maps embeddable kinds onto their table layout. The text
// expression reproduces exactly what the embedding is derived from.
var kindTables = map[types.EntityKind]struct {
	table    string
	idCol    string
	textExpr string
}{
	types.KindProject: {table: "projects", idCol: "id", textExpr: "TRIM(title || ' ' || COALESCE(description, ''))"},
	types.KindDevLog:  {table: "devlogs", idCol: "id", textExpr: "text"},
	types.KindComment: {table: "comments", idCol: "id", textExpr: "text"},
}

// PendingEmbeddings returns rows whose embedding is missing or stale,
// oldest first, for the async catch-up sweep.
func (s *SQLiteStore) PendingEmbeddings(ctx context.Context, kind types.EntityKind, limit int) ([]PendingText, error) {
	kt, ok := kindTables[kind]
	if !ok {
		return nil, ErrUnknownEntityKind
	}

	query := fmt.Sprintf(`
		SELECT CAST(%s AS TEXT), %s
		FROM %s
		WHERE embedding_status = ?
		ORDER BY last_synced ASC
		LIMIT ?
	`, kt.idCol, kt.textExpr, kt.table)

	rows, err := s.db.QueryContext(ctx, query, types.EmbeddingPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending embeddings: %w", err)
	}
	defer rows.Close()

	var pending []PendingText
	for rows.Next() {
		p := PendingText{Kind: kind}
		if err := rows.Scan(&p.ID, &p.Text); err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending rows: %w", err)
	}
	return pending, nil
}

// EmbeddingTextHash returns the hash of the text that produced the stored
// vector, along with the current embedding status. An empty hash means no
// vector has ever been computed for the row.
func (s *SQLiteStore) EmbeddingTextHash(ctx context.Context, kind types.EntityKind, id string) (string, types.EmbeddingStatus, error) {
	kt, ok := kindTables[kind]
	if !ok {
		return "", "", ErrUnknownEntityKind
	}

	query := fmt.Sprintf(`SELECT embedding_text_hash, embedding_status FROM %s WHERE %s = ?`, kt.table, kt.idCol)

	var hash sql.NullString
	var status string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&hash, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", "", ErrNotFound
		}
		return "", "", fmt.Errorf("query embedding hash: %w", err)
	}
	return hash.String, types.EmbeddingStatus(status), nil
}

// UpdateEmbedding stores a freshly computed vector together with the hash of
// the text it was derived from and marks the row complete.
func (s *SQLiteStore) UpdateEmbedding(ctx context.Context, kind types.EntityKind, id string, embedding []float32, textHash string) error {
	kt, ok := kindTables[kind]
	if !ok {
		return ErrUnknownEntityKind
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET embedding = ?, embedding_status = ?, embedding_text_hash = ?, last_synced = ?
		WHERE %s = ?
	`, kt.table, kt.idCol)

	result, err := s.db.ExecContext(ctx, query, packEmbedding(embedding), types.EmbeddingComplete,
		textHash, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEmbeddingFailed flags a row whose embedding generation exhausted its
// retry budget. Failed rows are excluded from similarity results but the
// entity itself stays committed.
func (s *SQLiteStore) MarkEmbeddingFailed(ctx context.Context, kind types.EntityKind, id string) error {
	kt, ok := kindTables[kind]
	if !ok {
		return ErrUnknownEntityKind
	}

	query := fmt.Sprintf(`UPDATE %s SET embedding_status = ? WHERE %s = ?`, kt.table, kt.idCol)

	result, err := s.db.ExecContext(ctx, query, types.EmbeddingFailed, id)
	if err != nil {
		return fmt.Errorf("mark embedding failed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// EmbeddedVectors streams every complete vector of a kind for index builds.
// Pending and failed rows are omitted; they become searchable after the
// sweep resolves them and the next rebuild picks them up.
func (s *SQLiteStore) EmbeddedVectors(ctx context.Context, kind types.EntityKind) ([]VectorRow, error) {
	kt, ok := kindTables[kind]
	if !ok {
		return nil, ErrUnknownEntityKind
	}

	cols := fmt.Sprintf("CAST(%s AS TEXT), embedding", kt.idCol)
	if kind == types.KindProject {
		cols += ", COALESCE(category, '')"
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE embedding_status = ? AND embedding IS NOT NULL
	`, cols, kt.table)

	rows, err := s.db.QueryContext(ctx, query, types.EmbeddingComplete)
	if err != nil {
		return nil, fmt.Errorf("query embedded vectors: %w", err)
	}
	defer rows.Close()

	var vectors []VectorRow
	for rows.Next() {
		row := VectorRow{Kind: kind}
		var blob []byte
		dest := []any{&row.ID, &blob}
		if kind == types.KindProject {
			dest = append(dest, &row.Category)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		row.Vector = unpackEmbedding(blob)
		vectors = append(vectors, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector rows: %w", err)
	}
	return vectors, nil
}
