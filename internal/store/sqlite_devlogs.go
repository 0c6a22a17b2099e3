package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperengineering/shipyard/internal/types"
)

// UpsertDevLog inserts or updates a devlog keyed by its upstream identity.
// The referenced project and user must already exist; callers are expected
// to upsert parents first and a violation aborts with ErrReferentialIntegrity.
func (s *SQLiteStore) UpsertDevLog(ctx context.Context, devlog types.DevLog) (*UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := parentExists(ctx, tx, `SELECT 1 FROM projects WHERE id = ?`, devlog.ProjectID); err != nil {
		return nil, fmt.Errorf("devlog %d references project %d: %w", devlog.ID, devlog.ProjectID, err)
	}
	if err := parentExists(ctx, tx, `SELECT 1 FROM users WHERE slack_id = ?`, devlog.SlackID); err != nil {
		return nil, fmt.Errorf("devlog %d references user %s: %w", devlog.ID, devlog.SlackID, err)
	}

	now := formatTime(time.Now())

	var existingText string
	var existingAttachment sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT text, attachment FROM devlogs WHERE id = ?`, devlog.ID).
		Scan(&existingText, &existingAttachment)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO devlogs (id, text, attachment, project_id, slack_id,
			                     created_at, updated_at, last_synced, embedding_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, devlog.ID, devlog.Text, nullString(devlog.Attachment), devlog.ProjectID, devlog.SlackID,
			formatTime(devlog.CreatedAt), formatTime(devlog.UpdatedAt), now, types.EmbeddingPending)
		if err != nil {
			return nil, fmt.Errorf("insert devlog: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return &UpsertResult{Created: true, Changed: true, TextChanged: true}, nil

	case err != nil:
		return nil, fmt.Errorf("query devlog: %w", err)
	}

	textChanged := existingText != devlog.Text
	changed := textChanged || !strPtrEqual(stringPtr(existingAttachment), devlog.Attachment)

	if !changed {
		if _, err := tx.ExecContext(ctx, `UPDATE devlogs SET last_synced = ? WHERE id = ?`, now, devlog.ID); err != nil {
			return nil, fmt.Errorf("refresh devlog: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return &UpsertResult{}, nil
	}

	query := `UPDATE devlogs SET text = ?, attachment = ?, updated_at = ?, last_synced = ?`
	args := []any{devlog.Text, nullString(devlog.Attachment), formatTime(devlog.UpdatedAt), now}
	if textChanged {
		query += `, embedding_status = ?`
		args = append(args, types.EmbeddingPending)
	}
	query += ` WHERE id = ?`
	args = append(args, devlog.ID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update devlog: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &UpsertResult{Changed: true, TextChanged: textChanged}, nil
}

// GetDevLog retrieves a devlog by id.
func (s *SQLiteStore) GetDevLog(ctx context.Context, id int64) (*types.DevLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, text, attachment, project_id, slack_id, created_at, updated_at,
		       last_synced, embedding, embedding_status
		FROM devlogs WHERE id = ?
	`, id)

	var d types.DevLog
	var attachment sql.NullString
	var createdAt, updatedAt, lastSynced, embeddingStatus string
	var embeddingBlob []byte

	err := row.Scan(&d.ID, &d.Text, &attachment, &d.ProjectID, &d.SlackID,
		&createdAt, &updatedAt, &lastSynced, &embeddingBlob, &embeddingStatus)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan devlog: %w", err)
	}

	d.Attachment = stringPtr(attachment)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	d.LastSynced = parseTime(lastSynced)
	d.EmbeddingStatus = types.EmbeddingStatus(embeddingStatus)
	if len(embeddingBlob) > 0 {
		d.Embedding = unpackEmbedding(embeddingBlob)
	}
	return &d, nil
}

func parentExists(ctx context.Context, tx *sql.Tx, query string, key any) error {
	var one int
	err := tx.QueryRowContext(ctx, query, key).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrReferentialIntegrity
	}
	if err != nil {
		return fmt.Errorf("check parent: %w", err)
	}
	return nil
}
