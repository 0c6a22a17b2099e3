package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperengineering/shipyard/internal/types"
	"github.com/oklog/ulid/v2"
)

// UpsertComment inserts or updates a comment keyed by (devlog_id, slack_id).
// A user has at most one comment row per devlog; re-ingesting the pair
// updates the text in place instead of inserting a duplicate. The referenced
// devlog and user must already exist.
func (s *SQLiteStore) UpsertComment(ctx context.Context, comment types.Comment) (*UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := parentExists(ctx, tx, `SELECT 1 FROM devlogs WHERE id = ?`, comment.DevLogID); err != nil {
		return nil, fmt.Errorf("comment references devlog %d: %w", comment.DevLogID, err)
	}
	if err := parentExists(ctx, tx, `SELECT 1 FROM users WHERE slack_id = ?`, comment.SlackID); err != nil {
		return nil, fmt.Errorf("comment references user %s: %w", comment.SlackID, err)
	}

	now := formatTime(time.Now())

	var existingID, existingText string
	err = tx.QueryRowContext(ctx, `
		SELECT id, text FROM comments WHERE devlog_id = ? AND slack_id = ?
	`, comment.DevLogID, comment.SlackID).Scan(&existingID, &existingText)

	switch {
	case err == sql.ErrNoRows:
		id := ulid.Make().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO comments (id, text, devlog_id, slack_id, created_at, last_synced, embedding_status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, comment.Text, comment.DevLogID, comment.SlackID,
			formatTime(comment.CreatedAt), now, types.EmbeddingPending)
		if err != nil {
			return nil, fmt.Errorf("insert comment: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return &UpsertResult{Created: true, Changed: true, TextChanged: true}, nil

	case err != nil:
		return nil, fmt.Errorf("query comment: %w", err)
	}

	if existingText == comment.Text {
		if _, err := tx.ExecContext(ctx, `UPDATE comments SET last_synced = ? WHERE id = ?`, now, existingID); err != nil {
			return nil, fmt.Errorf("refresh comment: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return &UpsertResult{}, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE comments SET text = ?, last_synced = ?, embedding_status = ? WHERE id = ?
	`, comment.Text, now, types.EmbeddingPending, existingID)
	if err != nil {
		return nil, fmt.Errorf("update comment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &UpsertResult{Changed: true, TextChanged: true}, nil
}

// GetComment retrieves the comment for a (devlog, user) pair.
func (s *SQLiteStore) GetComment(ctx context.Context, devlogID int64, slackID string) (*types.Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, text, devlog_id, slack_id, created_at, last_synced, embedding, embedding_status
		FROM comments WHERE devlog_id = ? AND slack_id = ?
	`, devlogID, slackID)

	var c types.Comment
	var createdAt, lastSynced, embeddingStatus string
	var embeddingBlob []byte

	err := row.Scan(&c.ID, &c.Text, &c.DevLogID, &c.SlackID, &createdAt, &lastSynced,
		&embeddingBlob, &embeddingStatus)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan comment: %w", err)
	}

	c.CreatedAt = parseTime(createdAt)
	c.LastSynced = parseTime(lastSynced)
	c.EmbeddingStatus = types.EmbeddingStatus(embeddingStatus)
	if len(embeddingBlob) > 0 {
		c.Embedding = unpackEmbedding(embeddingBlob)
	}
	return &c, nil
}
