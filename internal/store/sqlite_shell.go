package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperengineering/shipyard/internal/types"
)

// AppendShellSnapshot records a usage reading for a user and computes the
// delta against the immediately preceding snapshot. The read and the write
// share one transaction, so two syncs racing on the same user cannot both
// compute against the same stale baseline. Replaying an already-recorded
// (user, instant) pair is a silent no-op that returns the stored row.
//
// The previous reading is derived strictly from shell_history; the cached
// users.current_shells column is updated as a read model but never consulted.
func (s *SQLiteStore) AppendShellSnapshot(ctx context.Context, slackID string, shells int, recordedAt time.Time) (*types.ShellSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := parentExists(ctx, tx, `SELECT 1 FROM users WHERE slack_id = ?`, slackID); err != nil {
		return nil, fmt.Errorf("snapshot references user %s: %w", slackID, err)
	}

	recorded := formatTime(recordedAt)

	var existing types.ShellSnapshot
	var before, diff sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT shells, shells_before, shell_diff FROM shell_history
		WHERE slack_id = ? AND recorded_at = ?
	`, slackID, recorded).Scan(&existing.Shells, &before, &diff)
	if err == nil {
		// Idempotent replay: the reading for this instant is already applied.
		existing.SlackID = slackID
		existing.RecordedAt = recordedAt.UTC()
		existing.ShellsBefore = intPtr(before)
		existing.ShellDiff = intPtr(diff)
		return &existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	var previous sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT shells FROM shell_history
		WHERE slack_id = ? AND recorded_at < ?
		ORDER BY recorded_at DESC
		LIMIT 1
	`, slackID, recorded).Scan(&previous)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query previous reading: %w", err)
	}

	snapshot := types.ShellSnapshot{
		SlackID:    slackID,
		Shells:     shells,
		RecordedAt: recordedAt.UTC(),
	}
	if previous.Valid {
		prev := int(previous.Int64)
		d := shells - prev
		snapshot.ShellsBefore = &prev
		snapshot.ShellDiff = &d
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shell_history (slack_id, shells, shells_before, shell_diff, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, slackID, shells, nullInt(snapshot.ShellsBefore), nullInt(snapshot.ShellDiff), recorded)
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET current_shells = ?, stats_synced = ? WHERE slack_id = ?
	`, shells, formatTime(time.Now()), slackID)
	if err != nil {
		return nil, fmt.Errorf("update user counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &snapshot, nil
}

// ListShellHistory returns all snapshots for a user, oldest first.
func (s *SQLiteStore) ListShellHistory(ctx context.Context, slackID string) ([]types.ShellSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slack_id, shells, shells_before, shell_diff, recorded_at
		FROM shell_history
		WHERE slack_id = ?
		ORDER BY recorded_at ASC
	`, slackID)
	if err != nil {
		return nil, fmt.Errorf("query shell history: %w", err)
	}
	defer rows.Close()

	var history []types.ShellSnapshot
	for rows.Next() {
		var snap types.ShellSnapshot
		var before, diff sql.NullInt64
		var recordedAt string
		if err := rows.Scan(&snap.SlackID, &snap.Shells, &before, &diff, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.ShellsBefore = intPtr(before)
		snap.ShellDiff = intPtr(diff)
		snap.RecordedAt = parseTime(recordedAt)
		history = append(history, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shell history: %w", err)
	}
	return history, nil
}
