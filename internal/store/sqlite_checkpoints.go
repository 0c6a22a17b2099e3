package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperengineering/shipyard/internal/types"
)

// GetCheckpoint returns the checkpoint for a source. An unknown source
// yields a zero-value pending checkpoint rather than an error so callers
// can treat first runs and resumed runs uniformly.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, source string) (*types.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source, last_sync, last_page, status, updated_at
		FROM sync_checkpoints
		WHERE source = ?
	`, source)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return &types.Checkpoint{Source: source, Status: types.SyncPending}, nil
		}
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	return cp, nil
}

// AdvanceCheckpoint records the last fully processed page. It must only be
// called after that page's entity writes have committed; the checkpoint is
// deliberately the final write of a page.
func (s *SQLiteStore) AdvanceCheckpoint(ctx context.Context, source string, page int, lastSync time.Time) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (source, last_sync, last_page, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source) DO UPDATE SET
			last_sync = excluded.last_sync,
			last_page = excluded.last_page,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, source, formatTime(lastSync), page, types.SyncInProgress, now)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}

// MarkCheckpointStatus sets only the status, leaving the cursor untouched so
// a failed run resumes at the last advanced page.
func (s *SQLiteStore) MarkCheckpointStatus(ctx context.Context, source string, status types.SyncStatus) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (source, last_page, status, updated_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT (source) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
	`, source, status, now)
	if err != nil {
		return fmt.Errorf("mark checkpoint status: %w", err)
	}
	return nil
}

// CompleteCheckpoint finalizes a run: status completed, page cursor reset,
// last_sync set to the run's start time so records created mid-run are
// picked up next time.
func (s *SQLiteStore) CompleteCheckpoint(ctx context.Context, source string, lastSync time.Time) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (source, last_sync, last_page, status, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT (source) DO UPDATE SET
			last_sync = excluded.last_sync,
			last_page = 0,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, source, formatTime(lastSync), types.SyncCompleted, now)
	if err != nil {
		return fmt.Errorf("complete checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints returns every source checkpoint for observability.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]types.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, last_sync, last_page, status, updated_at
		FROM sync_checkpoints
		ORDER BY source
	`)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []types.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return checkpoints, nil
}

func scanCheckpoint(scanner interface{ Scan(...any) error }) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	var lastSync sql.NullString
	var status, updatedAt string

	if err := scanner.Scan(&cp.Source, &lastSync, &cp.LastPage, &status, &updatedAt); err != nil {
		return nil, err
	}

	cp.Status = types.SyncStatus(status)
	cp.LastSync = timePtr(lastSync)
	cp.UpdatedAt = parseTime(updatedAt)
	return &cp, nil
}
