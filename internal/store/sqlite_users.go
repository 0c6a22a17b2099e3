package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperengineering/shipyard/internal/types"
)

// UpsertUser inserts or updates a user keyed by slack_id. A content-identical
// record only refreshes last_synced. The current_shells counter is a cached
// read model; shell deltas are always derived from shell_history, never from
// this column.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user types.User) (*UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())

	var existing types.User
	var username, image24, image32, image48, image72, image192, image512 sql.NullString
	var currentShells sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT username, pfp_url, image_24, image_32, image_48, image_72, image_192, image_512,
		       trust_level, trust_value, current_shells
		FROM users WHERE slack_id = ?
	`, user.SlackID).Scan(
		&username, &existing.PfpURL, &image24, &image32, &image48, &image72, &image192, &image512,
		&existing.TrustLevel, &existing.TrustValue, &currentShells,
	)

	switch {
	case err == sql.ErrNoRows:
		pfp := user.PfpURL
		if pfp == "" {
			pfp = "notfound"
		}
		trustLevel := user.TrustLevel
		if trustLevel == "" {
			trustLevel = "unavailable"
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (slack_id, username, pfp_url, image_24, image_32, image_48,
			                   image_72, image_192, image_512, trust_level, trust_value,
			                   current_shells, last_synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, user.SlackID, nullString(user.Username), pfp,
			nullString(user.Image24), nullString(user.Image32), nullString(user.Image48),
			nullString(user.Image72), nullString(user.Image192), nullString(user.Image512),
			trustLevel, user.TrustValue, nullInt(user.CurrentShells), now)
		if err != nil {
			return nil, fmt.Errorf("insert user: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return &UpsertResult{Created: true, Changed: true}, nil

	case err != nil:
		return nil, fmt.Errorf("query user: %w", err)
	}

	existing.Username = stringPtr(username)
	existing.CurrentShells = intPtr(currentShells)

	// Incoming records may carry partial data (the leaderboard source has no
	// profile fields); unset incoming fields keep their stored values.
	merged := existing
	if user.Username != nil {
		merged.Username = user.Username
	}
	if user.PfpURL != "" {
		merged.PfpURL = user.PfpURL
	}
	if user.TrustLevel != "" {
		merged.TrustLevel = user.TrustLevel
		merged.TrustValue = user.TrustValue
	}
	if user.CurrentShells != nil {
		merged.CurrentShells = user.CurrentShells
	}
	merged.Image24 = coalesce(user.Image24, existing.Image24)
	merged.Image32 = coalesce(user.Image32, existing.Image32)
	merged.Image48 = coalesce(user.Image48, existing.Image48)
	merged.Image72 = coalesce(user.Image72, existing.Image72)
	merged.Image192 = coalesce(user.Image192, existing.Image192)
	merged.Image512 = coalesce(user.Image512, existing.Image512)

	if usersEqual(merged, existing) {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET last_synced = ? WHERE slack_id = ?`, now, user.SlackID); err != nil {
			return nil, fmt.Errorf("refresh user: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return &UpsertResult{}, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET username = ?, pfp_url = ?, image_24 = ?, image_32 = ?, image_48 = ?,
		                 image_72 = ?, image_192 = ?, image_512 = ?, trust_level = ?,
		                 trust_value = ?, current_shells = ?, last_synced = ?
		WHERE slack_id = ?
	`, nullString(merged.Username), merged.PfpURL,
		nullString(merged.Image24), nullString(merged.Image32), nullString(merged.Image48),
		nullString(merged.Image72), nullString(merged.Image192), nullString(merged.Image512),
		merged.TrustLevel, merged.TrustValue, nullInt(merged.CurrentShells), now, user.SlackID)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &UpsertResult{Changed: true}, nil
}

// GetUser retrieves a user by slack_id.
func (s *SQLiteStore) GetUser(ctx context.Context, slackID string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT slack_id, username, pfp_url, image_24, image_32, image_48, image_72,
		       image_192, image_512, trust_level, trust_value, current_shells,
		       last_synced, stats_synced
		FROM users WHERE slack_id = ?
	`, slackID)

	var u types.User
	var username, image24, image32, image48, image72, image192, image512, statsSynced sql.NullString
	var currentShells sql.NullInt64
	var lastSynced string

	err := row.Scan(&u.SlackID, &username, &u.PfpURL, &image24, &image32, &image48,
		&image72, &image192, &image512, &u.TrustLevel, &u.TrustValue, &currentShells,
		&lastSynced, &statsSynced)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.Username = stringPtr(username)
	u.Image24 = stringPtr(image24)
	u.Image32 = stringPtr(image32)
	u.Image48 = stringPtr(image48)
	u.Image72 = stringPtr(image72)
	u.Image192 = stringPtr(image192)
	u.Image512 = stringPtr(image512)
	u.CurrentShells = intPtr(currentShells)
	u.LastSynced = parseTime(lastSynced)
	u.StatsSynced = timePtr(statsSynced)
	return &u, nil
}

func usersEqual(a, b types.User) bool {
	return strPtrEqual(a.Username, b.Username) &&
		a.PfpURL == b.PfpURL &&
		strPtrEqual(a.Image24, b.Image24) &&
		strPtrEqual(a.Image32, b.Image32) &&
		strPtrEqual(a.Image48, b.Image48) &&
		strPtrEqual(a.Image72, b.Image72) &&
		strPtrEqual(a.Image192, b.Image192) &&
		strPtrEqual(a.Image512, b.Image512) &&
		a.TrustLevel == b.TrustLevel &&
		a.TrustValue == b.TrustValue &&
		intPtrEqual(a.CurrentShells, b.CurrentShells)
}

func coalesce(a, b *string) *string {
	if a != nil {
		return a
	}
	return b
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
