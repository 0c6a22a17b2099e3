package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperengineering/shipyard/internal/types"
)

// UpsertProject inserts or updates a project keyed by its upstream identity.
// A content-identical record only refreshes last_synced; a title/description
// change flips the embedding back to pending so the stale vector is never
// served as current.
func (s *SQLiteStore) UpsertProject(ctx context.Context, project types.Project) (*UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())

	var existing types.Project
	var description, category, readmeLink, demoLink sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT title, description, category, readme_link, demo_link, slack_id
		FROM projects WHERE id = ?
	`, project.ID).Scan(&existing.Title, &description, &category, &readmeLink, &demoLink, &existing.SlackID)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projects (id, title, description, category, readme_link, demo_link,
			                      slack_id, created_at, updated_at, last_synced, embedding_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, project.ID, project.Title, nullString(project.Description), nullString(project.Category),
			nullString(project.ReadmeLink), nullString(project.DemoLink), project.SlackID,
			formatTime(project.CreatedAt), formatTime(project.UpdatedAt), now, types.EmbeddingPending)
		if err != nil {
			return nil, fmt.Errorf("insert project: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return &UpsertResult{Created: true, Changed: true, TextChanged: true}, nil

	case err != nil:
		return nil, fmt.Errorf("query project: %w", err)
	}

	existing.Description = stringPtr(description)
	existing.Category = stringPtr(category)
	existing.ReadmeLink = stringPtr(readmeLink)
	existing.DemoLink = stringPtr(demoLink)

	textChanged := existing.Title != project.Title || !strPtrEqual(existing.Description, project.Description)
	changed := textChanged ||
		!strPtrEqual(existing.Category, project.Category) ||
		!strPtrEqual(existing.ReadmeLink, project.ReadmeLink) ||
		!strPtrEqual(existing.DemoLink, project.DemoLink) ||
		existing.SlackID != project.SlackID

	if !changed {
		if _, err := tx.ExecContext(ctx, `UPDATE projects SET last_synced = ? WHERE id = ?`, now, project.ID); err != nil {
			return nil, fmt.Errorf("refresh project: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return &UpsertResult{}, nil
	}

	query := `
		UPDATE projects SET title = ?, description = ?, category = ?, readme_link = ?,
		                    demo_link = ?, slack_id = ?, updated_at = ?, last_synced = ?
	`
	args := []any{project.Title, nullString(project.Description), nullString(project.Category),
		nullString(project.ReadmeLink), nullString(project.DemoLink), project.SlackID,
		formatTime(project.UpdatedAt), now}
	if textChanged {
		query += `, embedding_status = ?`
		args = append(args, types.EmbeddingPending)
	}
	query += ` WHERE id = ?`
	args = append(args, project.ID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &UpsertResult{Changed: true, TextChanged: textChanged}, nil
}

// GetProject retrieves a project by id.
func (s *SQLiteStore) GetProject(ctx context.Context, id int64) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, category, readme_link, demo_link, slack_id,
		       created_at, updated_at, last_synced, embedding, embedding_status
		FROM projects WHERE id = ?
	`, id)

	var p types.Project
	var description, category, readmeLink, demoLink sql.NullString
	var createdAt, updatedAt, lastSynced, embeddingStatus string
	var embeddingBlob []byte

	err := row.Scan(&p.ID, &p.Title, &description, &category, &readmeLink, &demoLink,
		&p.SlackID, &createdAt, &updatedAt, &lastSynced, &embeddingBlob, &embeddingStatus)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}

	p.Description = stringPtr(description)
	p.Category = stringPtr(category)
	p.ReadmeLink = stringPtr(readmeLink)
	p.DemoLink = stringPtr(demoLink)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	p.LastSynced = parseTime(lastSynced)
	p.EmbeddingStatus = types.EmbeddingStatus(embeddingStatus)
	if len(embeddingBlob) > 0 {
		p.Embedding = unpackEmbedding(embeddingBlob)
	}
	return &p, nil
}
