// Package validation checks raw upstream records before they reach the
// repository. Invalid records are rejected per-record; one malformed row
// must not poison an otherwise good page.
package validation

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/hyperengineering/shipyard/internal/types"
)

// RecordError describes why a single upstream record was rejected.
type RecordError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func fieldError(field, message string) *RecordError {
	return &RecordError{Field: field, Message: message}
}

// Project validates a raw project record.
func Project(p types.RawProject) error {
	if p.ID <= 0 {
		return fieldError("id", "must be positive")
	}
	if p.Title == "" {
		return fieldError("title", "must not be empty")
	}
	if !utf8.ValidString(p.Title) {
		return fieldError("title", "must be valid UTF-8")
	}
	if p.SlackID == "" {
		return fieldError("slack_id", "must not be empty")
	}
	if err := timestamp("created_at", p.CreatedAt); err != nil {
		return err
	}
	return timestamp("updated_at", p.UpdatedAt)
}

// DevLog validates a raw devlog record.
func DevLog(d types.RawDevLog) error {
	if d.ID <= 0 {
		return fieldError("id", "must be positive")
	}
	if d.Text == "" {
		return fieldError("text", "must not be empty")
	}
	if !utf8.ValidString(d.Text) {
		return fieldError("text", "must be valid UTF-8")
	}
	if d.ProjectID <= 0 {
		return fieldError("project_id", "must be positive")
	}
	if d.SlackID == "" {
		return fieldError("slack_id", "must not be empty")
	}
	if err := timestamp("created_at", d.CreatedAt); err != nil {
		return err
	}
	return timestamp("updated_at", d.UpdatedAt)
}

// Comment validates a raw comment record.
func Comment(c types.RawComment) error {
	if c.Text == "" {
		return fieldError("text", "must not be empty")
	}
	if !utf8.ValidString(c.Text) {
		return fieldError("text", "must be valid UTF-8")
	}
	if c.DevlogID <= 0 {
		return fieldError("devlog_id", "must be positive")
	}
	if c.SlackID == "" {
		return fieldError("slack_id", "must not be empty")
	}
	return timestamp("created_at", c.CreatedAt)
}

// User validates a raw profile record from the users feed.
func User(u types.RawUser) error {
	if u.SlackID == "" {
		return fieldError("slack_id", "must not be empty")
	}
	if u.Username != nil && !utf8.ValidString(*u.Username) {
		return fieldError("username", "must be valid UTF-8")
	}
	if u.TrustValue < 0 {
		return fieldError("trust_value", "must not be negative")
	}
	return nil
}

// LeaderboardUser validates a raw shells leaderboard row.
func LeaderboardUser(u types.RawLeaderboardUser) error {
	if u.SlackID == "" {
		return fieldError("slack_id", "must not be empty")
	}
	if u.Shells < 0 {
		return fieldError("shells", "must not be negative")
	}
	return nil
}

func timestamp(field, value string) error {
	if value == "" {
		return fieldError(field, "must not be empty")
	}
	if _, err := time.Parse(time.RFC3339, value); err != nil {
		return fieldError(field, "must be RFC 3339")
	}
	return nil
}
