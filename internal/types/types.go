package types

import (
	"strings"
	"time"
)

// SyncStatus represents the lifecycle state of a source checkpoint.
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncInProgress SyncStatus = "in_progress"
	SyncCompleted  SyncStatus = "completed"
	SyncError      SyncStatus = "error"
)

// EmbeddingStatus tracks the embedding lifecycle of a text-bearing row.
type EmbeddingStatus string

const (
	EmbeddingPending  EmbeddingStatus = "pending"
	EmbeddingComplete EmbeddingStatus = "complete"
	EmbeddingFailed   EmbeddingStatus = "failed"
)

// EntityKind identifies the embeddable entity tables.
type EntityKind string

const (
	KindProject EntityKind = "project"
	KindDevLog  EntityKind = "devlog"
	KindComment EntityKind = "comment"
)

// EmbeddableKinds lists every kind that carries an embedding column.
var EmbeddableKinds = []EntityKind{KindProject, KindDevLog, KindComment}

// Checkpoint is the durable ingestion cursor for one upstream source.
// LastSync is nil until the source has completed at least one run.
type Checkpoint struct {
	Source    string     `json:"source"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
	LastPage  int        `json:"last_page"`
	Status    SyncStatus `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// User is keyed by the upstream slack identity. Rows are created on first
// sighting and updated in place; there is no delete path.
type User struct {
	SlackID       string     `json:"slack_id"`
	Username      *string    `json:"username,omitempty"`
	PfpURL        string     `json:"pfp_url"`
	Image24       *string    `json:"image_24,omitempty"`
	Image32       *string    `json:"image_32,omitempty"`
	Image48       *string    `json:"image_48,omitempty"`
	Image72       *string    `json:"image_72,omitempty"`
	Image192      *string    `json:"image_192,omitempty"`
	Image512      *string    `json:"image_512,omitempty"`
	TrustLevel    string     `json:"trust_level"`
	TrustValue    int        `json:"trust_value"`
	CurrentShells *int       `json:"current_shells,omitempty"`
	LastSynced    time.Time  `json:"last_synced"`
	StatsSynced   *time.Time `json:"stats_synced,omitempty"`
}

// Project is keyed by the upstream-assigned integer identity. SlackID is a
// denormalized owner attribute; the original schema does not enforce the
// owning user's existence, so neither do we.
type Project struct {
	ID              int64           `json:"id"`
	Title           string          `json:"title"`
	Description     *string         `json:"description,omitempty"`
	Category        *string         `json:"category,omitempty"`
	ReadmeLink      *string         `json:"readme_link,omitempty"`
	DemoLink        *string         `json:"demo_link,omitempty"`
	SlackID         string          `json:"slack_id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastSynced      time.Time       `json:"last_synced"`
	Embedding       []float32       `json:"-"`
	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`
}

// EmbeddingText is the text the project embedding is derived from.
func (p Project) EmbeddingText() string {
	desc := ""
	if p.Description != nil {
		desc = *p.Description
	}
	return strings.TrimSpace(p.Title + " " + desc)
}

// DevLog references an existing Project and User; both must be upserted
// before the devlog row.
type DevLog struct {
	ID              int64           `json:"id"`
	Text            string          `json:"text"`
	Attachment      *string         `json:"attachment,omitempty"`
	ProjectID       int64           `json:"project_id"`
	SlackID         string          `json:"slack_id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastSynced      time.Time       `json:"last_synced"`
	Embedding       []float32       `json:"-"`
	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`
}

// Comment is unique per (DevLogID, SlackID); the row ID is generated locally.
type Comment struct {
	ID              string          `json:"id"`
	Text            string          `json:"text"`
	DevLogID        int64           `json:"devlog_id"`
	SlackID         string          `json:"slack_id"`
	CreatedAt       time.Time       `json:"created_at"`
	LastSynced      time.Time       `json:"last_synced"`
	Embedding       []float32       `json:"-"`
	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`
}

// ShellSnapshot is an append-only usage reading for one user.
// Diff is nil when no prior reading exists; absence of history is distinct
// from a true zero delta.
type ShellSnapshot struct {
	SlackID      string    `json:"slack_id"`
	Shells       int       `json:"shells"`
	ShellsBefore *int      `json:"shells_before,omitempty"`
	ShellDiff    *int      `json:"shell_diff,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// --- Raw upstream record shapes ---

// RawProject mirrors the upstream projects payload.
type RawProject struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	ReadmeLink  *string `json:"readme_link"`
	DemoLink    *string `json:"demo_link"`
	SlackID     string  `json:"slack_id"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// RawDevLog mirrors the upstream devlogs payload.
type RawDevLog struct {
	ID         int64   `json:"id"`
	Text       string  `json:"text"`
	Attachment *string `json:"attachment"`
	ProjectID  int64   `json:"project_id"`
	SlackID    string  `json:"slack_id"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

// RawComment mirrors the upstream comments payload. Comments carry no
// upstream identity; uniqueness is (DevlogID, SlackID).
type RawComment struct {
	Text      string `json:"text"`
	DevlogID  int64  `json:"devlog_id"`
	SlackID   string `json:"slack_id"`
	CreatedAt string `json:"created_at"`
}

// RawUser mirrors one row from the users feed: profile images and trust
// grading for an already-sighted slack identity.
type RawUser struct {
	SlackID    string  `json:"slack_id"`
	Username   *string `json:"username"`
	Image24    *string `json:"image_24"`
	Image32    *string `json:"image_32"`
	Image48    *string `json:"image_48"`
	Image72    *string `json:"image_72"`
	Image192   *string `json:"image_192"`
	Image512   *string `json:"image_512"`
	TrustLevel string  `json:"trust_level"`
	TrustValue int     `json:"trust_value"`
}

// RawLeaderboardUser mirrors one leaderboard row from the shells source.
type RawLeaderboardUser struct {
	SlackID  string  `json:"slack_id"`
	Username *string `json:"username"`
	Shells   int     `json:"shells"`
}

// Pagination mirrors the upstream pagination envelope.
type Pagination struct {
	Pages *int `json:"pages"`
	Count *int `json:"count"`
	Page  *int `json:"page"`
}

// SearchMatch is one similarity hit returned by the vector index.
type SearchMatch struct {
	Kind  EntityKind `json:"kind"`
	ID    string     `json:"id"`
	Score float64    `json:"score"`
}
