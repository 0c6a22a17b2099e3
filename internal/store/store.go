package store

import (
	"context"
	"time"

	"github.com/hyperengineering/shipyard/internal/types"
)

// UpsertResult reports what an upsert actually did. TextChanged drives
// embedding recomputation: it is true only when the embedded text differs
// from what is stored, never for metadata-only updates.
type UpsertResult struct {
	Created     bool
	Changed     bool
	TextChanged bool
}

// PendingText is one row awaiting embedding generation.
type PendingText struct {
	Kind types.EntityKind
	ID   string
	Text string
}

// VectorRow is one embedded row fed to the vector index. Category is only
// populated for kinds that carry one (projects) and backs relational
// pre-filtering at query time.
type VectorRow struct {
	Kind     types.EntityKind
	ID       string
	Vector   []float32
	Category string
}

// Store defines the contract for checkpoint and entity persistence.
type Store interface {
	// Checkpoints
	GetCheckpoint(ctx context.Context, source string) (*types.Checkpoint, error)
	AdvanceCheckpoint(ctx context.Context, source string, page int, lastSync time.Time) error
	MarkCheckpointStatus(ctx context.Context, source string, status types.SyncStatus) error
	CompleteCheckpoint(ctx context.Context, source string, lastSync time.Time) error
	ListCheckpoints(ctx context.Context) ([]types.Checkpoint, error)

	// Entities
	UpsertUser(ctx context.Context, user types.User) (*UpsertResult, error)
	UpsertProject(ctx context.Context, project types.Project) (*UpsertResult, error)
	UpsertDevLog(ctx context.Context, devlog types.DevLog) (*UpsertResult, error)
	UpsertComment(ctx context.Context, comment types.Comment) (*UpsertResult, error)
	AppendShellSnapshot(ctx context.Context, slackID string, shells int, recordedAt time.Time) (*types.ShellSnapshot, error)

	GetUser(ctx context.Context, slackID string) (*types.User, error)
	GetProject(ctx context.Context, id int64) (*types.Project, error)
	GetDevLog(ctx context.Context, id int64) (*types.DevLog, error)
	GetComment(ctx context.Context, devlogID int64, slackID string) (*types.Comment, error)
	ListShellHistory(ctx context.Context, slackID string) ([]types.ShellSnapshot, error)

	// Embedding plumbing
	PendingEmbeddings(ctx context.Context, kind types.EntityKind, limit int) ([]PendingText, error)
	EmbeddingTextHash(ctx context.Context, kind types.EntityKind, id string) (string, types.EmbeddingStatus, error)
	UpdateEmbedding(ctx context.Context, kind types.EntityKind, id string, embedding []float32, textHash string) error
	MarkEmbeddingFailed(ctx context.Context, kind types.EntityKind, id string) error
	EmbeddedVectors(ctx context.Context, kind types.EntityKind) ([]VectorRow, error)

	Close() error
}
