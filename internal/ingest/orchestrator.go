package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/shipyard/internal/embedding"
	"github.com/hyperengineering/shipyard/internal/store"
	"github.com/hyperengineering/shipyard/internal/types"
	"github.com/hyperengineering/shipyard/internal/validation"
	"github.com/sethvargo/go-retry"
)

const userLockStripes = 64

// Config bounds the orchestrator's retry and timeout behavior.
type Config struct {
	FetchTimeout time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	return c
}

// Orchestrator drives one checkpointed sync run per source. Within a source
// pages are strictly sequential: page N+1 is not fetched until page N's
// entities and checkpoint advance are committed. Sources sync concurrently.
type Orchestrator struct {
	store    store.Store
	fetcher  Fetcher
	pipeline *embedding.Pipeline
	cfg      Config

	// Shell-delta read-then-write is serialized per user so two sources
	// racing on the same user cannot compute against one stale baseline.
	userLocks [userLockStripes]sync.Mutex
}

// NewOrchestrator wires the orchestrator. pipeline may be nil when no
// embedder is configured; text entities then stay pending for the sweep.
func NewOrchestrator(s store.Store, f Fetcher, p *embedding.Pipeline, cfg Config) *Orchestrator {
	return &Orchestrator{store: s, fetcher: f, pipeline: p, cfg: cfg.withDefaults()}
}

// SyncAll runs every source concurrently and returns the combined errors.
func (o *Orchestrator) SyncAll(ctx context.Context, sources []Source) error {
	if len(sources) == 0 {
		sources = AllSources
	}

	var wg sync.WaitGroup
	errs := make([]error, len(sources))
	for i, source := range sources {
		wg.Add(1)
		go func(i int, source Source) {
			defer wg.Done()
			errs[i] = o.SyncSource(ctx, source)
		}(i, source)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// SyncSource runs one full sync for a source. A checkpoint left in_progress
// by a crashed run, or errored by a failed one, resumes at its last advanced
// page; upserts are idempotent so re-processing that page is safe. Cancellation is
// cooperative: the run stops between pages, never mid-page, leaving the
// checkpoint in_progress for the next run to resume.
func (o *Orchestrator) SyncSource(ctx context.Context, source Source) error {
	start := time.Now().UTC()

	cp, err := o.store.GetCheckpoint(ctx, string(source))
	if err != nil {
		return fmt.Errorf("read checkpoint for %s: %w", source, err)
	}

	page := 1
	var since time.Time
	if cp.LastSync != nil {
		since = *cp.LastSync
	}
	resumed := (cp.Status == types.SyncInProgress || cp.Status == types.SyncError) && cp.LastPage > 0
	if resumed {
		page = cp.LastPage
	}

	if err := o.store.MarkCheckpointStatus(ctx, string(source), types.SyncInProgress); err != nil {
		return fmt.Errorf("mark %s in progress: %w", source, err)
	}

	slog.Info("sync started",
		"component", "ingest",
		"source", string(source),
		"page", page,
		"resumed", resumed,
	)

	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			slog.Info("sync cancelled between pages",
				"component", "ingest",
				"source", string(source),
				"last_page", page-1,
			)
			return err
		}

		fetched, err := o.fetchWithRetry(ctx, source, since, page)
		if err != nil {
			o.failRun(ctx, source, page, err)
			return fmt.Errorf("fetch %s page %d: %w", source, page, err)
		}

		if fetched.Empty() {
			break
		}

		if err := o.processPage(ctx, source, fetched, start); err != nil {
			o.failRun(ctx, source, page, err)
			return fmt.Errorf("process %s page %d: %w", source, page, err)
		}

		if err := o.store.AdvanceCheckpoint(ctx, string(source), page, since); err != nil {
			o.failRun(ctx, source, page, err)
			return fmt.Errorf("advance %s checkpoint: %w", source, err)
		}
		pages++

		if fetched.TotalPages > 0 && page >= fetched.TotalPages {
			break
		}
		page++
	}

	if err := o.store.CompleteCheckpoint(ctx, string(source), start); err != nil {
		return fmt.Errorf("complete %s checkpoint: %w", source, err)
	}

	slog.Info("sync completed",
		"component", "ingest",
		"source", string(source),
		"pages", pages,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// failRun marks the source errored. The checkpoint cursor is left at the
// last successfully advanced page so the next run resumes there.
// Cancellation is not a failure: a cancelled run leaves the checkpoint
// in_progress for the next run to resume.
func (o *Orchestrator) failRun(ctx context.Context, source Source, page int, cause error) {
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) {
		slog.Info("sync interrupted",
			"component", "ingest",
			"source", string(source),
			"page", page,
		)
		return
	}
	slog.Error("sync failed",
		"component", "ingest",
		"source", string(source),
		"page", page,
		"error", cause,
	)
	// Best effort with a fresh context; the run context may already be dead.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.store.MarkCheckpointStatus(markCtx, string(source), types.SyncError); err != nil {
		slog.Error("failed to mark checkpoint errored",
			"component", "ingest",
			"source", string(source),
			"error", err,
		)
	}
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context, source Source, since time.Time, page int) (*Page, error) {
	var result *Page
	backoff := retry.WithMaxRetries(uint64(o.cfg.MaxAttempts-1), retry.NewExponential(o.cfg.BackoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
		defer cancel()

		p, err := o.fetcher.FetchPage(fetchCtx, source, since, page)
		if err != nil {
			if IsTransientFetch(err) {
				slog.Warn("transient fetch failure, backing off",
					"component", "ingest",
					"source", string(source),
					"page", page,
					"error", err,
				)
				return retry.RetryableError(err)
			}
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// processPage upserts one page's records in parent-before-child order.
// Storage and referential failures abort the page; embedding failures never
// do. Invalid records are skipped individually.
func (o *Orchestrator) processPage(ctx context.Context, source Source, page *Page, runStart time.Time) error {
	switch source {
	case SourceUsers:
		return o.processUsers(ctx, page.Profiles)
	case SourceProjects:
		return o.processProjects(ctx, page.Projects)
	case SourceDevlogs:
		return o.processDevlogs(ctx, page.Devlogs)
	case SourceComments:
		return o.processComments(ctx, page.Comments)
	case SourceShells:
		return o.processShells(ctx, page.Users, runStart)
	default:
		return fmt.Errorf("unknown source %q", source)
	}
}

// processUsers enriches user rows with profile images and trust grading.
// The merge in UpsertUser keeps stored values for fields the feed omits, so
// a profile update never clobbers the shell counter and vice versa.
func (o *Orchestrator) processUsers(ctx context.Context, records []types.RawUser) error {
	for _, raw := range records {
		if err := validation.User(raw); err != nil {
			o.skipRecord(SourceUsers, fmt.Sprintf("user %s", raw.SlackID), err)
			continue
		}

		user := types.User{
			SlackID:    raw.SlackID,
			Username:   raw.Username,
			PfpURL:     profileImage(raw),
			Image24:    raw.Image24,
			Image32:    raw.Image32,
			Image48:    raw.Image48,
			Image72:    raw.Image72,
			Image192:   raw.Image192,
			Image512:   raw.Image512,
			TrustLevel: raw.TrustLevel,
			TrustValue: raw.TrustValue,
		}

		if _, err := o.store.UpsertUser(ctx, user); err != nil {
			return fmt.Errorf("upsert user %s: %w", raw.SlackID, err)
		}
	}
	return nil
}

// profileImage picks the display avatar from the available image sizes,
// largest usable first.
func profileImage(raw types.RawUser) string {
	for _, img := range []*string{raw.Image192, raw.Image512, raw.Image72, raw.Image48} {
		if img != nil && *img != "" {
			return *img
		}
	}
	return ""
}

func (o *Orchestrator) processProjects(ctx context.Context, records []types.RawProject) error {
	for _, raw := range records {
		if err := validation.Project(raw); err != nil {
			o.skipRecord(SourceProjects, fmt.Sprintf("project %d", raw.ID), err)
			continue
		}

		project := types.Project{
			ID:          raw.ID,
			Title:       raw.Title,
			Description: raw.Description,
			Category:    raw.Category,
			ReadmeLink:  raw.ReadmeLink,
			DemoLink:    raw.DemoLink,
			SlackID:     raw.SlackID,
			CreatedAt:   mustParseTime(raw.CreatedAt),
			UpdatedAt:   mustParseTime(raw.UpdatedAt),
		}

		result, err := o.store.UpsertProject(ctx, project)
		if err != nil {
			return fmt.Errorf("upsert project %d: %w", raw.ID, err)
		}
		if result.TextChanged {
			o.ensureEmbedding(ctx, types.KindProject, fmt.Sprintf("%d", raw.ID), project.EmbeddingText())
		}
	}
	return nil
}

func (o *Orchestrator) processDevlogs(ctx context.Context, records []types.RawDevLog) error {
	for _, raw := range records {
		if err := validation.DevLog(raw); err != nil {
			o.skipRecord(SourceDevlogs, fmt.Sprintf("devlog %d", raw.ID), err)
			continue
		}

		// Author rows are created on first sighting so the devlog's user
		// reference always resolves. The project must have been ingested by
		// the projects source; a missing project is a referential failure.
		if _, err := o.store.UpsertUser(ctx, types.User{SlackID: raw.SlackID}); err != nil {
			return fmt.Errorf("upsert devlog author %s: %w", raw.SlackID, err)
		}

		devlog := types.DevLog{
			ID:         raw.ID,
			Text:       raw.Text,
			Attachment: raw.Attachment,
			ProjectID:  raw.ProjectID,
			SlackID:    raw.SlackID,
			CreatedAt:  mustParseTime(raw.CreatedAt),
			UpdatedAt:  mustParseTime(raw.UpdatedAt),
		}

		result, err := o.store.UpsertDevLog(ctx, devlog)
		if err != nil {
			return fmt.Errorf("upsert devlog %d: %w", raw.ID, err)
		}
		if result.TextChanged {
			o.ensureEmbedding(ctx, types.KindDevLog, fmt.Sprintf("%d", raw.ID), raw.Text)
		}
	}
	return nil
}

func (o *Orchestrator) processComments(ctx context.Context, records []types.RawComment) error {
	for _, raw := range records {
		if err := validation.Comment(raw); err != nil {
			o.skipRecord(SourceComments, fmt.Sprintf("comment on devlog %d", raw.DevlogID), err)
			continue
		}

		if _, err := o.store.UpsertUser(ctx, types.User{SlackID: raw.SlackID}); err != nil {
			return fmt.Errorf("upsert comment author %s: %w", raw.SlackID, err)
		}

		comment := types.Comment{
			Text:      raw.Text,
			DevLogID:  raw.DevlogID,
			SlackID:   raw.SlackID,
			CreatedAt: mustParseTime(raw.CreatedAt),
		}

		result, err := o.store.UpsertComment(ctx, comment)
		if err != nil {
			return fmt.Errorf("upsert comment on devlog %d by %s: %w", raw.DevlogID, raw.SlackID, err)
		}
		if result.TextChanged {
			stored, err := o.store.GetComment(ctx, raw.DevlogID, raw.SlackID)
			if err != nil {
				return fmt.Errorf("read back comment on devlog %d: %w", raw.DevlogID, err)
			}
			o.ensureEmbedding(ctx, types.KindComment, stored.ID, raw.Text)
		}
	}
	return nil
}

// processShells upserts leaderboard users and appends one usage snapshot per
// changed reading. runStart is used as the recorded instant for every
// snapshot of the run, which makes re-processing a page after a resume an
// exact replay of the same (user, instant) keys.
func (o *Orchestrator) processShells(ctx context.Context, records []types.RawLeaderboardUser, runStart time.Time) error {
	for _, raw := range records {
		if err := validation.LeaderboardUser(raw); err != nil {
			o.skipRecord(SourceShells, fmt.Sprintf("leaderboard user %s", raw.SlackID), err)
			continue
		}

		if _, err := o.store.UpsertUser(ctx, types.User{SlackID: raw.SlackID, Username: raw.Username}); err != nil {
			return fmt.Errorf("upsert leaderboard user %s: %w", raw.SlackID, err)
		}

		// Unchanged readings produce no snapshot; absence of a row means
		// "no change observed", not a zero delta.
		user, err := o.store.GetUser(ctx, raw.SlackID)
		if err != nil {
			return fmt.Errorf("read user %s: %w", raw.SlackID, err)
		}
		if user.CurrentShells != nil && *user.CurrentShells == raw.Shells {
			continue
		}

		lock := o.userLock(raw.SlackID)
		lock.Lock()
		_, err = o.store.AppendShellSnapshot(ctx, raw.SlackID, raw.Shells, runStart)
		lock.Unlock()
		if err != nil {
			// Duplicate (user, instant) replays are swallowed by the store;
			// anything surfacing here is a real storage failure.
			return fmt.Errorf("append snapshot for %s: %w", raw.SlackID, err)
		}
	}
	return nil
}

func (o *Orchestrator) ensureEmbedding(ctx context.Context, kind types.EntityKind, id, text string) {
	if o.pipeline == nil {
		return
	}
	if err := o.pipeline.Ensure(ctx, kind, id, text); err != nil {
		slog.Warn("embedding pipeline failure, row left pending",
			"component", "ingest",
			"kind", string(kind),
			"id", id,
			"error", err,
		)
	}
}

func (o *Orchestrator) skipRecord(source Source, which string, err error) {
	slog.Warn("skipping invalid record",
		"component", "ingest",
		"source", string(source),
		"record", which,
		"error", err,
	)
}

func (o *Orchestrator) userLock(slackID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(slackID))
	return &o.userLocks[h.Sum32()%userLockStripes]
}

// mustParseTime is only called on validated records; validation guarantees
// RFC 3339 timestamps.
func mustParseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t.UTC()
}
