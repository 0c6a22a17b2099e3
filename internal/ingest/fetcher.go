package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/shipyard/internal/types"
)

// Source names one upstream feed. Each source owns its own checkpoint and
// syncs independently of the others.
type Source string

const (
	SourceUsers    Source = "users"
	SourceProjects Source = "projects"
	SourceDevlogs  Source = "devlogs"
	SourceComments Source = "comments"
	SourceShells   Source = "shells"
)

// AllSources lists every source in default sync order.
var AllSources = []Source{SourceUsers, SourceProjects, SourceDevlogs, SourceComments, SourceShells}

// Page is one fetched page of upstream records. Only the slice matching the
// requested source is populated. TotalPages is 0 when the upstream response
// carried no pagination envelope.
type Page struct {
	Projects   []types.RawProject
	Devlogs    []types.RawDevLog
	Comments   []types.RawComment
	Profiles   []types.RawUser
	Users      []types.RawLeaderboardUser
	TotalPages int
}

// Empty reports whether the page carried no records; the orchestrator treats
// an empty page as upstream exhaustion.
func (p *Page) Empty() bool {
	return len(p.Projects) == 0 && len(p.Devlogs) == 0 && len(p.Comments) == 0 &&
		len(p.Profiles) == 0 && len(p.Users) == 0
}

// Fetcher is the injected upstream collaborator. since is the zero time on a
// source's first ever run. Implementations classify failures via FetchError.
type Fetcher interface {
	FetchPage(ctx context.Context, source Source, since time.Time, page int) (*Page, error)
}

// FetchError wraps an upstream failure with its retry classification.
// Transient failures (network, 5xx, rate limits) are retried with backoff;
// permanent ones (auth, 4xx) abort the run for operator attention.
type FetchError struct {
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.Transient {
		return fmt.Sprintf("transient fetch error: %v", e.Err)
	}
	return fmt.Sprintf("permanent fetch error: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TransientFetch classifies err as retryable.
func TransientFetch(err error) error {
	return &FetchError{Transient: true, Err: err}
}

// PermanentFetch classifies err as non-retryable.
func PermanentFetch(err error) error {
	return &FetchError{Transient: false, Err: err}
}

// IsTransientFetch reports whether err is a retryable fetch failure.
// Unclassified errors are treated as permanent.
func IsTransientFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}
