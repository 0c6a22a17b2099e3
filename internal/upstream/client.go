// Package upstream implements the HTTP fetcher for the external activity API.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hyperengineering/shipyard/internal/ingest"
	"github.com/hyperengineering/shipyard/internal/types"
)

// Client fetches paginated record feeds over HTTP. It implements
// ingest.Fetcher and classifies failures so the orchestrator knows which
// ones to retry.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates an upstream client. token may be empty for
// unauthenticated endpoints.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// paths per source, relative to the base URL.
var sourcePaths = map[ingest.Source]string{
	ingest.SourceUsers:    "/users",
	ingest.SourceProjects: "/projects",
	ingest.SourceDevlogs:  "/devlogs",
	ingest.SourceComments: "/comments",
	ingest.SourceShells:   "/leaderboard",
}

type projectsEnvelope struct {
	Projects   []types.RawProject `json:"projects"`
	Pagination *types.Pagination  `json:"pagination"`
}

type devlogsEnvelope struct {
	Devlogs    []types.RawDevLog `json:"devlogs"`
	Pagination *types.Pagination `json:"pagination"`
}

type commentsEnvelope struct {
	Comments   []types.RawComment `json:"comments"`
	Pagination *types.Pagination  `json:"pagination"`
}

type usersEnvelope struct {
	Users      []types.RawUser   `json:"users"`
	Pagination *types.Pagination `json:"pagination"`
}

type leaderboardEnvelope struct {
	Users      []types.RawLeaderboardUser `json:"users"`
	Pagination *types.Pagination          `json:"pagination"`
}

// FetchPage fetches one page of the given source. since is ignored when zero.
func (c *Client) FetchPage(ctx context.Context, source ingest.Source, since time.Time, page int) (*ingest.Page, error) {
	path, ok := sourcePaths[source]
	if !ok {
		return nil, ingest.PermanentFetch(fmt.Errorf("unknown source %q", source))
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}

	body, err := c.get(ctx, path, query)
	if err != nil {
		return nil, err
	}

	return decodePage(source, body)
}

// get performs one authenticated GET and returns the response body.
// Network errors, 429 and 5xx are transient; other non-200s are permanent.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, ingest.PermanentFetch(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, ingest.TransientFetch(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, ingest.TransientFetch(fmt.Errorf("reading response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, ingest.TransientFetch(fmt.Errorf("upstream returned %d", resp.StatusCode))
	default:
		return nil, ingest.PermanentFetch(fmt.Errorf("upstream returned %d", resp.StatusCode))
	}
}

func decodePage(source ingest.Source, body []byte) (*ingest.Page, error) {
	page := &ingest.Page{}
	var pagination *types.Pagination

	switch source {
	case ingest.SourceUsers:
		var env usersEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, ingest.PermanentFetch(fmt.Errorf("decoding users page: %w", err))
		}
		page.Profiles = env.Users
		pagination = env.Pagination
	case ingest.SourceProjects:
		var env projectsEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, ingest.PermanentFetch(fmt.Errorf("decoding projects page: %w", err))
		}
		page.Projects = env.Projects
		pagination = env.Pagination
	case ingest.SourceDevlogs:
		var env devlogsEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, ingest.PermanentFetch(fmt.Errorf("decoding devlogs page: %w", err))
		}
		page.Devlogs = env.Devlogs
		pagination = env.Pagination
	case ingest.SourceComments:
		var env commentsEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, ingest.PermanentFetch(fmt.Errorf("decoding comments page: %w", err))
		}
		page.Comments = env.Comments
		pagination = env.Pagination
	case ingest.SourceShells:
		var env leaderboardEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, ingest.PermanentFetch(fmt.Errorf("decoding leaderboard page: %w", err))
		}
		page.Users = env.Users
		pagination = env.Pagination
	}

	if pagination != nil && pagination.Pages != nil {
		page.TotalPages = *pagination.Pages
	}
	return page, nil
}
