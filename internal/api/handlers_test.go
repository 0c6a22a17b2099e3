package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyperengineering/shipyard/internal/store"
	"github.com/hyperengineering/shipyard/internal/types"
	"github.com/hyperengineering/shipyard/internal/vectorindex"
)

const testAPIKey = "test-key-123"

type stubEmbedder struct {
	vector []float32
}

func (s *stubEmbedder) Embed(ctx context.Context, content string) ([]float32, error) {
	return s.vector, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, contents []string) ([][]float32, error) {
	out := make([][]float32, len(contents))
	for i := range out {
		out[i] = s.vector
	}
	return out, nil
}

func (s *stubEmbedder) ModelName() string { return "stub-model" }

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore, *vectorindex.Manager) {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	index := vectorindex.NewManager(db, 100, time.Hour)
	h := NewHandler(db, &stubEmbedder{vector: []float32{1, 0}}, index, testAPIKey, "test")
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, db, index
}

func doRequest(t *testing.T, method, url string, body []byte, authed bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func seedProject(t *testing.T, db *store.SQLiteStore, id int64, title, category string) {
	t.Helper()
	ctx := context.Background()
	if _, err := db.UpsertUser(ctx, types.User{SlackID: "U001"}); err != nil {
		t.Fatal(err)
	}
	project := types.Project{ID: id, Title: title, SlackID: "U001"}
	if category != "" {
		project.Category = &category
	}
	if _, err := db.UpsertProject(ctx, project); err != nil {
		t.Fatal(err)
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/health", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "healthy" {
		t.Errorf("Expected healthy, got %q", health.Status)
	}
	if health.EmbeddingModel != "stub-model" {
		t.Errorf("Expected embedding model reported, got %q", health.EmbeddingModel)
	}
}

func TestProtectedRoutes_RequireAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/projects/1", nil, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Expected problem+json, got %q", ct)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/projects/1", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	wrongResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer wrongResp.Body.Close()
	if wrongResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong token, got %d", wrongResp.StatusCode)
	}
}

func TestGetProject(t *testing.T) {
	srv, db, _ := newTestServer(t)
	seedProject(t, db, 1, "Weather Station", "")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/projects/1", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var project types.Project
	if err := json.NewDecoder(resp.Body).Decode(&project); err != nil {
		t.Fatal(err)
	}
	if project.Title != "Weather Station" {
		t.Errorf("Expected title, got %q", project.Title)
	}

	missing := doRequest(t, http.MethodGet, srv.URL+"/api/v1/projects/99", nil, true)
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown project, got %d", missing.StatusCode)
	}

	bad := doRequest(t, http.MethodGet, srv.URL+"/api/v1/projects/banana", nil, true)
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-numeric id, got %d", bad.StatusCode)
	}
}

func TestGetShellHistory(t *testing.T) {
	srv, db, _ := newTestServer(t)
	ctx := context.Background()
	if _, err := db.UpsertUser(ctx, types.User{SlackID: "U100"}); err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := db.AppendShellSnapshot(ctx, "U100", 100, at); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AppendShellSnapshot(ctx, "U100", 140, at.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/users/U100/shells", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var history ShellHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatal(err)
	}
	if len(history.History) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(history.History))
	}
	if history.History[1].ShellDiff == nil || *history.History[1].ShellDiff != 40 {
		t.Errorf("Expected diff +40, got %v", history.History[1].ShellDiff)
	}

	missing := doRequest(t, http.MethodGet, srv.URL+"/api/v1/users/UNOPE/shells", nil, true)
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown user, got %d", missing.StatusCode)
	}
}

func TestListCheckpoints(t *testing.T) {
	srv, db, _ := newTestServer(t)
	if err := db.AdvanceCheckpoint(context.Background(), "projects", 3, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/checkpoints", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var checkpoints []types.Checkpoint
	if err := json.NewDecoder(resp.Body).Decode(&checkpoints); err != nil {
		t.Fatal(err)
	}
	if len(checkpoints) != 1 || checkpoints[0].Source != "projects" {
		t.Errorf("Expected projects checkpoint, got %+v", checkpoints)
	}
}

func TestSearch_ValidationErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, _ := json.Marshal(SearchRequest{Query: "", Kind: "widget"})
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/search", body, true)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d", resp.StatusCode)
	}

	var problem ProblemWithErrors
	if err := json.NewDecoder(resp.Body).Decode(&problem); err != nil {
		t.Fatal(err)
	}
	if len(problem.Errors) != 2 {
		t.Errorf("Expected field errors for query and kind, got %+v", problem.Errors)
	}
}

func TestSearch_ReturnsMatches(t *testing.T) {
	srv, db, index := newTestServer(t)
	ctx := context.Background()
	seedProject(t, db, 1, "Weather Station", "hardware")
	if err := db.UpdateEmbedding(ctx, types.KindProject, "1", []float32{1, 0}, store.TextHash("Weather Station")); err != nil {
		t.Fatal(err)
	}
	if err := index.Rebuild(ctx, types.KindProject); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(SearchRequest{Query: "weather", Kind: "project", Limit: 5})
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/search", body, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var result SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Matches) != 1 || result.Matches[0].ID != "1" {
		t.Fatalf("Expected project 1 matched, got %+v", result.Matches)
	}
}

func TestSearch_CategoryFilter(t *testing.T) {
	srv, db, index := newTestServer(t)
	ctx := context.Background()
	seedProject(t, db, 1, "Weather Station", "hardware")
	seedProject(t, db, 2, "Weather App", "software")
	for _, id := range []string{"1", "2"} {
		if err := db.UpdateEmbedding(ctx, types.KindProject, id, []float32{1, 0}, store.TextHash(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := index.Rebuild(ctx, types.KindProject); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(SearchRequest{Query: "weather", Kind: "project", Category: "software"})
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/search", body, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var result SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Matches) != 1 || result.Matches[0].ID != "2" {
		t.Errorf("Expected only software project, got %+v", result.Matches)
	}
}

func TestSearch_BeforeIndexBuildReturnsEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, _ := json.Marshal(SearchRequest{Query: "anything", Kind: "devlog"})
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/search", body, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var result SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Matches == nil || len(result.Matches) != 0 {
		t.Errorf("Expected empty match list, got %v", result.Matches)
	}
}

func TestGetIndexStats(t *testing.T) {
	srv, db, index := newTestServer(t)
	ctx := context.Background()
	seedProject(t, db, 1, "Weather Station", "")
	if err := db.UpdateEmbedding(ctx, types.KindProject, "1", []float32{1, 0}, store.TextHash("t")); err != nil {
		t.Fatal(err)
	}
	if err := index.Rebuild(ctx, types.KindProject); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/index/stats", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var stats []IndexStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if len(stats) != 3 {
		t.Fatalf("Expected stats for 3 kinds, got %d", len(stats))
	}
	for _, entry := range stats {
		if entry.Kind == types.KindProject {
			if !entry.Built || entry.Vectors != 1 {
				t.Errorf("Expected built project index with 1 vector, got %+v", entry)
			}
		}
	}
}
