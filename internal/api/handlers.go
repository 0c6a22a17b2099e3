package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/shipyard/internal/embedding"
	"github.com/hyperengineering/shipyard/internal/store"
	"github.com/hyperengineering/shipyard/internal/types"
	"github.com/hyperengineering/shipyard/internal/validation"
	"github.com/hyperengineering/shipyard/internal/vectorindex"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// Handler implements the API handlers
type Handler struct {
	store    store.Store
	embedder embedding.Embedder
	index    *vectorindex.Manager
	apiKey   string
	version  string
}

// NewHandler creates a new Handler with store.Store interface
func NewHandler(s store.Store, e embedding.Embedder, idx *vectorindex.Manager, apiKey, version string) *Handler {
	return &Handler{
		store:    s,
		embedder: e,
		index:    idx,
		apiKey:   apiKey,
		version:  version,
	}
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status         string             `json:"status"`
	Version        string             `json:"version"`
	EmbeddingModel string             `json:"embedding_model"`
	Checkpoints    []types.Checkpoint `json:"checkpoints"`
}

// Health returns the service status and per-source checkpoint state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := h.store.ListCheckpoints(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	resp := HealthResponse{
		Status:         "healthy",
		Version:        h.version,
		EmbeddingModel: h.embedder.ModelName(),
		Checkpoints:    checkpoints,
	}

	writeJSON(w, resp)
}

// GetProject handles GET /api/v1/projects/{id}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	project, err := h.store.GetProject(r.Context(), id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, project)
}

// GetDevLog handles GET /api/v1/devlogs/{id}
func (h *Handler) GetDevLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	devlog, err := h.store.GetDevLog(r.Context(), id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, devlog)
}

// GetComment handles GET /api/v1/devlogs/{id}/comments/{slackID}
func (h *Handler) GetComment(w http.ResponseWriter, r *http.Request) {
	devlogID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	slackID := chi.URLParam(r, "slackID")

	comment, err := h.store.GetComment(r.Context(), devlogID, slackID)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, comment)
}

// GetUser handles GET /api/v1/users/{slackID}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	slackID := chi.URLParam(r, "slackID")

	user, err := h.store.GetUser(r.Context(), slackID)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, user)
}

// ShellHistoryResponse is the GET /users/{slackID}/shells payload.
type ShellHistoryResponse struct {
	SlackID string                `json:"slack_id"`
	History []types.ShellSnapshot `json:"history"`
}

// GetShellHistory handles GET /api/v1/users/{slackID}/shells. The user must
// exist; an empty history for a known user is a valid response.
func (h *Handler) GetShellHistory(w http.ResponseWriter, r *http.Request) {
	slackID := chi.URLParam(r, "slackID")

	if _, err := h.store.GetUser(r.Context(), slackID); err != nil {
		MapStoreError(w, r, err)
		return
	}

	history, err := h.store.ListShellHistory(r.Context(), slackID)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, ShellHistoryResponse{SlackID: slackID, History: history})
}

// ListCheckpoints handles GET /api/v1/checkpoints
func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := h.store.ListCheckpoints(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, checkpoints)
}

// IndexStats is one entry of the GET /index/stats payload.
type IndexStats struct {
	Kind    types.EntityKind `json:"kind"`
	Built   bool             `json:"built"`
	Vectors int              `json:"vectors"`
	BuiltAt *time.Time       `json:"built_at,omitempty"`
}

// GetIndexStats handles GET /api/v1/index/stats
func (h *Handler) GetIndexStats(w http.ResponseWriter, r *http.Request) {
	stats := make([]IndexStats, 0, len(types.EmbeddableKinds))
	for _, kind := range types.EmbeddableKinds {
		builtAt, size, built := h.index.Stats(kind)
		entry := IndexStats{Kind: kind, Built: built, Vectors: size}
		if built {
			entry.BuiltAt = &builtAt
		}
		stats = append(stats, entry)
	}
	writeJSON(w, stats)
}

// SearchRequest is the POST /search payload.
type SearchRequest struct {
	Query    string `json:"query"`
	Kind     string `json:"kind"`
	Limit    int    `json:"limit"`
	Category string `json:"category,omitempty"`
}

// SearchResponse is the POST /search result payload.
type SearchResponse struct {
	Matches []types.SearchMatch `json:"matches"`
}

// Search handles POST /api/v1/search: embeds the query text and runs a
// similarity lookup against the last built index generation for the kind.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if errs := validateSearchRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	vector, err := h.embedder.Embed(r.Context(), req.Query)
	if err != nil {
		slog.Error("query embedding failed", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Embedding service unavailable")
		return
	}

	var filter vectorindex.Filter
	if req.Category != "" {
		category := req.Category
		filter = func(row store.VectorRow) bool { return row.Category == category }
	}

	matches, err := h.index.Search(r.Context(), types.EntityKind(req.Kind), vector, limit, filter)
	if err != nil {
		slog.Error("search failed", "kind", req.Kind, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if matches == nil {
		matches = []types.SearchMatch{}
	}
	writeJSON(w, SearchResponse{Matches: matches})
}

func validateSearchRequest(req SearchRequest) []validation.RecordError {
	var errs []validation.RecordError
	if req.Query == "" {
		errs = append(errs, validation.RecordError{Field: "query", Message: "must not be empty"})
	}

	valid := false
	for _, kind := range types.EmbeddableKinds {
		if string(kind) == req.Kind {
			valid = true
			break
		}
	}
	if !valid {
		errs = append(errs, validation.RecordError{Field: "kind", Message: "must be one of: project, devlog, comment"})
	}

	if req.Category != "" && req.Kind != string(types.KindProject) {
		errs = append(errs, validation.RecordError{Field: "category", Message: "only valid for kind project"})
	}
	return errs
}

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid %s: %q", name, raw))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
