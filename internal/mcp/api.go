package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bull/docsearch-mcp/internal/search"
)

const defaultAPILimit = 10

// SearchRequest is the body of POST /api/v1/search. GET takes the same
// fields as query parameters.
type SearchRequest struct {
	Query         string   `json:"query"`
	Library       string   `json:"library,omitempty"`
	Version       string   `json:"version,omitempty"`
	VersionID     string   `json:"version_id,omitempty"`
	Alpha         *float64 `json:"alpha,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
	Limit         *int     `json:"limit,omitempty"`
}

// API serves the REST views.
type API struct {
	store    Store
	searcher Searcher
	logger   *slog.Logger
}

func NewAPI(store Store, searcher Searcher, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{store: store, searcher: searcher, logger: logger}
}

// Routes mounts the API on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/search", a.Search)
	r.Post("/search", a.Search)
	r.Get("/libraries", a.Libraries)
	r.Get("/versions/{id}/syncs", a.VersionSyncs)
}

func (a *API) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	var err error
	if r.Method == http.MethodPost {
		err = json.NewDecoder(r.Body).Decode(&req)
	} else {
		req, err = searchRequestFromQuery(r)
	}
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	ctx := r.Context()
	versionID := req.VersionID
	if versionID == "" {
		versionID, err = search.ResolveVersion(ctx, a.store, req.Library, req.Version)
		if err != nil {
			a.writeSearchError(w, err)
			return
		}
	}
	limit := defaultAPILimit
	if req.Limit != nil {
		limit = *req.Limit
	}

	resp, err := a.searcher.Search(ctx, search.Request{
		Query:         req.Query,
		VersionID:     versionID,
		Alpha:         req.Alpha,
		MinSimilarity: req.MinSimilarity,
		Limit:         limit,
	})
	if err != nil {
		a.writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) Libraries(w http.ResponseWriter, r *http.Request) {
	libs, err := listLibraries(r.Context(), a.store)
	if err != nil {
		a.logger.Error("List libraries failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list libraries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"libraries": libs})
}

func (a *API) VersionSyncs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	history, err := a.store.ListSyncHistory(r.Context(), id, limit)
	if err != nil {
		a.logger.Error("List sync history failed", "version_id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list sync history")
		return
	}
	out := make([]*SyncInfo, len(history))
	for i, h := range history {
		out[i] = syncInfo(h)
	}
	writeJSON(w, http.StatusOK, map[string]any{"version_id": id, "syncs": out})
}

func (a *API) writeSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, search.ErrInvalidLimit),
		errors.Is(err, search.ErrInvalidAlpha),
		errors.Is(err, search.ErrInvalidMinSimilarity):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, search.ErrUnknownScope):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, search.ErrQueryEmbedding):
		a.logger.Error("Search failed", "error", err)
		writeJSONError(w, http.StatusBadGateway, "query embedding failed")
	default:
		a.logger.Error("Search failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "search failed")
	}
}

func searchRequestFromQuery(r *http.Request) (SearchRequest, error) {
	q := r.URL.Query()
	req := SearchRequest{
		Query:     q.Get("query"),
		Library:   q.Get("library"),
		Version:   q.Get("version"),
		VersionID: q.Get("version_id"),
	}
	var err error
	if req.Alpha, err = optionalFloat(q.Get("alpha")); err != nil {
		return req, fmt.Errorf("alpha: %w", err)
	}
	if req.MinSimilarity, err = optionalFloat(q.Get("min_similarity")); err != nil {
		return req, fmt.Errorf("min_similarity: %w", err)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("limit: %w", err)
		}
		req.Limit = &n
	}
	return req, nil
}

func optionalFloat(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%q is not a finite number", v)
	}
	return &f, nil
}

// writeJSON encodes v before writing the status so an unencodable body
// becomes a 500 instead of a truncated 200.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("Encode response failed", "error", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
