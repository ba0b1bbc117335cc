package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/koopa0/searchlight/internal/search"
)

type searchHandler struct {
	searcher Searcher
	logger   *slog.Logger
}

type searchRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
	SourceID string `json:"source_id,omitempty"`
	Mode     string `json:"search_type,omitempty"`
}

func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", "")
		return
	}
	if body.Query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query must not be empty", "")
		return
	}
	if body.Limit == 0 {
		body.Limit = 10
	}
	if body.Limit < 1 || body.Limit > search.MaxLimit {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit out of range",
			"limit must be between 1 and 100")
		return
	}

	req := search.Request{Query: body.Query, Limit: body.Limit, Mode: body.Mode}
	if body.SourceID != "" {
		id, err := uuid.Parse(body.SourceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_source_id", "source_id is not a valid UUID", "")
			return
		}
		req.SourceID = &id
	}

	resp, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		if errors.Is(err, search.ErrEmbedderUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "embedder_unavailable",
				"query embedding is unavailable", "retry with search_type \"auto\" to fall back to keyword search")
			return
		}
		h.logger.Error("search failed", "query", body.Query, "error", err)
		writeError(w, http.StatusInternalServerError, "search_failed", "search could not be executed", "")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
