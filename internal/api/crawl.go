package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/koopa0/searchlight/internal/store"
)

type crawlHandler struct {
	store   SourceStore
	crawler CrawlStarter
	logger  *slog.Logger
}

type startCrawlRequest struct {
	SourceID string `json:"source_id,omitempty"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// start launches a background crawl. When no source_id is given a new crawl
// source is created for the URL. Responds 202 with the pending job.
func (h *crawlHandler) start(w http.ResponseWriter, r *http.Request) {
	var body startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", "")
		return
	}
	if !strings.HasPrefix(body.URL, "http://") && !strings.HasPrefix(body.URL, "https://") {
		writeError(w, http.StatusBadRequest, "invalid_url", "url must be an absolute http(s) URL", "")
		return
	}

	var src *store.Source
	if body.SourceID != "" {
		id, err := uuid.Parse(body.SourceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_source_id", "source_id is not a valid UUID", "")
			return
		}
		src, err = h.store.GetSource(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", "source not found", "")
			return
		}
	} else {
		title := body.Title
		if title == "" {
			title = body.URL
		}
		created, err := h.store.CreateSource(r.Context(), store.SourceTypeCrawl, title, body.URL)
		if err != nil {
			h.logger.Error("failed to create crawl source", "error", err)
			writeError(w, http.StatusInternalServerError, "create_failed", "source could not be created", "")
			return
		}
		src = created
	}

	job, err := h.crawler.StartCrawl(r.Context(), src.ID, body.URL)
	if err != nil {
		h.logger.Error("failed to start crawl", "source_id", src.ID, "url", body.URL, "error", err)
		writeError(w, http.StatusBadRequest, "crawl_failed", err.Error(), "")
		return
	}
	writeJSON(w, http.StatusAccepted, jobView(job))
}

// status reports the persisted state of one crawl job.
func (h *crawlHandler) status(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := h.store.GetCrawlJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "crawl job not found", "")
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

func jobView(job *store.CrawlJob) map[string]any {
	view := map[string]any{
		"id":            job.ID,
		"source_id":     job.SourceID,
		"status":        job.Status,
		"pages_crawled": job.PagesCrawled,
		"created_at":    job.CreatedAt,
	}
	if job.ErrorMessage != "" {
		view["error_message"] = job.ErrorMessage
	}
	if job.StartedAt != nil {
		view["started_at"] = job.StartedAt
	}
	if job.CompletedAt != nil {
		view["completed_at"] = job.CompletedAt
	}
	return view
}
