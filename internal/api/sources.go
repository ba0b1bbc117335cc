package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/koopa0/searchlight/internal/ingest"
	"github.com/koopa0/searchlight/internal/store"
	"github.com/koopa0/searchlight/internal/vector"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 10 << 20

type sourceHandler struct {
	store    SourceStore
	ingestor Ingestor
	vectors  VectorCleaner
	logger   *slog.Logger
}

type createSourceRequest struct {
	SourceType string `json:"source_type"`
	Title      string `json:"title"`
	URL        string `json:"url,omitempty"`
}

func (h *sourceHandler) create(w http.ResponseWriter, r *http.Request) {
	var body createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", "")
		return
	}
	switch body.SourceType {
	case store.SourceTypeUpload, store.SourceTypeCrawl, store.SourceTypeAPI:
	default:
		writeError(w, http.StatusBadRequest, "invalid_source_type",
			"unknown source type "+strconv.Quote(body.SourceType),
			"source_type must be one of: upload, crawl, api")
		return
	}

	src, err := h.store.CreateSource(r.Context(), body.SourceType, body.Title, body.URL)
	if err != nil {
		h.logger.Error("failed to create source", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "source could not be created", "")
		return
	}
	writeJSON(w, http.StatusCreated, sourceView(src, 0))
}

func (h *sourceHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 200 || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid_pagination", "limit or offset out of range", "")
		return
	}

	sources, err := h.store.ListSources(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list sources", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "sources could not be listed", "")
		return
	}

	views := make([]map[string]any, len(sources))
	for i := range sources {
		views[i] = sourceView(&sources[i], -1)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": views, "count": len(views)})
}

func (h *sourceHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	src, err := h.store.GetSource(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, err, "source")
		return
	}
	chunks, err := h.store.CountChunks(r.Context(), id)
	if err != nil {
		h.logger.Warn("failed to count chunks", "source_id", id, "error", err)
		chunks = -1
	}
	writeJSON(w, http.StatusOK, sourceView(src, chunks))
}

// delete removes a source and everything under it. Relational rows go first
// in one transaction; vector rows follow. A vector cleanup failure leaves
// unreachable rows (their chunks are gone) and is logged, not surfaced.
func (h *sourceHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteSource(r.Context(), id); err != nil {
		h.respondStoreError(w, err, "source")
		return
	}
	if h.vectors != nil {
		if err := h.vectors.DeleteBySource(r.Context(), vector.DefaultCollection, id); err != nil {
			h.logger.Error("failed to delete source vectors", "source_id", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type uploadDocumentRequest struct {
	Title        string `json:"title"`
	DocumentType string `json:"document_type"`
	Content      string `json:"content"`
	URL          string `json:"url,omitempty"`
}

func (h *sourceHandler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.store.GetSource(r.Context(), sourceID); err != nil {
		h.respondStoreError(w, err, "source")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	var body uploadDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON or exceeds the size limit", "")
		return
	}
	if body.Content == "" {
		writeError(w, http.StatusBadRequest, "missing_content", "content must not be empty", "")
		return
	}

	result, err := h.ingestor.IngestDocument(r.Context(), sourceID, ingest.RawDocument{
		Title:        body.Title,
		DocumentType: body.DocumentType,
		URL:          body.URL,
		Content:      []byte(body.Content),
	})
	if err != nil {
		var typeErr *ingest.UnsupportedTypeError
		switch {
		case errors.As(err, &typeErr):
			writeError(w, http.StatusBadRequest, "unsupported_document_type", typeErr.Error(), typeErr.Suggestion())
		case errors.Is(err, ingest.ErrNoContent):
			writeError(w, http.StatusBadRequest, "no_content", "document has no extractable content", "")
		default:
			h.logger.Error("document ingestion failed", "source_id", sourceID, "error", err)
			writeError(w, http.StatusInternalServerError, "ingest_failed", "document could not be ingested", "")
		}
		return
	}

	status := http.StatusCreated
	if result.ChunksFailed > 0 {
		// Partial success. The client should know some chunks are missing.
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"document_id":    result.DocumentID,
		"chunks_created": result.ChunksCreated,
		"chunks_failed":  result.ChunksFailed,
		"failure_reason": result.FailureReason,
	})
}

func (h *sourceHandler) respondStoreError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", what+" not found", "")
		return
	}
	h.logger.Error("store operation failed", "error", err)
	writeError(w, http.StatusInternalServerError, "store_error", what+" operation failed", "")
}

func sourceView(src *store.Source, chunkCount int) map[string]any {
	view := map[string]any{
		"id":          src.ID,
		"source_type": src.SourceType,
		"title":       src.Title,
		"url":         src.URL,
		"status":      src.Status,
		"created_at":  src.CreatedAt,
	}
	if chunkCount >= 0 {
		view["chunk_count"] = chunkCount
	}
	return view
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id is not a valid UUID", "")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
