// Package api serves the public HTTP surface: documents, jobs, queries and
// the caller's usage.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/identity"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/rag"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/usage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/google/uuid"
)

const maxQueryBody = 64 << 10

// DocumentStore is the part of the job store the API reads and mutates.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (media.Document, error)
	DeleteDocument(ctx context.Context, id string, now time.Time) (media.Document, error)
	Reprocess(ctx context.Context, job media.ProcessingJob) error
	GetJob(ctx context.Context, id string) (media.JobView, error)
}

type QueryService interface {
	Query(ctx context.Context, req rag.Request) (rag.Response, error)
}

type QuotaReader interface {
	Quota(ctx context.Context, userID string) (usage.Quota, error)
}

// Handler implements the non-upload endpoints. Uploads are served by
// ingest.Handler.
type Handler struct {
	store   DocumentStore
	objects objectstore.Store
	queries QueryService
	quota   QuotaReader
	hinter  ingest.Hinter
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Handler. hinter may be nil.
func New(s DocumentStore, objects objectstore.Store, queries QueryService, quota QuotaReader, hinter ingest.Hinter) *Handler {
	return &Handler{
		store:   s,
		objects: objects,
		queries: queries,
		quota:   quota,
		hinter:  hinter,
		logger:  logger.WithComponent("api-handler"),
		now:     time.Now,
	}
}

// Query answers a question from the caller's documents.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	var req rag.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxQueryBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.UserID = caller.UserID

	resp, err := h.queries.Query(r.Context(), req)
	if err != nil {
		h.writeAppError(w, r, "query failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetDocument returns a document owned by the caller. Other users' documents
// are reported as missing.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument soft-deletes the document and its chunks, then removes the
// stored object best-effort. A job in flight fails at its next stage.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context())
	if _, err := h.store.DeleteDocument(r.Context(), doc.ID, h.now().UTC()); err != nil {
		h.writeAppError(w, r, "delete failed", err)
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 30*time.Second)
	defer cancel()
	if err := h.objects.Delete(cleanupCtx, doc.StoragePath); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		log.Warn("stored object not removed", "document_id", doc.ID, "key", doc.StoragePath, "error", err)
	}
	log.Info("document deleted", "document_id", doc.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Reprocess queues a fresh job for a document. Admins only.
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	if !caller.IsAdmin() {
		h.writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	doc, err := h.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, "reprocess failed", err)
		return
	}

	now := h.now().UTC()
	job := media.ProcessingJob{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		State:      media.Queued{},
		CreatedAt:  now,
	}
	if err := h.store.Reprocess(r.Context(), job); err != nil {
		h.writeAppError(w, r, "reprocess failed", err)
		return
	}
	if h.hinter != nil {
		ev := ingest.JobQueuedEvent{JobID: job.ID, DocumentID: doc.ID, OwnerID: doc.OwnerID, MediaType: doc.MediaType, QueuedAt: now}
		if err := h.hinter.JobQueued(r.Context(), ev); err != nil {
			h.logger.Warn("job hint not delivered", "job_id", job.ID, "error", err)
		}
	}
	logger.FromContext(r.Context()).Info("document requeued", "document_id", doc.ID, "job_id", job.ID)
	h.writeJSON(w, http.StatusAccepted, ingest.Accepted{DocumentID: doc.ID, JobID: job.ID})
}

// GetJob returns a job's status and progress.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	job, err := h.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, "job lookup failed", err)
		return
	}
	if job.OwnerID != caller.UserID && !caller.IsAdmin() {
		h.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// Usage returns the caller's quota row for the current period.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	q, err := h.quota.Quota(r.Context(), caller.UserID)
	if err != nil {
		h.writeAppError(w, r, "usage lookup failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"quota":       q,
		"usedPercent": q.UsedPercent(),
	})
}

func (h *Handler) ownedDocument(w http.ResponseWriter, r *http.Request) (media.Document, bool) {
	caller, _ := identity.FromContext(r.Context())
	doc, err := h.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, "document lookup failed", err)
		return media.Document{}, false
	}
	if doc.OwnerID != caller.UserID && !caller.IsAdmin() {
		h.writeError(w, http.StatusNotFound, "document not found")
		return media.Document{}, false
	}
	return doc, true
}

// writeAppError maps err onto its HTTP status. Server-side failures are
// logged and answered with a generic message.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, generic string, err error) {
	status := apperrors.HTTPStatusCode(err)
	if d, ok := apperrors.RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.Round(time.Second)/time.Second)))
	}
	if status >= 500 && status != http.StatusServiceUnavailable {
		logger.FromContext(r.Context()).Error(generic, "error", err, "status_code", status)
		h.writeError(w, status, generic)
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
