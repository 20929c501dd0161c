package ingest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/identity"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
)

// multipartOverhead is added to the largest ceiling when bounding the
// request body, to leave room for form fields and boundaries.
const multipartOverhead = 1 << 20

type Handler struct {
	coordinator *Coordinator
	maxBody     int64
	logger      *slog.Logger
}

func NewHandler(c *Coordinator) *Handler {
	return &Handler{
		coordinator: c,
		maxBody:     c.limits.Largest() + multipartOverhead,
		logger:      logger.WithComponent("ingest-handler"),
	}
}

// Upload accepts multipart/form-data with a "file" part and an optional
// "scopeId" field.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	caller, ok := identity.FromContext(ctx)
	if !ok || caller.UserID == "" {
		h.writeError(w, http.StatusUnauthorized, "user id required")
		return
	}

	if h.maxBody > multipartOverhead {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": map[string]string{"file": "multipart field \"file\" is required"},
		})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(header.Filename)); byExt != "" {
			contentType = byExt
		}
	}

	accepted, err := h.coordinator.Ingest(ctx, Upload{
		OwnerID:     caller.UserID,
		ScopeID:     r.FormValue("scopeId"),
		FileName:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		status := apperrors.HTTPStatusCode(err)
		if status >= 500 {
			log.Error("ingestion failed", "error", err, "status_code", status)
			h.writeError(w, status, "ingestion failed")
			return
		}
		log.Info("upload rejected", "error", err, "status_code", status)
		if d, ok := apperrors.RetryAfter(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(d.Round(time.Second)/time.Second)))
		}
		h.writeError(w, status, err.Error())
		return
	}
	h.writeJSON(w, http.StatusAccepted, accepted)
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
