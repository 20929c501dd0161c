package worker

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/identity"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/middleware"
)

// Handler exposes the worker's trigger and status endpoints.
type Handler struct {
	runner *Runner
	store  Store
	logger *slog.Logger
}

func NewHandler(r *Runner, s Store) *Handler {
	return &Handler{
		runner: r,
		store:  s,
		logger: logger.WithComponent("worker-handler"),
	}
}

// NewRouter serves the worker's endpoints. Triggering requires an admin
// caller.
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.HandleFunc("GET /api/v1/worker/status", h.Status)
	mux.Handle("POST /api/v1/worker/trigger", requireAdmin(http.HandlerFunc(h.Trigger)))

	var chain http.Handler = mux
	chain = identity.Middleware(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)
	return chain
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := identity.FromContext(r.Context()); !ok || !c.IsAdmin() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "admin role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type triggerRequest struct {
	DocumentID string `json:"documentId"`
	JobID      string `json:"jobId"`
}

// Trigger wakes the runner. The body is optional; with a jobId that job is
// tried first.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	h.runner.Hint(req.JobID)
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// Status reports queue depth.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	depth, err := h.store.QueueDepth(r.Context())
	if err != nil {
		h.logger.Error("reading queue depth", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "online",
		"queue":  depth,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
