package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/identity"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/middleware"
)

// NewRouter builds the API handler with all routes and middleware.
//
// Route table:
//
//	POST   /api/v1/documents                  → upload
//	GET    /api/v1/documents/{id}             → document view
//	DELETE /api/v1/documents/{id}             → delete + cooperative cancel
//	POST   /api/v1/documents/{id}/reprocess   → new queued job (admin)
//	GET    /api/v1/jobs/{id}                  → job status
//	POST   /api/v1/query                      → RAG query
//	GET    /api/v1/usage                      → caller's quota
//	GET    /health/live, /health/ready        → probes
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → Identity → RequireUser → RateLimit → handler
func NewRouter(h *Handler, upload *ingest.Handler, limiter *ratelimit.Limiter, checker *health.Checker, m *metrics.Metrics, cfg config.ServerConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("POST /api/v1/documents", upload.Upload)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.DeleteDocument)
	mux.HandleFunc("POST /api/v1/documents/{id}/reprocess", h.Reprocess)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.Handle("POST /api/v1/query", middleware.Deadline(cfg.RequestTimeout)(http.HandlerFunc(h.Query)))
	mux.HandleFunc("GET /api/v1/usage", h.Usage)

	var chain http.Handler = mux
	if limiter != nil {
		chain = ratelimit.Middleware(limiter, ratelimit.DefaultClassify)(chain)
	}
	chain = RequireUser(chain)
	chain = identity.Middleware(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.AllowOrigins))(chain)
	chain = middleware.RequestID(chain)
	return chain
}

// RequireUser rejects API requests that carry no user id. Health probes and
// CORS preflights pass through.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		if c, ok := identity.FromContext(r.Context()); !ok || c.UserID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "missing " + identity.HeaderUserID + " header"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
