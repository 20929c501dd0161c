package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/identity"
)

// ClassifyFunc maps a request to its endpoint class. Returning "" skips
// limiting.
type ClassifyFunc func(r *http.Request) Class

// DefaultClassify assigns classes by path prefix and method.
func DefaultClassify(r *http.Request) Class {
	p := r.URL.Path
	switch {
	case strings.HasPrefix(p, "/health"), p == "/metrics":
		return ""
	case strings.HasPrefix(p, "/api/v1/auth"):
		return ClassAuth
	case strings.HasPrefix(p, "/api/v1/admin"), strings.HasSuffix(p, "/reprocess"), p == "/api/v1/worker/trigger":
		return ClassAdmin
	case r.Method == http.MethodPost && p == "/api/v1/documents":
		return ClassUpload
	case strings.HasPrefix(p, "/api/v1/query"):
		return ClassAI
	default:
		return ClassAPI
	}
}

// Middleware enforces the limiter. It must run after identity.Middleware.
func Middleware(l *Limiter, classify ClassifyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := classify(r)
			if class == "" {
				next.ServeHTTP(w, r)
				return
			}
			caller, ok := identity.FromContext(r.Context())
			if !ok {
				caller = identity.Caller{Role: identity.RoleUser, IP: identity.ClientIP(r)}
			}

			d := l.Allow(r.Context(), class, caller.Key(), caller.Role)
			if d.Limit > 0 && !d.FailedOpen {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			}
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error":      "rate limit exceeded",
					"retryAfter": secs,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
