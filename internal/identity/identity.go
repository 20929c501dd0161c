// Package identity carries the caller's user id and role through a request.
// Authentication happens upstream; the fronting gateway sets X-User-ID and
// X-User-Role.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"

	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Caller is the authenticated principal of a request.
type Caller struct {
	UserID string
	Role   string
	IP     string
}

// Key returns the rate-limit identifier: the user id when known, else the IP.
func (c Caller) Key() string {
	if c.UserID != "" {
		return "user:" + c.UserID
	}
	return "ip:" + c.IP
}

// IsAdmin reports whether the caller may use admin endpoints.
func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin || c.Role == RoleSuperAdmin
}

type contextKey struct{}

// WithCaller stores c in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the caller stored by Middleware.
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(contextKey{}).(Caller)
	return c, ok
}

// Middleware resolves the caller from trusted headers.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := Caller{
			UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role:   strings.TrimSpace(r.Header.Get(HeaderRole)),
			IP:     ClientIP(r),
		}
		if c.Role == "" {
			c.Role = RoleUser
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), c)))
	})
}

// ClientIP prefers proxy headers in the order CF-Connecting-IP, X-Real-IP,
// first X-Forwarded-For hop, then falls back to the socket address.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
