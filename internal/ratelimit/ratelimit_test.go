package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/identity"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = config.RateLimitConfig{
	Classes: map[string]config.RateLimitRule{
		"ai":     {Limit: 3, Window: time.Minute},
		"upload": {Limit: 1, Window: 5 * time.Minute},
	},
	RoleMultipliers: map[string]float64{"user": 1, "admin": 3, "guest": 0.1},
}

func newTestLimiter(b Backend, clock *time.Time) *Limiter {
	l := New(b, testCfg, metrics.NewWithRegistry(prometheus.NewRegistry()))
	l.now = func() time.Time { return *clock }
	return l
}

func TestSlidingWindowAllowsUpToLimit(t *testing.T) {
	clock := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	l := newTestLimiter(NewMemoryBackend(0), &clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := l.Allow(ctx, ClassAI, "user:a", "user")
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 2-i, d.Remaining)
		clock = clock.Add(10 * time.Second)
	}

	d := l.Allow(ctx, ClassAI, "user:a", "user")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	// Oldest hit was at 10:00:00; now is 10:00:30.
	assert.Equal(t, 30*time.Second, d.RetryAfter)

	clock = time.Date(2026, 1, 1, 10, 1, 0, 1, time.UTC)
	assert.True(t, l.Allow(ctx, ClassAI, "user:a", "user").Allowed, "first hit slid out of the window")
}

func TestRejectedRequestsDoNotExtendWindow(t *testing.T) {
	clock := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	l := newTestLimiter(NewMemoryBackend(0), &clock)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, ClassUpload, "user:a", "user").Allowed)
	for i := 0; i < 5; i++ {
		clock = clock.Add(time.Minute)
		assert.False(t, l.Allow(ctx, ClassUpload, "user:a", "user").Allowed)
	}
	clock = time.Date(2026, 1, 1, 10, 5, 0, 1, time.UTC)
	assert.True(t, l.Allow(ctx, ClassUpload, "user:a", "user").Allowed)
}

func TestIdentifiersAreIndependent(t *testing.T) {
	clock := time.Now()
	l := newTestLimiter(NewMemoryBackend(0), &clock)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, ClassUpload, "user:a", "user").Allowed)
	assert.False(t, l.Allow(ctx, ClassUpload, "user:a", "user").Allowed)
	assert.True(t, l.Allow(ctx, ClassUpload, "user:b", "user").Allowed)
	assert.True(t, l.Allow(ctx, ClassAI, "user:a", "user").Allowed, "classes have separate windows")
}

func TestRoleMultipliers(t *testing.T) {
	clock := time.Now()
	l := newTestLimiter(NewMemoryBackend(0), &clock)

	rule, ok := l.RuleFor(ClassAI, "admin")
	require.True(t, ok)
	assert.Equal(t, 9, rule.Limit)

	rule, _ = l.RuleFor(ClassAI, "unknown-role")
	assert.Equal(t, 3, rule.Limit)

	rule, _ = l.RuleFor(ClassAI, "guest")
	assert.Equal(t, 1, rule.Limit, "scaled limit is never below one")

	_, ok = l.RuleFor(ClassAdmin, "admin")
	assert.False(t, ok)
}

type failingBackend struct{}

func (failingBackend) Hit(context.Context, string, Rule, time.Time) (bool, int, time.Time, error) {
	return false, 0, time.Time{}, errors.New("dial tcp: connection refused")
}

func TestBackendOutageFailsOpen(t *testing.T) {
	clock := time.Now()
	l := newTestLimiter(failingBackend{}, &clock)
	for i := 0; i < 10; i++ {
		d := l.Allow(context.Background(), ClassUpload, "user:a", "user")
		assert.True(t, d.Allowed)
		assert.True(t, d.FailedOpen)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	clock := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	l := newTestLimiter(NewMemoryBackend(0), &clock)
	h := identity.Middleware(Middleware(l, DefaultClassify)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", nil)
		req.Header.Set(identity.HeaderUserID, "u-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send()
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestDefaultClassify(t *testing.T) {
	cases := map[string]struct {
		method, path string
		want         Class
	}{
		"health":  {http.MethodGet, "/health/ready", ""},
		"upload":  {http.MethodPost, "/api/v1/documents", ClassUpload},
		"list":    {http.MethodGet, "/api/v1/documents", ClassAPI},
		"query":   {http.MethodPost, "/api/v1/query", ClassAI},
		"admin":   {http.MethodPut, "/api/v1/admin/quotas/u1", ClassAdmin},
		"job":     {http.MethodGet, "/api/v1/jobs/abc", ClassAPI},
		"auth":    {http.MethodPost, "/api/v1/auth/login", ClassAuth},
		"metrics": {http.MethodGet, "/metrics", ""},
		"redo":    {http.MethodPost, "/api/v1/documents/abc/reprocess", ClassAdmin},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, DefaultClassify(httptest.NewRequest(tc.method, tc.path, nil)))
		})
	}
}

func TestClientIdentifierFallsBackToIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", identity.ClientIP(req))

	req.Header.Set("CF-Connecting-IP", "198.51.100.4")
	assert.Equal(t, "ip:198.51.100.4", identity.Caller{IP: identity.ClientIP(req)}.Key())
	assert.Equal(t, "user:u1", identity.Caller{UserID: "u1", IP: "x"}.Key())
}
