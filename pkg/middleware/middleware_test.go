package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/api/v1/jobs/{id}", normalizePath("/api/v1/jobs/0f8fad5b-d9cb-469f-a165-70867728950e"))
	assert.Equal(t, "/api/v1/query", normalizePath("/api/v1/query"))
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "req-42", seen)
}

func TestDeadlineSetsContextDeadline(t *testing.T) {
	var ok bool
	h := Deadline(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, ok)
}
