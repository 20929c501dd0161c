// Package middleware provides reusable HTTP middleware for request IDs,
// Prometheus metrics, and request deadlines.
package middleware

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
)

// Metrics returns middleware that records HTTP request count, latency, and
// in-flight gauge.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			sw := &StatusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			path := normalizePath(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// StatusWriter wraps http.ResponseWriter to capture the response status code.
type StatusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// Status returns the status written so far.
func (sw *StatusWriter) Status() int { return sw.status }

func (sw *StatusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *StatusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

var idSegment = regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// normalizePath collapses UUID path segments so label cardinality stays flat.
func normalizePath(path string) string {
	return idSegment.ReplaceAllString(path, "/{id}")
}
