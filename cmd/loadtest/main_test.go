package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 99))
	assert.Equal(t, time.Duration(1), percentile(sorted, 0))
	assert.Equal(t, time.Duration(0), percentile(nil, 50))
}

func TestRunCountsThrottling(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-User-ID"))
		if calls.Add(1)%2 == 0 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"answer":"ok"}`))
	}))
	defer srv.Close()

	res := run(options{
		baseURL:     srv.URL,
		users:       2,
		concurrency: 2,
		duration:    200 * time.Millisecond,
		questions:   []string{"q1", "q2"},
	})

	require.Positive(t, res.total.Load())
	assert.Equal(t, res.total.Load(), res.ok.Load()+res.throttled.Load()+res.failed.Load())
	assert.Positive(t, res.ok.Load())

	var out bytes.Buffer
	assert.True(t, report(&out, res, 200*time.Millisecond))
	assert.Contains(t, out.String(), "200:")
}

func TestReportWithoutRequests(t *testing.T) {
	var out bytes.Buffer
	assert.False(t, report(&out, &results{codes: map[int]int64{}}, time.Second))
	assert.Contains(t, out.String(), "No requests completed")
}
