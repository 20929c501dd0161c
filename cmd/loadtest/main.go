// Command loadtest drives POST /api/v1/query with concurrent callers and
// reports latency percentiles, throttling and per-status counts.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -users 5 -concurrency 20 -duration 30s
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type options struct {
	baseURL     string
	scopeID     string
	users       int
	concurrency int
	duration    time.Duration
	questions   []string
}

type results struct {
	total     atomic.Int64
	ok        atomic.Int64
	throttled atomic.Int64
	failed    atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func (r *results) record(d time.Duration, code int, err error) {
	r.total.Add(1)
	switch {
	case err != nil:
		r.failed.Add(1)
		return
	case code == http.StatusTooManyRequests:
		r.throttled.Add(1)
	case code >= 200 && code < 300:
		r.ok.Add(1)
	default:
		r.failed.Add(1)
	}
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	r.codes[code]++
	r.mu.Unlock()
}

func main() {
	opts := options{
		questions: []string{
			"What are the main topics covered in the lecture?",
			"Summarize the key points of the uploaded document.",
			"What does the speaker say about deadlines?",
			"Which diagram shows the system architecture?",
			"List the action items from the meeting recording.",
			"How is the grading policy described?",
			"What examples are given for gradient descent?",
			"Who is mentioned as the project owner?",
		},
	}
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "base URL of the api service")
	flag.StringVar(&opts.scopeID, "scope", "", "knowledge-base scope to query")
	flag.IntVar(&opts.users, "users", 5, "number of distinct X-User-ID values")
	flag.IntVar(&opts.concurrency, "concurrency", 10, "number of concurrent callers")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "test duration")
	flag.Parse()

	if opts.users < 1 || opts.concurrency < 1 {
		fmt.Fprintln(os.Stderr, "users and concurrency must be positive")
		os.Exit(2)
	}

	fmt.Println("=== RAG Query Load Test ===")
	fmt.Printf("Target:      %s\n", opts.baseURL)
	fmt.Printf("Users:       %d\n", opts.users)
	fmt.Printf("Concurrency: %d\n", opts.concurrency)
	fmt.Printf("Duration:    %s\n", opts.duration)
	fmt.Println()

	res := run(opts)
	if !report(os.Stdout, res, opts.duration) {
		os.Exit(1)
	}
}

func run(opts options) *results {
	res := &results{codes: make(map[int]int64)}
	client := &http.Client{
		Timeout: 2 * time.Minute,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency * 2,
			MaxIdleConnsPerHost: opts.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.duration)
	defer cancel()

	var wg sync.WaitGroup
	for c := 0; c < opts.concurrency; c++ {
		wg.Add(1)
		go func(caller int) {
			defer wg.Done()
			user := fmt.Sprintf("loadtest-user-%d", caller%opts.users)
			for i := caller; ctx.Err() == nil; i++ {
				question := opts.questions[i%len(opts.questions)]
				start := time.Now()
				code, err := query(ctx, client, opts, user, question)
				if ctx.Err() != nil {
					return
				}
				res.record(time.Since(start), code, err)
			}
		}(c)
	}
	wg.Wait()
	return res
}

func query(ctx context.Context, client *http.Client, opts options, user, question string) (int, error) {
	body, err := json.Marshal(map[string]string{"question": question, "scopeId": opts.scopeID})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.baseURL+"/api/v1/query", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", user)

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// report prints the summary and returns false when no request completed.
func report(w io.Writer, res *results, duration time.Duration) bool {
	total := res.total.Load()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Answered:        %d\n", res.ok.Load())
	fmt.Fprintf(w, "Rate Limited:    %d\n", res.throttled.Load())
	fmt.Fprintf(w, "Failed:          %d\n", res.failed.Load())
	if total > 0 {
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	res.mu.Lock()
	latencies := slices.Clone(res.latencies)
	codes := make(map[int]int64, len(res.codes))
	for k, v := range res.codes {
		codes[k] = v
	}
	res.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(w, "P90:    %s\n", percentile(latencies, 90))
		fmt.Fprintf(w, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	keys := make([]int, 0, len(codes))
	for k := range codes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %d: %d\n", k, codes[k])
	}

	if total == 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WARNING: No requests completed. Is the api service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
