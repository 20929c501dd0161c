//go:build e2e

// End-to-end tests against a running api and worker with real PostgreSQL,
// MinIO, Redis and an OpenAI-compatible endpoint.
//
// Run with:
//
//	go test -v -tags=e2e -timeout=300s ./cmd/api/...
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type e2eConfig struct {
	APIURL    string
	WorkerURL string
	UserID    string
}

func loadE2EConfig() e2eConfig {
	return e2eConfig{
		APIURL:    envOrDefault("E2E_API_URL", "http://localhost:8080"),
		WorkerURL: envOrDefault("E2E_WORKER_URL", "http://localhost:8081"),
		UserID:    envOrDefault("E2E_USER_ID", fmt.Sprintf("e2e-%d", time.Now().UnixNano())),
	}
}

func TestPlatformHealth(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}

	for _, url := range []string{
		cfg.APIURL + "/health/live",
		cfg.APIURL + "/health/ready",
		cfg.WorkerURL + "/health/live",
		cfg.WorkerURL + "/health/ready",
	} {
		t.Run(url, func(t *testing.T) {
			resp, err := client.Get(url)
			if err != nil {
				t.Skipf("service unavailable: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		})
	}
}

// TestUploadProcessQuery uploads a text document, waits for its job to
// complete and asks a question scoped to it.
func TestUploadProcessQuery(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 2 * time.Minute}
	if _, err := client.Get(cfg.APIURL + "/health/live"); err != nil {
		t.Skipf("api service unavailable: %v", err)
	}

	scope := fmt.Sprintf("e2e-scope-%d", time.Now().UnixNano())
	marker := fmt.Sprintf("zephyrine%d", time.Now().UnixNano()%100000)
	text := fmt.Sprintf("The project codename is %s. It ships on the first Monday of March.", marker)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("scopeId", scope))
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest(http.MethodPost, cfg.APIURL+"/api/v1/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", cfg.UserID)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted struct {
		DocumentID string `json:"documentId"`
		JobID      string `json:"jobId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	t.Logf("uploaded document=%s job=%s", accepted.DocumentID, accepted.JobID)

	var status string
	for attempt := 0; attempt < 60; attempt++ {
		time.Sleep(time.Second)
		var job struct {
			Status   string `json:"status"`
			Progress int    `json:"progress"`
			Error    string `json:"error"`
		}
		if err := getJSON(client, cfg, "/api/v1/jobs/"+accepted.JobID, &job); err != nil {
			t.Logf("attempt %d: %v", attempt, err)
			continue
		}
		status = job.Status
		if status == "completed" || status == "failed" {
			require.Equal(t, "completed", status, job.Error)
			break
		}
	}
	if status != "completed" {
		t.Fatalf("job did not complete within 60s (last status %q)", status)
	}

	payload, _ := json.Marshal(map[string]any{"question": "What is the project codename?", "scopeId": scope})
	qreq, _ := http.NewRequest(http.MethodPost, cfg.APIURL+"/api/v1/query", bytes.NewReader(payload))
	qreq.Header.Set("Content-Type", "application/json")
	qreq.Header.Set("X-User-ID", cfg.UserID)
	qresp, err := client.Do(qreq)
	require.NoError(t, err)
	defer qresp.Body.Close()
	require.Equal(t, http.StatusOK, qresp.StatusCode)

	var answer struct {
		Answer  string `json:"answer"`
		Sources []struct {
			DocumentID string `json:"documentId"`
		} `json:"sources"`
	}
	require.NoError(t, json.NewDecoder(qresp.Body).Decode(&answer))
	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, accepted.DocumentID, answer.Sources[0].DocumentID)
	t.Logf("answer: %s", answer.Answer)
}

func TestWorkerStatus(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(cfg.WorkerURL + "/api/v1/worker/status")
	if err != nil {
		t.Skipf("worker service unavailable: %v", err)
	}
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "online", status["status"])
	assert.Contains(t, status, "queue")
}

func getJSON(client *http.Client, cfg e2eConfig, path string, v any) error {
	req, _ := http.NewRequest(http.MethodGet, cfg.APIURL+path, nil)
	req.Header.Set("X-User-ID", cfg.UserID)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
