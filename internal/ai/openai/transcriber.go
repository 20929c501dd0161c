package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/resilience"
)

// Transcriber calls the /audio/transcriptions endpoint and implements
// extract.Transcriber.
type Transcriber struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewTranscriber creates a speech-to-text client.
func NewTranscriber(baseURL, apiKey, model string, client *http.Client) *Transcriber {
	if client == nil {
		client = http.DefaultClient
	}
	return &Transcriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  client,
	}
}

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// Transcribe uploads audio and returns the text plus the duration the
// provider reports, which is what it bills on.
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, fileName string) (extract.Transcription, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return extract.Transcription{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return extract.Transcription{}, fmt.Errorf("buffering audio: %w", err)
	}
	for k, v := range map[string]string{
		"model":           t.model,
		"response_format": "verbose_json",
		"temperature":     "0",
	} {
		if err := mw.WriteField(k, v); err != nil {
			return extract.Transcription{}, fmt.Errorf("writing field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return extract.Transcription{}, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return extract.Transcription{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return extract.Transcription{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("transcription failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		// Client errors other than throttling will fail the same way again.
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return extract.Transcription{}, resilience.Permanent(err)
		}
		return extract.Transcription{}, err
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return extract.Transcription{}, fmt.Errorf("decoding transcription: %w", err)
	}
	return extract.Transcription{
		Text:            out.Text,
		Language:        out.Language,
		DurationSeconds: out.Duration,
		Model:           t.model,
	}, nil
}
