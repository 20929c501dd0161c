package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribeSendsMultipartAndParsesDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "talk.mp3", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "fake-audio", string(data))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"hello there","language":"english","duration":90.5}`)
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL+"/v1/", "sk-test", "whisper-1", srv.Client())
	out, err := tr.Transcribe(context.Background(), strings.NewReader("fake-audio"), "talk.mp3")
	require.NoError(t, err)
	assert.Equal(t, "hello there", out.Text)
	assert.Equal(t, 90.5, out.DurationSeconds)
	assert.Equal(t, "whisper-1", out.Model)
}

func TestTranscribeClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"file too large"}`, http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL, "k", "whisper-1", srv.Client())
	_, err := tr.Transcribe(context.Background(), strings.NewReader("x"), "a.mp3")
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}

func TestTranscribeServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL, "k", "whisper-1", srv.Client())
	_, err := tr.Transcribe(context.Background(), strings.NewReader("x"), "a.mp3")
	require.Error(t, err)
	assert.False(t, resilience.IsPermanent(err))
}

func TestInfoInt(t *testing.T) {
	info := map[string]any{"PromptTokens": 12, "CompletionTokens": float64(7), "Other": "x"}
	assert.Equal(t, 12, infoInt(info, "PromptTokens"))
	assert.Equal(t, 7, infoInt(info, "CompletionTokens"))
	assert.Equal(t, 0, infoInt(info, "Other"))
	assert.Equal(t, 0, infoInt(nil, "PromptTokens"))
}
