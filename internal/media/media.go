// Package media defines the documents, processing jobs and chunks that flow
// through the ingestion pipeline.
package media

import (
	"mime"
	"strings"
	"time"
)

// Type is the coarse media category that selects an extraction strategy.
type Type string

const (
	TypeDocument Type = "document"
	TypeAudio    Type = "audio"
	TypeVideo    Type = "video"
	TypeImage    Type = "image"
)

// Transcribed reports whether documents of this type carry a transcription
// produced by a paid external service.
func (t Type) Transcribed() bool {
	return t == TypeAudio || t == TypeVideo || t == TypeImage
}

var contentTypes = map[string]Type{
	"text/plain":      TypeDocument,
	"text/markdown":   TypeDocument,
	"text/csv":        TypeDocument,
	"audio/mpeg":      TypeAudio,
	"audio/mp3":       TypeAudio,
	"audio/wav":       TypeAudio,
	"audio/x-wav":     TypeAudio,
	"audio/mp4":       TypeAudio,
	"audio/x-m4a":     TypeAudio,
	"audio/m4a":       TypeAudio,
	"audio/ogg":       TypeAudio,
	"audio/webm":      TypeAudio,
	"audio/aac":       TypeAudio,
	"audio/x-aac":     TypeAudio,
	"video/mp4":       TypeVideo,
	"video/quicktime": TypeVideo,
	"video/x-msvideo": TypeVideo,
	"video/webm":      TypeVideo,
	"image/jpeg":      TypeImage,
	"image/png":       TypeImage,
	"image/gif":       TypeImage,
	"image/webp":      TypeImage,
}

// TypeForContentType maps a declared MIME type, parameters allowed, to a
// supported media type.
func TypeForContentType(contentType string) (Type, bool) {
	base, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		base = strings.ToLower(strings.TrimSpace(contentType))
	}
	t, ok := contentTypes[base]
	return t, ok
}

// DocumentStatus is the lifecycle of an uploaded document.
type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "uploaded"
	DocumentProcessing DocumentStatus = "processing"
	DocumentReady      DocumentStatus = "ready"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is an uploaded media file and what has been derived from it.
type Document struct {
	ID                string         `json:"id"`
	OwnerID           string         `json:"ownerId"`
	ScopeID           string         `json:"scopeId,omitempty"`
	MediaType         Type           `json:"mediaType"`
	ContentType       string         `json:"contentType"`
	FileName          string         `json:"fileName"`
	SizeBytes         int64          `json:"sizeBytes"`
	StoragePath       string         `json:"storagePath"`
	Status            DocumentStatus `json:"status"`
	TranscriptionText *string        `json:"transcriptionText,omitempty"`
	TranscriptionCost *float64       `json:"transcriptionCost,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Chunk is a persisted, embedded segment of a document's text.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	ScopeID    string    `json:"scopeId,omitempty"`
	Index      int       `json:"chunkIndex"`
	Text       string    `json:"text"`
	TokenCount int       `json:"tokenCount"`
	Embedding  []float32 `json:"-"`
}

// ScoredChunk is a chunk returned by similarity search.
type ScoredChunk struct {
	Chunk
	Similarity float64 `json:"similarity"`
}
