// Package ingest accepts uploads: it validates them, stores the raw bytes,
// and records a Document with a queued ProcessingJob.
package ingest

import (
	"io"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
)

// Upload is one file submitted for ingestion.
type Upload struct {
	OwnerID     string
	ScopeID     string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Accepted is returned to the caller once the job is queued.
type Accepted struct {
	DocumentID string `json:"documentId"`
	JobID      string `json:"jobId"`
}

// JobQueuedEvent is the Kafka payload telling workers a job is waiting. It
// is a latency hint only; the sweep finds the job regardless.
type JobQueuedEvent struct {
	JobID      string     `json:"jobId"`
	DocumentID string     `json:"documentId"`
	OwnerID    string     `json:"ownerId"`
	MediaType  media.Type `json:"mediaType"`
	QueuedAt   time.Time  `json:"queuedAt"`
}
