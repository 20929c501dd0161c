// Package store persists documents, processing jobs and chunks. Job claims
// and the one-active-job-per-document rule are enforced by the backing
// store, never by in-process locks shared between workers.
package store

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
)

// DeletedMessage is the failure recorded on jobs whose document was deleted.
const DeletedMessage = "document deleted"

// LostMessage is the failure recorded on jobs reaped after a worker died.
const LostMessage = "worker lost: job exceeded processing deadline"

// Store is implemented by the postgres and memory packages.
type Store interface {
	CreateDocument(ctx context.Context, doc media.Document, job media.ProcessingJob) error
	GetDocument(ctx context.Context, id string) (media.Document, error)
	IsDeleted(ctx context.Context, documentID string) (bool, error)
	DeleteDocument(ctx context.Context, id string, now time.Time) (media.Document, error)
	Reprocess(ctx context.Context, job media.ProcessingJob) error

	GetJob(ctx context.Context, id string) (media.JobView, error)
	ClaimJob(ctx context.Context, jobID string, now time.Time) (media.ProcessingJob, bool, error)
	ClaimNext(ctx context.Context, now time.Time) (media.ProcessingJob, bool, error)
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	SaveTranscription(ctx context.Context, documentID, text string, cost float64) error
	CommitChunks(ctx context.Context, jobID, documentID string, chunks []media.Chunk, stats media.JobStats, now time.Time) error
	FailJob(ctx context.Context, jobID, message string, now time.Time) error
	ReapStale(ctx context.Context, startedBefore, now time.Time) (int, error)
	QueueDepth(ctx context.Context) (media.QueueDepth, error)

	SearchChunks(ctx context.Context, query []float32, ownerID, scopeID string, threshold float64, limit int) ([]media.ScoredChunk, error)
}

// FailedDocumentStatus is where a document lands when its job fails:
// transcription-bearing types are marked failed, text documents go back to
// uploaded.
func FailedDocumentStatus(t media.Type) media.DocumentStatus {
	if t.Transcribed() {
		return media.DocumentFailed
	}
	return media.DocumentUploaded
}

func DocumentNotFound(id string) error {
	return apperrors.Newf(apperrors.ErrNotFound, 404, "document %s not found", id)
}

func JobNotFound(id string) error {
	return apperrors.Newf(apperrors.ErrNotFound, 404, "job %s not found", id)
}

func ActiveJobExists(documentID string) error {
	return apperrors.Newf(apperrors.ErrConflict, 409, "document %s already has an active job", documentID)
}

// NotReprocessable is returned when the document's latest job did not fail.
func NotReprocessable(documentID string, latest media.JobStatus) error {
	return apperrors.Newf(apperrors.ErrConflict, 409,
		"document %s can only be reprocessed after a failed job (latest job is %s)", documentID, latest)
}

// NotProcessing is returned when a worker writes to a job it no longer owns.
func NotProcessing(jobID string) error {
	return apperrors.Newf(apperrors.ErrConflict, 409, "job %s is not processing", jobID)
}

func Deleted(documentID string) error {
	return apperrors.Newf(apperrors.ErrCancelled, 409, "%s: %s", DeletedMessage, documentID)
}
