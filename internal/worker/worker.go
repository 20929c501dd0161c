// Package worker drives claimed processing jobs through extraction,
// chunking, embedding and the final all-or-nothing chunk commit.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/chunker"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/tracing"
	"github.com/google/uuid"
)

// Progress checkpoints written at stage boundaries.
const (
	progressClaimed   = 0
	progressExtracted = 25
	progressChunked   = 50
	progressEmbedded  = 75
	progressPersist   = 90
)

// Store is the part of the job store the worker needs.
type Store interface {
	GetDocument(ctx context.Context, id string) (media.Document, error)
	IsDeleted(ctx context.Context, documentID string) (bool, error)
	ClaimJob(ctx context.Context, jobID string, now time.Time) (media.ProcessingJob, bool, error)
	ClaimNext(ctx context.Context, now time.Time) (media.ProcessingJob, bool, error)
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	SaveTranscription(ctx context.Context, documentID, text string, cost float64) error
	CommitChunks(ctx context.Context, jobID, documentID string, chunks []media.Chunk, stats media.JobStats, now time.Time) error
	FailJob(ctx context.Context, jobID, message string, now time.Time) error
	ReapStale(ctx context.Context, startedBefore, now time.Time) (int, error)
	QueueDepth(ctx context.Context) (media.QueueDepth, error)
}

type Extractor interface {
	Extract(ctx context.Context, in extract.Input) (extract.Result, error)
}

type Splitter interface {
	Split(text string) ([]chunker.Piece, error)
}

type Embedder interface {
	Generate(ctx context.Context, userID string, texts []string) (embedding.Result, error)
}

// Worker processes one claimed job at a time per call. Several Workers in
// different processes may share a store; claims keep them apart.
type Worker struct {
	store     Store
	objects   objectstore.Store
	extractor Extractor
	splitter  Splitter
	embedder  Embedder
	cfg       config.WorkerConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Worker.
func New(s Store, objects objectstore.Store, e Extractor, sp Splitter, emb Embedder, cfg config.WorkerConfig, m *metrics.Metrics) *Worker {
	return &Worker{
		store:     s,
		objects:   objects,
		extractor: e,
		splitter:  sp,
		embedder:  emb,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.WithComponent("worker"),
		now:       time.Now,
	}
}

// ProcessNext claims the oldest queued job and runs it. It reports false
// when nothing was queued.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, claimed, err := w.store.ClaimNext(ctx, w.now().UTC())
	if err != nil || !claimed {
		return false, err
	}
	w.run(ctx, job)
	return true, nil
}

// ProcessJob claims jobID and runs it. A job that is no longer queued is
// left alone and reported as not claimed.
func (w *Worker) ProcessJob(ctx context.Context, jobID string) (bool, error) {
	job, claimed, err := w.store.ClaimJob(ctx, jobID, w.now().UTC())
	if err != nil {
		return false, err
	}
	if !claimed {
		w.logger.Debug("job already claimed", "job_id", jobID)
		return false, nil
	}
	w.run(ctx, job)
	return true, nil
}

// Reap fails jobs that have been processing longer than StaleAfter.
func (w *Worker) Reap(ctx context.Context) (int, error) {
	if w.cfg.StaleAfter <= 0 {
		return 0, nil
	}
	now := w.now().UTC()
	n, err := w.store.ReapStale(ctx, now.Add(-w.cfg.StaleAfter), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.metrics.JobsTotal.WithLabelValues("unknown", string(media.JobFailed)).Add(float64(n))
		w.logger.Warn("reaped stale jobs", "count", n, "stale_after", w.cfg.StaleAfter)
	}
	return n, nil
}

// run owns job until it is completed or failed. Every exit path, panics
// included, leaves the job terminal.
func (w *Worker) run(ctx context.Context, job media.ProcessingJob) {
	log := logger.FromContext(ctx).With("job_id", job.ID, "document_id", job.DocumentID)
	start := w.now()
	mediaType := "unknown"
	ctx, span := tracing.Start(ctx, "job")
	span.Set("job_id", job.ID)

	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline panicked", "panic", p, "stack", string(debug.Stack()))
			err := apperrors.Wrap(apperrors.ErrInternal, "panic: %v", p)
			span.End(err)
			w.fail(ctx, log, job, mediaType, err)
		}
	}()

	stats, err := w.pipeline(ctx, log, job, &mediaType)
	span.Set("media_type", mediaType)
	span.End(err)
	if err != nil {
		w.fail(ctx, log, job, mediaType, err)
		return
	}
	w.metrics.JobsTotal.WithLabelValues(mediaType, string(media.JobCompleted)).Inc()
	w.metrics.ChunksPersisted.Add(float64(stats.ChunksCreated))
	log.Info("job completed",
		"chunks", stats.ChunksCreated,
		"cost", stats.ProcessingCost,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (w *Worker) pipeline(ctx context.Context, log *slog.Logger, job media.ProcessingJob, mediaType *string) (media.JobStats, error) {
	doc, err := w.store.GetDocument(ctx, job.DocumentID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return media.JobStats{}, store.Deleted(job.DocumentID)
	}
	if err != nil {
		return media.JobStats{}, err
	}
	*mediaType = string(doc.MediaType)
	w.checkpoint(ctx, log, job.ID, progressClaimed)

	var extracted extract.Result
	err = w.stage(ctx, "extract", doc.ID, func(ctx context.Context) error {
		var err error
		extracted, err = w.extractor.Extract(ctx, extract.Input{
			DocumentID:  doc.ID,
			OwnerID:     doc.OwnerID,
			MediaType:   doc.MediaType,
			FileName:    doc.FileName,
			ContentType: doc.ContentType,
			Open: func(ctx context.Context) (io.ReadCloser, error) {
				return w.objects.Open(ctx, doc.StoragePath)
			},
		})
		return err
	})
	if err != nil {
		return media.JobStats{}, err
	}
	if doc.MediaType.Transcribed() {
		if err := w.store.SaveTranscription(ctx, doc.ID, extracted.Text, extracted.Cost); err != nil {
			return media.JobStats{}, err
		}
	}
	w.checkpoint(ctx, log, job.ID, progressExtracted)

	var pieces []chunker.Piece
	err = w.stage(ctx, "chunk", doc.ID, func(context.Context) error {
		var err error
		pieces, err = w.splitter.Split(extracted.Text)
		return err
	})
	if err != nil {
		return media.JobStats{}, err
	}
	w.checkpoint(ctx, log, job.ID, progressChunked)

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	var embedded embedding.Result
	err = w.stage(ctx, "embed", doc.ID, func(ctx context.Context) error {
		var err error
		embedded, err = w.embedder.Generate(ctx, doc.OwnerID, texts)
		return err
	})
	if err != nil {
		return media.JobStats{}, err
	}
	if len(embedded.Vectors) != len(pieces) {
		return media.JobStats{}, apperrors.Wrap(apperrors.ErrEmbeddingFailed,
			"got %d vectors for %d chunks", len(embedded.Vectors), len(pieces))
	}
	w.checkpoint(ctx, log, job.ID, progressEmbedded)

	chunks := make([]media.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = media.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			ScopeID:    doc.ScopeID,
			Index:      p.Index,
			Text:       p.Text,
			TokenCount: p.TokenCount,
			Embedding:  embedded.Vectors[i].Values,
		}
	}
	stats := media.JobStats{
		ChunksCreated:       len(chunks),
		EmbeddingsGenerated: len(embedded.Vectors),
		ProcessingCost:      extracted.Cost + embedded.Cost,
	}
	w.checkpoint(ctx, log, job.ID, progressPersist)

	err = w.stage(ctx, "persist", doc.ID, func(ctx context.Context) error {
		return w.store.CommitChunks(ctx, job.ID, doc.ID, chunks, stats, w.now().UTC())
	})
	if err != nil {
		return media.JobStats{}, err
	}
	return stats, nil
}

// stage checks for deletion and shutdown before starting fn, then runs it
// under the stage timeout.
func (w *Worker) stage(ctx context.Context, name, documentID string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrCancelled, "worker stopping before %s: %v", name, err)
	}
	deleted, err := w.store.IsDeleted(ctx, documentID)
	if err != nil {
		return err
	}
	if deleted {
		return store.Deleted(documentID)
	}

	stageCtx := ctx
	if w.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, w.cfg.StageTimeout)
		defer cancel()
	}
	stageCtx, span := tracing.Start(stageCtx, name)
	defer func() { span.End(err) }()
	start := time.Now()
	err = fn(stageCtx)
	w.metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			err = apperrors.Wrap(apperrors.ErrTimeout, "%s exceeded %v", name, w.cfg.StageTimeout)
		}
	}
	return err
}

func (w *Worker) checkpoint(ctx context.Context, log *slog.Logger, jobID string, progress int) {
	if err := w.store.UpdateProgress(ctx, jobID, progress); err != nil {
		log.Debug("progress not recorded", "progress", progress, "error", err)
	}
}

// fail records err on the job. It uses a detached context so a cancelled
// run still leaves the job terminal.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, job media.ProcessingJob, mediaType string, err error) {
	msg := FailureMessage(err)
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if ferr := w.store.FailJob(failCtx, job.ID, msg, w.now().UTC()); ferr != nil {
		log.Error("recording job failure", "error", ferr, "failure", msg)
		return
	}
	w.metrics.JobsTotal.WithLabelValues(mediaType, string(media.JobFailed)).Inc()
	log.Warn("job failed", "kind", apperrors.Kind(err), "error", msg)
}

// FailureMessage is the text stored on a failed job: the taxonomy kind and
// the redacted error.
func FailureMessage(err error) string {
	return fmt.Sprintf("%s: %s", apperrors.Kind(err), logger.Redact(err.Error()))
}
