// Package postgres stores documents, jobs and chunks in PostgreSQL with
// chunk embeddings in a pgvector column.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/postgres"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

const activeJobIndex = "processing_jobs_one_active"

const documentColumns = `id, owner_id, COALESCE(scope_id, ''), media_type, content_type, file_name,
	size_bytes, storage_path, status, transcription_text, transcription_cost, created_at, updated_at`

const jobColumns = `id, document_id, owner_id, status, progress, error_message,
	chunks_created, embeddings_generated, processing_cost, created_at, started_at, completed_at`

// Store is safe for concurrent use by any number of processes.
type Store struct {
	db *postgres.Client
}

var _ store.Store = (*Store)(nil)

// New wraps an open client. The schema must already be migrated.
func New(db *postgres.Client) *Store {
	return &Store{db: db}
}

func persistence(op string, err error) error {
	return apperrors.Wrap(apperrors.ErrPersistenceFailed, "%s: %v", op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) CreateDocument(ctx context.Context, doc media.Document, job media.ProcessingJob) error {
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, owner_id, scope_id, media_type, content_type, file_name,
				size_bytes, storage_path, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
			doc.ID, doc.OwnerID, nullString(doc.ScopeID), doc.MediaType, doc.ContentType, doc.FileName,
			doc.SizeBytes, doc.StoragePath, doc.Status, doc.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting document: %w", err)
		}
		return insertJob(ctx, tx, job)
	})
	if postgres.IsUniqueViolation(err, activeJobIndex) {
		return store.ActiveJobExists(doc.ID)
	}
	if err != nil {
		return persistence("creating document", err)
	}
	return nil
}

func insertJob(ctx context.Context, tx *sql.Tx, job media.ProcessingJob) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO processing_jobs (id, document_id, owner_id, status, progress, created_at)
		VALUES ($1, $2, $3, 'queued', 0, $4)`,
		job.ID, job.DocumentID, job.OwnerID, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (media.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return media.Document{}, store.DocumentNotFound(id)
	}
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND deleted_at IS NULL`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return media.Document{}, store.DocumentNotFound(id)
	}
	if err != nil {
		return media.Document{}, persistence("reading document", err)
	}
	return doc, nil
}

func (s *Store) IsDeleted(ctx context.Context, documentID string) (bool, error) {
	var deleted bool
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT deleted_at IS NOT NULL FROM documents WHERE id = $1`, documentID).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, persistence("checking document", err)
	}
	return deleted, nil
}

// DeleteDocument soft-deletes the document, drops its chunks and fails a
// job that has not been claimed yet. A claimed job notices the deletion at
// its next stage boundary.
func (s *Store) DeleteDocument(ctx context.Context, id string, now time.Time) (media.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return media.Document{}, store.DocumentNotFound(id)
	}
	var doc media.Document
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE documents SET deleted_at = $2, updated_at = $2
			WHERE id = $1 AND deleted_at IS NULL
			RETURNING `+documentColumns, id, now)
		var err error
		if doc, err = scanDocument(row); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, id); err != nil {
			return fmt.Errorf("deleting chunks: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE processing_jobs SET status = 'failed', error_message = $2, completed_at = $3
			WHERE document_id = $1 AND status = 'queued'`, id, store.DeletedMessage, now)
		if err != nil {
			return fmt.Errorf("cancelling queued job: %w", err)
		}
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return media.Document{}, store.DocumentNotFound(id)
	}
	if err != nil {
		return media.Document{}, persistence("deleting document", err)
	}
	return doc, nil
}

func (s *Store) Reprocess(ctx context.Context, job media.ProcessingJob) error {
	if _, err := s.GetDocument(ctx, job.DocumentID); err != nil {
		return err
	}
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var latest media.JobStatus
		err := tx.QueryRowContext(ctx, `
			SELECT status FROM processing_jobs WHERE document_id = $1
			ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, job.DocumentID).Scan(&latest)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("reading latest job: %w", err)
		case !latest.Terminal():
			return store.ActiveJobExists(job.DocumentID)
		case latest != media.JobFailed:
			return store.NotReprocessable(job.DocumentID, latest)
		}
		return insertJob(ctx, tx, job)
	})
	if postgres.IsUniqueViolation(err, activeJobIndex) {
		return store.ActiveJobExists(job.DocumentID)
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if err != nil {
		return persistence("creating job", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (media.JobView, error) {
	if _, err := uuid.Parse(id); err != nil {
		return media.JobView{}, store.JobNotFound(id)
	}
	row := s.db.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id)
	job, progress, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return media.JobView{}, store.JobNotFound(id)
	}
	if err != nil {
		return media.JobView{}, persistence("reading job", err)
	}
	return job.View(progress), nil
}

// ClaimJob is the compare-and-swap queued -> processing. Exactly one caller
// sees claimed=true for a given job.
func (s *Store) ClaimJob(ctx context.Context, jobID string, now time.Time) (media.ProcessingJob, bool, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return media.ProcessingJob{}, false, store.JobNotFound(jobID)
	}
	return s.claim(ctx, `
		UPDATE processing_jobs SET status = 'processing', progress = 0, started_at = $2
		WHERE id = $1 AND status = 'queued'
		RETURNING `+jobColumns, jobID, now)
}

// ClaimNext claims the oldest queued job. SKIP LOCKED lets concurrent
// workers pass over a row another worker is claiming.
func (s *Store) ClaimNext(ctx context.Context, now time.Time) (media.ProcessingJob, bool, error) {
	return s.claim(ctx, `
		UPDATE processing_jobs SET status = 'processing', progress = 0, started_at = $1
		WHERE id = (
			SELECT id FROM processing_jobs WHERE status = 'queued'
			ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED
		) AND status = 'queued'
		RETURNING `+jobColumns, now)
}

func (s *Store) claim(ctx context.Context, query string, args ...any) (media.ProcessingJob, bool, error) {
	var job media.ProcessingJob
	claimed := false
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		job, _, err = scanJob(tx.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		claimed = true
		_, err = tx.ExecContext(ctx, `
			UPDATE documents SET status = 'processing', updated_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL`, job.DocumentID)
		return err
	})
	if err != nil {
		return media.ProcessingJob{}, false, persistence("claiming job", err)
	}
	return job, claimed, nil
}

func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	res, err := s.db.DB.ExecContext(ctx, `
		UPDATE processing_jobs SET progress = $2 WHERE id = $1 AND status = 'processing'`, jobID, progress)
	if postgres.IsCheckViolation(err) {
		return apperrors.Wrap(apperrors.ErrValidation, "progress %d out of range", progress)
	}
	if err != nil {
		return persistence("updating progress", err)
	}
	return requireRow(res, store.NotProcessing(jobID))
}

func (s *Store) SaveTranscription(ctx context.Context, documentID, text string, cost float64) error {
	res, err := s.db.DB.ExecContext(ctx, `
		UPDATE documents SET transcription_text = $2, transcription_cost = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, documentID, text, cost)
	if err != nil {
		return persistence("saving transcription", err)
	}
	return requireRow(res, store.Deleted(documentID))
}

// CommitChunks replaces the document's chunks and completes the job in one
// transaction, so a run either persists every chunk or none.
func (s *Store) CommitChunks(ctx context.Context, jobID, documentID string, chunks []media.Chunk, stats media.JobStats, now time.Time) error {
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE processing_jobs
			SET status = 'completed', progress = 100, completed_at = $2,
				chunks_created = $3, embeddings_generated = $4, processing_cost = $5
			WHERE id = $1 AND status = 'processing'`,
			jobID, now, stats.ChunksCreated, stats.EmbeddingsGenerated, stats.ProcessingCost)
		if err != nil {
			return fmt.Errorf("completing job: %w", err)
		}
		if err := requireRow(res, store.NotProcessing(jobID)); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx, `
			UPDATE documents SET status = 'ready', updated_at = $2
			WHERE id = $1 AND deleted_at IS NULL`, documentID, now)
		if err != nil {
			return fmt.Errorf("marking document ready: %w", err)
		}
		if err := requireRow(res, store.Deleted(documentID)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("clearing previous chunks: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO document_chunks (id, document_id, scope_id, chunk_index, content, token_count, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`)
		if err != nil {
			return fmt.Errorf("preparing chunk insert: %w", err)
		}
		defer stmt.Close()
		for _, c := range chunks {
			_, err := stmt.ExecContext(ctx, c.ID, documentID, nullString(c.ScopeID), c.Index, c.Text,
				c.TokenCount, pgvector.NewVector(c.Embedding))
			if err != nil {
				return fmt.Errorf("inserting chunk %d: %w", c.Index, err)
			}
		}
		return nil
	})
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if err != nil {
		return persistence("committing chunks", err)
	}
	return nil
}

// FailJob records message and moves the document to the status its media
// type falls back to.
func (s *Store) FailJob(ctx context.Context, jobID, message string, now time.Time) error {
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var documentID string
		err := tx.QueryRowContext(ctx, `
			UPDATE processing_jobs SET status = 'failed', error_message = $2, completed_at = $3
			WHERE id = $1 AND status = 'processing'
			RETURNING document_id`, jobID, message, now).Scan(&documentID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.NotProcessing(jobID)
		}
		if err != nil {
			return fmt.Errorf("failing job: %w", err)
		}
		return revertDocuments(ctx, tx, now, documentID)
	})
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if err != nil {
		return persistence("failing job", err)
	}
	return nil
}

func revertDocuments(ctx context.Context, tx *sql.Tx, now time.Time, documentIDs ...string) error {
	for _, id := range documentIDs {
		_, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET status = CASE WHEN media_type = 'document' THEN 'uploaded' ELSE 'failed' END, updated_at = $2
			WHERE id = $1 AND deleted_at IS NULL`, id, now)
		if err != nil {
			return fmt.Errorf("reverting document status: %w", err)
		}
	}
	return nil
}

// ReapStale fails jobs stuck in processing since before startedBefore.
func (s *Store) ReapStale(ctx context.Context, startedBefore, now time.Time) (int, error) {
	var reaped int
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			UPDATE processing_jobs SET status = 'failed', error_message = $2, completed_at = $3
			WHERE status = 'processing' AND started_at < $1
			RETURNING document_id`, startedBefore, store.LostMessage, now)
		if err != nil {
			return fmt.Errorf("reaping jobs: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scanning reaped job: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating reaped jobs: %w", err)
		}
		reaped = len(ids)
		return revertDocuments(ctx, tx, now, ids...)
	})
	if err != nil {
		return 0, persistence("reaping stale jobs", err)
	}
	return reaped, nil
}

func (s *Store) QueueDepth(ctx context.Context) (media.QueueDepth, error) {
	var d media.QueueDepth
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'queued'), COUNT(*) FILTER (WHERE status = 'processing')
		FROM processing_jobs WHERE status IN ('queued', 'processing')`).Scan(&d.Queued, &d.Processing)
	if err != nil {
		return media.QueueDepth{}, persistence("counting jobs", err)
	}
	d.Total = d.Queued + d.Processing
	return d, nil
}

// SearchChunks searches ownerID's ready documents. It orders by cosine
// distance and chunk index so the LIMIT keeps the same rows the retriever's
// ranking would.
func (s *Store) SearchChunks(ctx context.Context, query []float32, ownerID, scopeID string, threshold float64, limit int) ([]media.ScoredChunk, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT c.id, c.document_id, COALESCE(c.scope_id, ''), c.chunk_index, c.content, c.token_count,
			1 - (c.embedding <=> $1) AS similarity
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.deleted_at IS NULL AND d.status = 'ready' AND d.owner_id = $5
			AND ($2::text = '' OR c.scope_id = $2)
			AND 1 - (c.embedding <=> $1) >= $3
		ORDER BY c.embedding <=> $1, c.chunk_index
		LIMIT $4`,
		pgvector.NewVector(query), scopeID, threshold, limit, ownerID)
	if err != nil {
		return nil, persistence("searching chunks", err)
	}
	defer rows.Close()

	var out []media.ScoredChunk
	for rows.Next() {
		var c media.ScoredChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ScopeID, &c.Index, &c.Text, &c.TokenCount, &c.Similarity); err != nil {
			return nil, persistence("scanning chunk", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterating chunks", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (media.Document, error) {
	var d media.Document
	var text sql.NullString
	var cost sql.NullFloat64
	err := row.Scan(&d.ID, &d.OwnerID, &d.ScopeID, &d.MediaType, &d.ContentType, &d.FileName,
		&d.SizeBytes, &d.StoragePath, &d.Status, &text, &cost, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return media.Document{}, err
	}
	if text.Valid {
		d.TranscriptionText = &text.String
	}
	if cost.Valid {
		d.TranscriptionCost = &cost.Float64
	}
	return d, nil
}

func scanJob(row scanner) (media.ProcessingJob, int, error) {
	var (
		j        media.ProcessingJob
		status   string
		progress int
		errMsg   sql.NullString
		stats    media.JobStats
		started  sql.NullTime
		finished sql.NullTime
	)
	err := row.Scan(&j.ID, &j.DocumentID, &j.OwnerID, &status, &progress, &errMsg,
		&stats.ChunksCreated, &stats.EmbeddingsGenerated, &stats.ProcessingCost,
		&j.CreatedAt, &started, &finished)
	if err != nil {
		return media.ProcessingJob{}, 0, err
	}
	var msg *string
	if errMsg.Valid {
		msg = &errMsg.String
	}
	if j.State, err = media.StateFromColumns(status, progress, msg, stats); err != nil {
		return media.ProcessingJob{}, 0, fmt.Errorf("job %s: %w", j.ID, err)
	}
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if finished.Valid {
		j.CompletedAt = &finished.Time
	}
	return j, progress, nil
}

func requireRow(res sql.Result, otherwise error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistence("reading affected rows", err)
	}
	if n == 0 {
		return otherwise
	}
	return nil
}
