// Package memory is an in-process store with the same claim and commit
// semantics as the postgres store. It backs tests and single-node runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/retrieval"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
)

type jobRow struct {
	job      media.ProcessingJob
	progress int
}

type docRow struct {
	doc       media.Document
	deletedAt *time.Time
}

// Store keeps everything behind one mutex, which plays the role of the
// database's row locks.
type Store struct {
	mu     sync.Mutex
	docs   map[string]*docRow
	jobs   map[string]*jobRow
	order  []string
	chunks map[string][]media.Chunk
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		docs:   make(map[string]*docRow),
		jobs:   make(map[string]*jobRow),
		chunks: make(map[string][]media.Chunk),
	}
}

func (s *Store) CreateDocument(_ context.Context, doc media.Document, job media.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeJobLocked(doc.ID) != nil {
		return store.ActiveJobExists(doc.ID)
	}
	s.docs[doc.ID] = &docRow{doc: doc}
	s.insertJobLocked(job)
	return nil
}

func (s *Store) GetDocument(_ context.Context, id string) (media.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.docs[id]
	if !ok || row.deletedAt != nil {
		return media.Document{}, store.DocumentNotFound(id)
	}
	return row.doc, nil
}

func (s *Store) IsDeleted(_ context.Context, documentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.docs[documentID]
	return !ok || row.deletedAt != nil, nil
}

func (s *Store) DeleteDocument(_ context.Context, id string, now time.Time) (media.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.docs[id]
	if !ok || row.deletedAt != nil {
		return media.Document{}, store.DocumentNotFound(id)
	}
	row.deletedAt = &now
	delete(s.chunks, id)
	if j := s.activeJobLocked(id); j != nil && j.job.Status() == media.JobQueued {
		j.job.State = media.Failed{Error: store.DeletedMessage}
		j.job.CompletedAt = &now
	}
	return row.doc, nil
}

func (s *Store) Reprocess(_ context.Context, job media.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.docs[job.DocumentID]
	if !ok || row.deletedAt != nil {
		return store.DocumentNotFound(job.DocumentID)
	}
	if s.activeJobLocked(job.DocumentID) != nil {
		return store.ActiveJobExists(job.DocumentID)
	}
	if latest := s.latestJobLocked(job.DocumentID); latest != nil && latest.job.Status() != media.JobFailed {
		return store.NotReprocessable(job.DocumentID, latest.job.Status())
	}
	s.insertJobLocked(job)
	return nil
}

func (s *Store) latestJobLocked(documentID string) *jobRow {
	for i := len(s.order) - 1; i >= 0; i-- {
		if row := s.jobs[s.order[i]]; row.job.DocumentID == documentID {
			return row
		}
	}
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (media.JobView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[id]
	if !ok {
		return media.JobView{}, store.JobNotFound(id)
	}
	return row.job.View(row.progress), nil
}

func (s *Store) ClaimJob(_ context.Context, jobID string, now time.Time) (media.ProcessingJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return media.ProcessingJob{}, false, store.JobNotFound(jobID)
	}
	if row.job.Status() != media.JobQueued {
		return media.ProcessingJob{}, false, nil
	}
	return s.claimLocked(row, now), true, nil
}

func (s *Store) ClaimNext(_ context.Context, now time.Time) (media.ProcessingJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if row := s.jobs[id]; row.job.Status() == media.JobQueued {
			return s.claimLocked(row, now), true, nil
		}
	}
	return media.ProcessingJob{}, false, nil
}

func (s *Store) UpdateProgress(_ context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok || row.job.Status() != media.JobProcessing {
		return store.NotProcessing(jobID)
	}
	if progress < 0 || progress > 100 {
		return apperrors.Wrap(apperrors.ErrValidation, "progress %d out of range", progress)
	}
	row.progress = progress
	row.job.State = media.Processing{Progress: progress}
	return nil
}

func (s *Store) SaveTranscription(_ context.Context, documentID, text string, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.docs[documentID]
	if !ok || row.deletedAt != nil {
		return store.Deleted(documentID)
	}
	row.doc.TranscriptionText = &text
	row.doc.TranscriptionCost = &cost
	return nil
}

func (s *Store) CommitChunks(_ context.Context, jobID, documentID string, chunks []media.Chunk, stats media.JobStats, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.job.Status() != media.JobProcessing {
		return store.NotProcessing(jobID)
	}
	doc, ok := s.docs[documentID]
	if !ok || doc.deletedAt != nil {
		return store.Deleted(documentID)
	}
	s.chunks[documentID] = append([]media.Chunk(nil), chunks...)
	doc.doc.Status = media.DocumentReady
	doc.doc.UpdatedAt = now
	job.job.State = media.Completed{Stats: stats}
	job.job.CompletedAt = &now
	job.progress = 100
	return nil
}

func (s *Store) FailJob(_ context.Context, jobID, message string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok || row.job.Status() != media.JobProcessing {
		return store.NotProcessing(jobID)
	}
	s.failLocked(row, message, now)
	return nil
}

func (s *Store) ReapStale(_ context.Context, startedBefore, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.jobs {
		if row.job.Status() == media.JobProcessing && row.job.StartedAt != nil && row.job.StartedAt.Before(startedBefore) {
			s.failLocked(row, store.LostMessage, now)
			n++
		}
	}
	return n, nil
}

func (s *Store) QueueDepth(_ context.Context) (media.QueueDepth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d media.QueueDepth
	for _, row := range s.jobs {
		switch row.job.Status() {
		case media.JobQueued:
			d.Queued++
		case media.JobProcessing:
			d.Processing++
		}
	}
	d.Total = d.Queued + d.Processing
	return d, nil
}

// SearchChunks scans the chunks of ownerID's ready documents.
func (s *Store) SearchChunks(_ context.Context, query []float32, ownerID, scopeID string, threshold float64, limit int) ([]media.ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []media.ScoredChunk
	for docID, chunks := range s.chunks {
		doc := s.docs[docID]
		if doc == nil || doc.deletedAt != nil || doc.doc.Status != media.DocumentReady || doc.doc.OwnerID != ownerID {
			continue
		}
		for _, c := range chunks {
			if scopeID != "" && c.ScopeID != scopeID {
				continue
			}
			if len(c.Embedding) != len(query) {
				continue
			}
			if sim := retrieval.Cosine(query, c.Embedding); sim >= threshold {
				out = append(out, media.ScoredChunk{Chunk: c, Similarity: sim})
			}
		}
	}
	return retrieval.Rank(out, threshold, limit), nil
}

// Chunks returns the committed chunks of a document in index order.
func (s *Store) Chunks(documentID string) []media.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]media.Chunk(nil), s.chunks[documentID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Document returns a document even if it was deleted.
func (s *Store) Document(id string) (media.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.docs[id]
	if !ok {
		return media.Document{}, false
	}
	return row.doc, true
}

func (s *Store) insertJobLocked(job media.ProcessingJob) {
	if job.State == nil {
		job.State = media.Queued{}
	}
	s.jobs[job.ID] = &jobRow{job: job}
	s.order = append(s.order, job.ID)
}

func (s *Store) activeJobLocked(documentID string) *jobRow {
	for _, row := range s.jobs {
		if row.job.DocumentID == documentID && !row.job.Status().Terminal() {
			return row
		}
	}
	return nil
}

func (s *Store) claimLocked(row *jobRow, now time.Time) media.ProcessingJob {
	row.job.State = media.Processing{}
	row.job.StartedAt = &now
	row.progress = 0
	if doc := s.docs[row.job.DocumentID]; doc != nil {
		doc.doc.Status = media.DocumentProcessing
		doc.doc.UpdatedAt = now
	}
	return row.job
}

func (s *Store) failLocked(row *jobRow, message string, now time.Time) {
	row.job.State = media.Failed{Error: message}
	row.job.CompletedAt = &now
	if doc := s.docs[row.job.DocumentID]; doc != nil && doc.deletedAt == nil {
		doc.doc.Status = store.FailedDocumentStatus(doc.doc.MediaType)
		doc.doc.UpdatedAt = now
	}
}
