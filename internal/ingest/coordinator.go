package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/objectstore"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	"github.com/google/uuid"
)

// DocumentStore records a document and its first job atomically.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc media.Document, job media.ProcessingJob) error
}

// QuotaChecker blocks uploads from users already over quota.
type QuotaChecker interface {
	Check(ctx context.Context, userID string) error
}

// Hinter tells workers a job is waiting.
type Hinter interface {
	JobQueued(ctx context.Context, ev JobQueuedEvent) error
}

// Coordinator implements the upload path.
type Coordinator struct {
	store   DocumentStore
	objects objectstore.Store
	quota   QuotaChecker
	hinter  Hinter
	limits  Limits
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewCoordinator creates a Coordinator. hinter may be nil.
func NewCoordinator(s DocumentStore, objects objectstore.Store, quota QuotaChecker, hinter Hinter, limits Limits, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		store:   s,
		objects: objects,
		quota:   quota,
		hinter:  hinter,
		limits:  limits,
		metrics: m,
		logger:  logger.WithComponent("ingest-coordinator"),
		now:     time.Now,
	}
}

// Ingest validates up, checks quota before any write, stores the bytes and
// then the document and job. If the database write fails the stored object
// is removed.
func (c *Coordinator) Ingest(ctx context.Context, up Upload) (Accepted, error) {
	t, err := ValidateUpload(up, c.limits)
	if err != nil {
		c.metrics.UploadsTotal.WithLabelValues("unknown", "rejected").Inc()
		return Accepted{}, err
	}
	if err := c.quota.Check(ctx, up.OwnerID); err != nil {
		c.metrics.UploadsTotal.WithLabelValues(string(t), "rejected").Inc()
		return Accepted{}, err
	}

	key := objectstore.Key(up.OwnerID, t, up.FileName)
	body := up.Body
	if limit := c.limits[t]; limit > 0 {
		body = &limitedReader{r: io.LimitReader(up.Body, limit+1), limit: limit}
	}
	if err := c.objects.Put(ctx, key, body, up.Size, up.ContentType); err != nil {
		c.metrics.UploadsTotal.WithLabelValues(string(t), "error").Inc()
		if apperrors.HTTPStatusCode(err) == 413 {
			return Accepted{}, err
		}
		return Accepted{}, apperrors.Wrap(apperrors.ErrPersistenceFailed, "storing upload: %v", err)
	}

	now := c.now().UTC()
	doc := media.Document{
		ID:          uuid.NewString(),
		OwnerID:     up.OwnerID,
		ScopeID:     up.ScopeID,
		MediaType:   t,
		ContentType: up.ContentType,
		FileName:    up.FileName,
		SizeBytes:   up.Size,
		StoragePath: key,
		Status:      media.DocumentUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	job := media.ProcessingJob{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		OwnerID:    up.OwnerID,
		State:      media.Queued{},
		CreatedAt:  now,
	}
	if err := c.store.CreateDocument(ctx, doc, job); err != nil {
		c.metrics.UploadsTotal.WithLabelValues(string(t), "error").Inc()
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if delErr := c.objects.Delete(cleanupCtx, key); delErr != nil {
			c.logger.Error("orphaned upload after failed insert", "key", key, "error", delErr)
		}
		return Accepted{}, fmt.Errorf("recording upload: %w", err)
	}
	c.metrics.UploadsTotal.WithLabelValues(string(t), "accepted").Inc()

	if c.hinter != nil {
		ev := JobQueuedEvent{JobID: job.ID, DocumentID: doc.ID, OwnerID: doc.OwnerID, MediaType: t, QueuedAt: now}
		if err := c.hinter.JobQueued(ctx, ev); err != nil {
			c.logger.Warn("job hint not delivered, sweep will pick it up",
				"job_id", job.ID,
				"error", err,
			)
		}
	}
	c.logger.Info("upload accepted",
		"document_id", doc.ID,
		"job_id", job.ID,
		"media_type", t,
		"size_bytes", up.Size,
		"owner_id", up.OwnerID,
	)
	return Accepted{DocumentID: doc.ID, JobID: job.ID}, nil
}

// limitedReader fails once more than limit bytes have been read, catching
// bodies larger than their declared size.
type limitedReader struct {
	r     io.Reader
	n     int64
	limit int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.limit {
		return n, apperrors.Newf(apperrors.ErrFileTooLarge, 413, "upload exceeds %d MB", l.limit>>20)
	}
	return n, err
}

// KafkaHinter publishes JobQueuedEvent keyed by document id.
type KafkaHinter struct {
	producer *kafka.Producer
	timeout  time.Duration
}

// NewKafkaHinter wraps producer. Each publish is bounded by timeout.
func NewKafkaHinter(producer *kafka.Producer, timeout time.Duration) *KafkaHinter {
	return &KafkaHinter{producer: producer, timeout: timeout}
}

func (h *KafkaHinter) JobQueued(ctx context.Context, ev JobQueuedEvent) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.producer.Publish(ctx, kafka.Event{Key: ev.DocumentID, Value: ev})
}
