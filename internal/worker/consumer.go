package worker

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
)

// HintConsumer feeds job-queued events from Kafka into a Runner.
type HintConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// NewHintConsumer wraps a consumer built with HandleHints.
func NewHintConsumer(kafkaConsumer *kafka.Consumer) *HintConsumer {
	return &HintConsumer{
		consumer: kafkaConsumer,
		logger:   logger.WithComponent("hint-consumer"),
	}
}

// Start blocks until ctx is cancelled.
func (hc *HintConsumer) Start(ctx context.Context) error {
	hc.logger.Info("hint consumer starting")
	return hc.consumer.Start(ctx)
}

// HandleHints returns a MessageHandler that passes each event's job id to
// r. Undecodable messages are skipped; the sweep still finds their jobs.
func HandleHints(r *Runner) kafka.MessageHandler {
	log := logger.WithComponent("hint-consumer")
	return func(_ context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingest.JobQueuedEvent](value)
		if err != nil {
			log.Warn("failed to decode job hint", "error", err, "key", string(key))
			r.Hint("")
			return nil
		}
		log.Debug("job hint received", "job_id", event.JobID, "document_id", event.DocumentID)
		r.Hint(event.JobID)
		return nil
	}
}
