package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval = 5 * time.Second
	minReapInterval     = time.Minute
	hintBuffer          = 64
)

// Runner keeps Slots pipelines busy. Each slot drains the queue on every
// poll tick or hint; hints only shorten the wait, the sweep alone is
// enough to make progress.
type Runner struct {
	worker *Worker
	slots  int
	poll   time.Duration
	reap   time.Duration
	hints  chan string
	logger *slog.Logger
}

func NewRunner(w *Worker, cfg config.WorkerConfig) *Runner {
	slots := max(cfg.Slots, 1)
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Runner{
		worker: w,
		slots:  slots,
		poll:   poll,
		reap:   max(cfg.StaleAfter/4, minReapInterval),
		hints:  make(chan string, hintBuffer),
		logger: logger.WithComponent("worker-runner"),
	}
}

// Hint wakes one idle slot. An empty jobID asks for a sweep. Hints are
// dropped when every slot is already busy.
func (r *Runner) Hint(jobID string) {
	select {
	case r.hints <- jobID:
	default:
		r.logger.Debug("hint dropped, slots busy", "job_id", jobID)
	}
}

// Run blocks until ctx is cancelled. A job in flight at cancellation is
// marked failed by the worker; the reaper in another process covers a
// crash.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("worker runner starting", "slots", r.slots, "poll_interval", r.poll)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.slots; i++ {
		slot := i
		g.Go(func() error {
			r.slotLoop(ctx, slot)
			return nil
		})
	}
	g.Go(func() error {
		r.reapLoop(ctx)
		return nil
	})
	err := g.Wait()
	r.logger.Info("worker runner stopped")
	return err
}

func (r *Runner) slotLoop(ctx context.Context, slot int) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	r.drain(ctx, slot)
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-r.hints:
			if jobID != "" {
				if _, err := r.worker.ProcessJob(ctx, jobID); err != nil {
					r.logger.Warn("processing hinted job", "slot", slot, "job_id", jobID, "error", err)
				}
			}
			r.drain(ctx, slot)
		case <-ticker.C:
			r.drain(ctx, slot)
		}
	}
}

// drain claims jobs until the queue is empty or ctx ends.
func (r *Runner) drain(ctx context.Context, slot int) {
	for ctx.Err() == nil {
		claimed, err := r.worker.ProcessNext(ctx)
		if err != nil {
			r.logger.Error("claiming next job", "slot", slot, "error", err)
			return
		}
		if !claimed {
			return
		}
	}
}

func (r *Runner) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(r.reap)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.worker.Reap(ctx); err != nil {
				r.logger.Error("reaping stale jobs", "error", err)
			}
		}
	}
}
