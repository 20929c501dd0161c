// Command worker runs the processing pipeline.
//
// The worker claims queued jobs from PostgreSQL, extracts text from the
// stored media, chunks and embeds it, and commits the chunks. Jobs are found
// by a periodic sweep; Kafka job-queued events and the trigger endpoint only
// wake the sweep early. A reaper fails jobs left in processing by a crash.
//
// Usage:
//
//	go run ./cmd/worker [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/ai/openai"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/chunker"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/pricing"
	pgstore "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/store/postgres"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/usage"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/worker"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/resilience"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting worker service",
		"port", cfg.Worker.Port,
		"slots", cfg.Worker.Slots,
		"kafka_enabled", cfg.Kafka.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	checker := health.NewChecker()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	checker.Register("postgres", health.Ping(db.Ping))
	st := pgstore.New(db)

	objects, err := objectstore.NewMinio(ctx, cfg.ObjectStore)
	if err != nil {
		slog.Error("failed to connect to object store", "error", err)
		os.Exit(1)
	}
	checker.Register("object_store", health.Ping(objects.Ping))

	prices := pricing.New(cfg.Pricing)
	ledger := usage.NewLedger(usage.NewPostgresStore(db, cfg.Quota), cfg.Quota, m)

	provider, err := openai.NewProvider(cfg.AI)
	if err != nil {
		slog.Error("failed to create ai provider", "error", err)
		os.Exit(1)
	}

	tok := chunker.NewTokenizer(cfg.Chunking.Encoding)
	splitter, err := chunker.New(tok, cfg.Chunking.TargetTokens, cfg.Chunking.OverlapTokens)
	if err != nil {
		slog.Error("invalid chunking config", "error", err)
		os.Exit(1)
	}
	generator, err := embedding.NewGenerator(provider.Embedder(), tok, prices, ledger, cfg.AI, m)
	if err != nil {
		slog.Error("failed to create embedding generator", "error", err)
		os.Exit(1)
	}
	defer generator.Close()

	extractors, err := newExtractors(cfg, provider, prices, ledger, m)
	if err != nil {
		slog.Error("failed to create extractors", "error", err)
		os.Exit(1)
	}

	w := worker.New(st, objects, extractors, splitter, generator, cfg.Worker, m)
	runner := worker.NewRunner(w, cfg.Worker)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Worker.Port),
		Handler:      worker.NewRouter(worker.NewHandler(runner, st), checker, m),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, nil)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	if cfg.Kafka.Enabled {
		consumer := worker.NewHintConsumer(kafka.NewConsumer(
			cfg.Kafka,
			cfg.Kafka.Topics.JobQueued,
			worker.HandleHints(runner),
			kafka.WithCommitOnError(),
		))
		g.Go(func() error { return consumer.Start(gctx) })
		slog.Info("consuming job hints from kafka",
			"topic", cfg.Kafka.Topics.JobQueued,
			"group", cfg.Kafka.ConsumerGroup,
		)
	}
	g.Go(func() error {
		slog.Info("worker service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if shutdownMetrics != nil {
			shutdownMetrics(shutdownCtx)
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("worker service error", "error", err)
		os.Exit(1)
	}
	slog.Info("worker service stopped")
}

// newExtractors builds one strategy per media type. Every paid call gets its
// own circuit breaker.
func newExtractors(cfg *config.Config, provider *openai.Provider, prices *pricing.Table, ledger *usage.Ledger, m *metrics.Metrics) (*extract.Registry, error) {
	for _, check := range []struct {
		service pricing.Service
		model   string
	}{
		{pricing.Transcription, cfg.AI.TranscriptionModel},
		{pricing.Vision, cfg.AI.VisionModel},
	} {
		if _, err := prices.Lookup(check.service, check.model); err != nil {
			return nil, err
		}
	}

	policy := func(name string) extract.PolicyConfig {
		return extract.PolicyConfig{
			Timeout:     cfg.AI.RequestTimeout,
			MaxAttempts: cfg.AI.MaxRetries,
			Breaker:     newBreaker(name, m),
		}
	}
	ffmpeg := extract.FFmpeg{
		Binary:     cfg.Media.FFmpegPath,
		Bitrate:    cfg.Media.AudioBitrate,
		SampleRate: cfg.Media.AudioSampleRate,
		ScratchDir: cfg.Media.TranscodeScratchDir,
	}
	audio := extract.NewAudio(provider.Transcriber(), ffmpeg, prices, ledger, extract.AudioConfig{
		Model:     cfg.AI.TranscriptionModel,
		MaxUpload: cfg.Media.MaxBytes["audio"],
		MaxInput:  cfg.Media.MaxExtractedAudio,
		Policy:    policy("transcription"),
	})
	return extract.NewRegistry(
		extract.NewText(cfg.Media.MaxBytes["document"]),
		audio,
		extract.NewVideo(audio, ffmpeg, cfg.Media.MaxBytes["video"]),
		extract.NewImage(provider.Describer(), prices, ledger, cfg.AI.VisionModel, cfg.Media.MaxBytes["image"], policy("vision")),
	), nil
}

func newBreaker(name string, m *metrics.Metrics) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(name, resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, s resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
		},
		IsFailure: func(err error) bool { return !resilience.IsPermanent(err) },
	})
}
