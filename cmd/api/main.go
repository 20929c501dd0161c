// Command api starts the public HTTP API.
//
// The API accepts media uploads, answers questions over processed documents,
// reports job status and deletes documents. Uploads are stored in the object
// store and queued for the worker; a Kafka hint is published when enabled.
//
// Usage:
//
//	go run ./cmd/api [-config configs/development.yaml]
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
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/ai/openai"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/api"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/chunker"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/pricing"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/rag"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/retrieval"
	pgstore "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/store/postgres"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/usage"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/resilience"
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
	slog.Info("starting api service", "port", cfg.Server.Port)

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
	if err := db.Migrate(ctx, cfg.AI.EmbeddingDimension); err != nil {
		slog.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}
	checker.Register("postgres", health.Ping(db.Ping))
	slog.Info("connected to postgres")
	st := pgstore.New(db)

	objects, err := objectstore.NewMinio(ctx, cfg.ObjectStore)
	if err != nil {
		slog.Error("failed to connect to object store", "error", err)
		os.Exit(1)
	}
	checker.Register("object_store", health.Ping(objects.Ping))

	// Redis backs the rate limiter and the query cache. Without it the
	// limiter runs in-process and queries are embedded every time.
	var (
		rlBackend ratelimit.Backend
		cache     *retrieval.QueryCache
	)
	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, using in-process rate limiting and no query cache", "error", err)
		mem := ratelimit.NewMemoryBackend(time.Minute)
		defer mem.Close()
		rlBackend = mem
	} else {
		defer rdb.Close()
		checker.RegisterOptional("redis", health.Ping(rdb.Ping))
		if cfg.RateLimit.Backend == "memory" {
			mem := ratelimit.NewMemoryBackend(time.Minute)
			defer mem.Close()
			rlBackend = mem
		} else {
			rlBackend = ratelimit.NewRedisBackend(rdb)
		}
		cache = retrieval.NewQueryCache(rdb, cfg.Retrieval.CacheTTL, m)
	}
	limiter := ratelimit.New(rlBackend, cfg.RateLimit, m)

	prices := pricing.New(cfg.Pricing)
	ledger := usage.NewLedger(usage.NewPostgresStore(db, cfg.Quota), cfg.Quota, m)

	provider, err := openai.NewProvider(cfg.AI)
	if err != nil {
		slog.Error("failed to create ai provider", "error", err)
		os.Exit(1)
	}
	generator, err := embedding.NewGenerator(provider.Embedder(), chunker.NewTokenizer(cfg.Chunking.Encoding), prices, ledger, cfg.AI, m)
	if err != nil {
		slog.Error("failed to create embedding generator", "error", err)
		os.Exit(1)
	}
	defer generator.Close()

	synthesizer, err := rag.NewSynthesizer(provider.Completer(), prices, ledger, rag.SynthesizerConfig{
		Model:       cfg.AI.CompletionModel,
		MaxTokens:   cfg.AI.CompletionMaxTokens,
		Temperature: cfg.AI.Temperature,
		Policy: resilience.Policy{
			Name:    "completion",
			Timeout: cfg.AI.RequestTimeout,
			Retry:   resilience.RetryConfig{MaxAttempts: max(cfg.AI.MaxRetries, 1)},
			Breaker: newBreaker("completion", m),
		},
	})
	if err != nil {
		slog.Error("failed to create answer synthesizer", "error", err)
		os.Exit(1)
	}
	queries := rag.NewService(retrieval.New(generator, st, cache, cfg.Retrieval, m), synthesizer)

	var hinter ingest.Hinter
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.JobQueued, 5*time.Second)
		defer producer.Close()
		hinter = ingest.NewKafkaHinter(producer, 5*time.Second)
	}

	coordinator := ingest.NewCoordinator(st, objects, ledger, hinter, ingest.LimitsFromConfig(cfg.Media.MaxBytes), m)
	h := api.New(st, objects, queries, ledger, hinter)
	chain := api.NewRouter(h, ingest.NewHandler(coordinator), limiter, checker, m, cfg.Server)

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, nil)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if shutdownMetrics != nil {
			shutdownMetrics(shutdownCtx)
		}
	}()

	slog.Info("api service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("api service stopped")
}

func newBreaker(name string, m *metrics.Metrics) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(name, resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, s resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
		},
		IsFailure: func(err error) bool { return !resilience.IsPermanent(err) },
	})
}
