package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/retrieval"
	pgstore "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/store/postgres"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/usage"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

// openEnv connects to postgres and, when reachable, redis.
func openEnv(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	// Collectors are registered on a private registry; the CLI exposes none.
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	e := &env{
		store: pgstore.New(db),
		quota: usage.NewLedger(usage.NewPostgresStore(db, cfg.Quota), cfg.Quota, m),
		migrate: func(ctx context.Context) error {
			return db.Migrate(ctx, cfg.AI.EmbeddingDimension)
		},
	}
	closers := []func() error{db.Close}

	if rdb, err := redis.NewClient(cfg.Redis); err != nil {
		slog.Warn("redis unavailable", "error", err)
	} else {
		e.cache = retrieval.NewQueryCache(rdb, cfg.Retrieval.CacheTTL, m)
		closers = append(closers, rdb.Close)
	}
	e.close = func() {
		for _, fn := range closers {
			fn()
		}
	}
	return e, nil
}
