package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "qvec:"

// KV is the subset of the redis client the cache needs.
type KV interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Embedded is a query vector and what producing it cost. Cached entries
// report zero cost.
type Embedded struct {
	Vector []float32 `json:"v"`
	Tokens int       `json:"-"`
	Cost   float64   `json:"-"`
}

// QueryCache stores query embeddings keyed by model and normalized text.
// Concurrent misses for the same key share one embedding call.
type QueryCache struct {
	kv      KV
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewQueryCache creates a cache with the given TTL.
func NewQueryCache(kv KV, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		kv:      kv,
		ttl:     ttl,
		metrics: m,
		logger:  logger.WithComponent("query-cache"),
	}
}

func (c *QueryCache) get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.kv.GetBytes(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var e Embedded
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return e.Vector, true
}

func (c *QueryCache) set(ctx context.Context, key string, vec []float32) {
	data, err := json.Marshal(Embedded{Vector: vec})
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.kv.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrEmbed returns the cached vector or calls embed once per key. Cache
// failures degrade to calling embed.
func (c *QueryCache) GetOrEmbed(ctx context.Context, model, query string, embed func(ctx context.Context) (Embedded, error)) (Embedded, bool, error) {
	key := buildKey(model, query)
	if vec, ok := c.get(ctx, key); ok {
		c.metrics.QueryCacheTotal.WithLabelValues("hit").Inc()
		return Embedded{Vector: vec}, true, nil
	}
	c.metrics.QueryCacheTotal.WithLabelValues("miss").Inc()

	leader := false
	val, err, _ := c.group.Do(key, func() (any, error) {
		leader = true
		if vec, ok := c.get(ctx, key); ok {
			return Embedded{Vector: vec}, nil
		}
		e, err := embed(ctx)
		if err != nil {
			return Embedded{}, err
		}
		c.set(ctx, key, e.Vector)
		return e, nil
	})
	if err != nil {
		return Embedded{}, false, err
	}
	e := val.(Embedded)
	if !leader {
		// Followers reuse the leader's vector; the leader reports the cost.
		e.Cost, e.Tokens = 0, 0
	}
	return e, false, nil
}

// Invalidate drops every cached query vector, e.g. after an embedding
// model change.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	n, err := c.kv.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.Info("query cache invalidated", "keys_deleted", n)
	return n, nil
}

func buildKey(model, query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	hash := sha256.Sum256([]byte(model + "\x00" + normalized))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
