// Package ratelimit throttles request frequency per caller and endpoint class
// with a sliding-window log. It is independent of quota accounting and fails
// open: a backend outage lets requests through.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
)

// Class groups endpoints that share a limit.
type Class string

const (
	ClassAuth   Class = "auth"
	ClassAI     Class = "ai"
	ClassUpload Class = "upload"
	ClassAdmin  Class = "admin"
	ClassAPI    Class = "api"
)

// Rule allows Limit requests in any Window-long interval.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	FailedOpen bool
}

// Backend records a hit in the window for key and reports the count inside
// the window after the hit, plus the timestamp of the oldest hit kept.
// Implementations must do this atomically.
type Backend interface {
	Hit(ctx context.Context, key string, rule Rule, now time.Time) (allowed bool, count int, oldest time.Time, err error)
}

// Limiter applies per-class rules scaled by role multipliers.
type Limiter struct {
	backend     Backend
	rules       map[Class]Rule
	multipliers map[string]float64
	timeout     time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// New builds a Limiter from configuration.
func New(backend Backend, cfg config.RateLimitConfig, m *metrics.Metrics) *Limiter {
	rules := make(map[Class]Rule, len(cfg.Classes))
	for name, r := range cfg.Classes {
		rules[Class(name)] = Rule{Limit: r.Limit, Window: r.Window}
	}
	return &Limiter{
		backend:     backend,
		rules:       rules,
		multipliers: cfg.RoleMultipliers,
		timeout:     250 * time.Millisecond,
		metrics:     m,
		logger:      logger.WithComponent("rate-limiter"),
		now:         time.Now,
	}
}

// RuleFor returns the effective rule for class scaled by role. Unknown roles
// get multiplier 1; the scaled limit is never below 1.
func (l *Limiter) RuleFor(class Class, role string) (Rule, bool) {
	rule, ok := l.rules[class]
	if !ok {
		return Rule{}, false
	}
	mult, ok := l.multipliers[role]
	if !ok || mult <= 0 {
		mult = 1
	}
	rule.Limit = int(math.Floor(float64(rule.Limit) * mult))
	if rule.Limit < 1 {
		rule.Limit = 1
	}
	return rule, true
}

// Allow records one request for identifier in class. Classes without a rule
// are not limited.
func (l *Limiter) Allow(ctx context.Context, class Class, identifier, role string) Decision {
	rule, ok := l.RuleFor(class, role)
	if !ok {
		return Decision{Allowed: true}
	}
	now := l.now()
	key := fmt.Sprintf("ratelimit:%s:%s", class, identifier)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	allowed, count, oldest, err := l.backend.Hit(ctx, key, rule, now)
	if err != nil {
		l.metrics.RateLimitDecisions.WithLabelValues(string(class), "fail_open").Inc()
		l.logger.Warn("rate limiter unavailable, allowing request", "class", class, "error", err)
		return Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, FailedOpen: true}
	}

	d := Decision{
		Allowed:   allowed,
		Limit:     rule.Limit,
		Remaining: max(rule.Limit-count, 0),
		ResetAt:   oldest.Add(rule.Window),
	}
	if !allowed {
		d.RetryAfter = d.ResetAt.Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
		l.metrics.RateLimitDecisions.WithLabelValues(string(class), "limited").Inc()
		return d
	}
	l.metrics.RateLimitDecisions.WithLabelValues(string(class), "allowed").Inc()
	return d
}
