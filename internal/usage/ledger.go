// Package usage meters every paid external call against per-user monthly
// quotas. Increments are atomic in the backing store; the ledger decides what
// an exceeded dimension means for the caller.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/pricing"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/metrics"
)

// Dimension is one of the three metered counters.
type Dimension string

const (
	DimensionAPICalls Dimension = "api_calls"
	DimensionTokens   Dimension = "tokens"
	DimensionCost     Dimension = "cost"
)

// Usage is a delta or a running total across all dimensions.
type Usage struct {
	APICalls int64   `json:"apiCalls"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// Add returns u + o.
func (u Usage) Add(o Usage) Usage {
	return Usage{APICalls: u.APICalls + o.APICalls, Tokens: u.Tokens + o.Tokens, Cost: u.Cost + o.Cost}
}

// IsZero reports whether nothing was consumed.
func (u Usage) IsZero() bool {
	return u.APICalls == 0 && u.Tokens == 0 && u.Cost == 0
}

// Quota is a user's ledger row for the current period.
type Quota struct {
	UserID      string    `json:"userId"`
	Plan        string    `json:"plan"`
	PeriodStart time.Time `json:"periodStart"`
	NextResetAt time.Time `json:"nextResetAt"`
	Current     Usage     `json:"current"`
	Max         Usage     `json:"max"`
}

// Exceeded returns the first dimension whose counter is above its maximum.
// A non-positive maximum leaves that dimension unlimited.
func (q Quota) Exceeded() (Dimension, bool) {
	switch {
	case q.Max.APICalls > 0 && q.Current.APICalls > q.Max.APICalls:
		return DimensionAPICalls, true
	case q.Max.Tokens > 0 && q.Current.Tokens > q.Max.Tokens:
		return DimensionTokens, true
	case q.Max.Cost > 0 && q.Current.Cost > q.Max.Cost:
		return DimensionCost, true
	}
	return "", false
}

// Values returns the current and maximum for dim.
func (q Quota) Values(dim Dimension) (current, max float64) {
	switch dim {
	case DimensionAPICalls:
		return float64(q.Current.APICalls), float64(q.Max.APICalls)
	case DimensionTokens:
		return float64(q.Current.Tokens), float64(q.Max.Tokens)
	default:
		return q.Current.Cost, q.Max.Cost
	}
}

// UsedPercent is the highest utilisation across limited dimensions.
func (q Quota) UsedPercent() float64 {
	var pct float64
	for _, dim := range []Dimension{DimensionAPICalls, DimensionTokens, DimensionCost} {
		cur, max := q.Values(dim)
		if max > 0 && cur/max*100 > pct {
			pct = cur / max * 100
		}
	}
	return pct
}

// PeriodFor returns the calendar month (UTC) containing now.
func PeriodFor(now time.Time) (start, next time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Entry describes one paid call.
type Entry struct {
	UserID   string
	Service  pricing.Service
	Model    string
	Action   string
	Usage    Usage
	Metadata map[string]any
}

// Store persists quota rows. Increment must add e.Usage and roll the period
// over in one atomic step.
type Store interface {
	Get(ctx context.Context, userID string, now time.Time) (Quota, error)
	Increment(ctx context.Context, e Entry, now time.Time) (Quota, error)
	SetLimits(ctx context.Context, userID, plan string, max Usage, now time.Time) (Quota, error)
}

// Result is the outcome of recording an entry.
type Result struct {
	Quota     Quota
	Recorded  bool
	Exceeded  bool
	Dimension Dimension
	Current   float64
	Max       float64
}

// Ledger wraps a Store with the check-before and record-after policy.
type Ledger struct {
	store         Store
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
	notifyPercent float64
}

// NewLedger creates a Ledger.
func NewLedger(store Store, cfg config.QuotaConfig, m *metrics.Metrics) *Ledger {
	return &Ledger{
		store:         store,
		metrics:       m,
		logger:        logger.WithComponent("usage-ledger"),
		now:           time.Now,
		notifyPercent: float64(cfg.NotificationThresholdPercent),
	}
}

// Check fails closed: a store error blocks the paid call, as does any
// dimension already above its maximum.
func (l *Ledger) Check(ctx context.Context, userID string) error {
	now := l.now()
	q, err := l.store.Get(ctx, userID, now)
	if err != nil {
		l.metrics.LedgerErrors.Inc()
		l.logger.Error("quota check failed", "user_id", userID, "error", err)
		return apperrors.Wrap(apperrors.ErrLedgerUnavailable, "cannot verify quota: %v", err).
			WithRetryAfter(30 * time.Second)
	}
	if dim, exceeded := q.Exceeded(); exceeded {
		cur, max := q.Values(dim)
		l.metrics.QuotaRejections.WithLabelValues(string(dim)).Inc()
		return apperrors.Newf(apperrors.ErrQuotaExceeded, 403,
			"monthly %s quota exceeded (%.4g of %.4g)", dim, cur, max).
			WithRetryAfter(q.NextResetAt.Sub(now))
	}
	return nil
}

// Record adds e to the user's counters. It never fails the caller: the call
// has already been paid for, so store errors are logged and counted.
func (l *Ledger) Record(ctx context.Context, e Entry) Result {
	if e.Usage.IsZero() {
		return Result{}
	}
	q, err := l.store.Increment(ctx, e, l.now())
	if err != nil {
		l.metrics.LedgerErrors.Inc()
		l.logger.Error("recording usage failed",
			"user_id", e.UserID,
			"service", e.Service,
			"model", e.Model,
			"cost", e.Usage.Cost,
			"error", err,
		)
		return Result{}
	}
	l.metrics.ExternalCallCost.WithLabelValues(string(e.Service), e.Model).Add(e.Usage.Cost)

	res := Result{Quota: q, Recorded: true}
	if dim, exceeded := q.Exceeded(); exceeded {
		res.Exceeded = true
		res.Dimension = dim
		res.Current, res.Max = q.Values(dim)
		l.logger.Warn("quota exceeded",
			"user_id", e.UserID,
			"dimension", dim,
			"current", res.Current,
			"max", res.Max,
		)
		return res
	}
	if l.notifyPercent > 0 {
		before := q
		before.Current = Usage{
			APICalls: q.Current.APICalls - e.Usage.APICalls,
			Tokens:   q.Current.Tokens - e.Usage.Tokens,
			Cost:     q.Current.Cost - e.Usage.Cost,
		}
		if before.UsedPercent() < l.notifyPercent && q.UsedPercent() >= l.notifyPercent {
			l.logger.Info("quota notification threshold crossed",
				"user_id", e.UserID,
				"used_percent", fmt.Sprintf("%.1f", q.UsedPercent()),
			)
		}
	}
	return res
}

// Quota returns the user's current row.
func (l *Ledger) Quota(ctx context.Context, userID string) (Quota, error) {
	return l.store.Get(ctx, userID, l.now())
}

// SetLimits raises or lowers a user's maxima.
func (l *Ledger) SetLimits(ctx context.Context, userID, plan string, max Usage) (Quota, error) {
	return l.store.SetLimits(ctx, userID, plan, max, l.now())
}

// Metered runs call after a quota check and records whatever usage it
// reports, even when it also returns an error.
func Metered[T any](ctx context.Context, l *Ledger, e Entry, call func(ctx context.Context) (T, Usage, error)) (T, Result, error) {
	var zero T
	if err := l.Check(ctx, e.UserID); err != nil {
		return zero, Result{}, err
	}
	out, used, err := call(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	l.metrics.ExternalCallsTotal.WithLabelValues(string(e.Service), outcome).Inc()
	e.Usage = used
	res := l.Record(context.WithoutCancel(ctx), e)
	if err != nil {
		return zero, res, err
	}
	return out, res, nil
}
