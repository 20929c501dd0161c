package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/postgres"
)

// PostgresStore keeps quota rows in user_quotas and appends every increment
// to usage_logs in the same transaction.
type PostgresStore struct {
	db  *postgres.Client
	cfg config.QuotaConfig
}

// NewPostgresStore creates a store that lazily assigns cfg.DefaultPlan.
func NewPostgresStore(db *postgres.Client, cfg config.QuotaConfig) *PostgresStore {
	return &PostgresStore{db: db, cfg: cfg}
}

const quotaColumns = `user_id, plan, period_start, next_reset_at,
	current_api_calls, current_tokens, current_cost,
	max_api_calls, max_tokens, max_cost`

// Get reads the row without writing. A row past its reset time is reported
// with zeroed counters; the next Increment persists the rollover.
func (s *PostgresStore) Get(ctx context.Context, userID string, now time.Time) (Quota, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+quotaColumns+` FROM user_quotas WHERE user_id = $1`, userID)
	q, err := scanQuota(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s.defaultQuota(userID, now)
	}
	if err != nil {
		return Quota{}, fmt.Errorf("reading quota: %w", err)
	}
	if !now.Before(q.NextResetAt) {
		q.PeriodStart, q.NextResetAt = PeriodFor(now)
		q.Current = Usage{}
	}
	return q, nil
}

// Increment adds e.Usage with a single conditional UPDATE. The row lock taken
// by the UPDATE serialises concurrent increments for the same user.
func (s *PostgresStore) Increment(ctx context.Context, e Entry, now time.Time) (Quota, error) {
	var q Quota
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureRow(ctx, tx, e.UserID, now); err != nil {
			return err
		}
		start, next := PeriodFor(now)
		row := tx.QueryRowContext(ctx, `
			UPDATE user_quotas SET
				current_api_calls = CASE WHEN $5 >= next_reset_at THEN 0 ELSE current_api_calls END + $2,
				current_tokens    = CASE WHEN $5 >= next_reset_at THEN 0 ELSE current_tokens END + $3,
				current_cost      = CASE WHEN $5 >= next_reset_at THEN 0 ELSE current_cost END + $4,
				period_start      = CASE WHEN $5 >= next_reset_at THEN $6 ELSE period_start END,
				next_reset_at     = CASE WHEN $5 >= next_reset_at THEN $7 ELSE next_reset_at END,
				updated_at        = $5
			WHERE user_id = $1
			RETURNING `+quotaColumns,
			e.UserID, e.Usage.APICalls, e.Usage.Tokens, e.Usage.Cost, now.UTC(), start, next)
		var err error
		q, err = scanQuota(row)
		if err != nil {
			return fmt.Errorf("incrementing quota: %w", err)
		}

		var metadata []byte
		if len(e.Metadata) > 0 {
			if metadata, err = json.Marshal(e.Metadata); err != nil {
				return fmt.Errorf("marshaling usage metadata: %w", err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO usage_logs (user_id, service, model, action, api_calls, tokens, cost, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.UserID, string(e.Service), e.Model, e.Action,
			e.Usage.APICalls, e.Usage.Tokens, e.Usage.Cost, nullableJSON(metadata), now.UTC())
		if err != nil {
			return fmt.Errorf("appending usage log: %w", err)
		}
		return nil
	})
	if err != nil {
		return Quota{}, apperrors.Wrap(apperrors.ErrPersistenceFailed, "%v", err)
	}
	return q, nil
}

func (s *PostgresStore) SetLimits(ctx context.Context, userID, plan string, max Usage, now time.Time) (Quota, error) {
	var q Quota
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureRow(ctx, tx, userID, now); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE user_quotas SET
				plan = COALESCE(NULLIF($2, ''), plan),
				max_api_calls = $3, max_tokens = $4, max_cost = $5, updated_at = $6
			WHERE user_id = $1
			RETURNING `+quotaColumns,
			userID, plan, max.APICalls, max.Tokens, max.Cost, now.UTC())
		var err error
		q, err = scanQuota(row)
		return err
	})
	if err != nil {
		return Quota{}, fmt.Errorf("setting quota limits: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) ensureRow(ctx context.Context, tx *sql.Tx, userID string, now time.Time) error {
	q, err := s.defaultQuota(userID, now)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_quotas (user_id, plan, period_start, next_reset_at, max_api_calls, max_tokens, max_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING`,
		q.UserID, q.Plan, q.PeriodStart, q.NextResetAt, q.Max.APICalls, q.Max.Tokens, q.Max.Cost)
	if err != nil {
		return fmt.Errorf("creating quota row: %w", err)
	}
	return nil
}

func (s *PostgresStore) defaultQuota(userID string, now time.Time) (Quota, error) {
	limits, ok := s.cfg.Plans[s.cfg.DefaultPlan]
	if !ok {
		return Quota{}, fmt.Errorf("default plan %q not configured", s.cfg.DefaultPlan)
	}
	start, next := PeriodFor(now)
	return Quota{
		UserID:      userID,
		Plan:        s.cfg.DefaultPlan,
		PeriodStart: start,
		NextResetAt: next,
		Max:         Usage{APICalls: limits.MaxAPICalls, Tokens: limits.MaxTokens, Cost: limits.MaxCost},
	}, nil
}

func scanQuota(row *sql.Row) (Quota, error) {
	var q Quota
	err := row.Scan(&q.UserID, &q.Plan, &q.PeriodStart, &q.NextResetAt,
		&q.Current.APICalls, &q.Current.Tokens, &q.Current.Cost,
		&q.Max.APICalls, &q.Max.Tokens, &q.Max.Cost)
	return q, err
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
