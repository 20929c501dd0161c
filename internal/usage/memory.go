package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
)

// MemoryStore keeps quota rows in process. It backs tests and single-node
// development runs.
type MemoryStore struct {
	mu      sync.Mutex
	cfg     config.QuotaConfig
	rows    map[string]*Quota
	entries []Entry
}

// NewMemoryStore creates an empty store that lazily assigns cfg.DefaultPlan.
func NewMemoryStore(cfg config.QuotaConfig) *MemoryStore {
	return &MemoryStore{cfg: cfg, rows: make(map[string]*Quota)}
}

func (s *MemoryStore) Get(_ context.Context, userID string, now time.Time) (Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.rowLocked(userID, now)
	if err != nil {
		return Quota{}, err
	}
	return *q, nil
}

func (s *MemoryStore) Increment(_ context.Context, e Entry, now time.Time) (Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.rowLocked(e.UserID, now)
	if err != nil {
		return Quota{}, err
	}
	q.Current = q.Current.Add(e.Usage)
	s.entries = append(s.entries, e)
	return *q, nil
}

func (s *MemoryStore) SetLimits(_ context.Context, userID, plan string, max Usage, now time.Time) (Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.rowLocked(userID, now)
	if err != nil {
		return Quota{}, err
	}
	if plan != "" {
		q.Plan = plan
	}
	q.Max = max
	return *q, nil
}

// Entries returns every recorded entry in order.
func (s *MemoryStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// rowLocked returns the row for userID, creating it or rolling its period
// over as needed.
func (s *MemoryStore) rowLocked(userID string, now time.Time) (*Quota, error) {
	q, ok := s.rows[userID]
	if !ok {
		limits, ok := s.cfg.Plans[s.cfg.DefaultPlan]
		if !ok {
			return nil, fmt.Errorf("default plan %q not configured", s.cfg.DefaultPlan)
		}
		start, next := PeriodFor(now)
		q = &Quota{
			UserID:      userID,
			Plan:        s.cfg.DefaultPlan,
			PeriodStart: start,
			NextResetAt: next,
			Max:         Usage{APICalls: limits.MaxAPICalls, Tokens: limits.MaxTokens, Cost: limits.MaxCost},
		}
		s.rows[userID] = q
	}
	if !now.Before(q.NextResetAt) {
		q.PeriodStart, q.NextResetAt = PeriodFor(now)
		q.Current = Usage{}
	}
	return q, nil
}
