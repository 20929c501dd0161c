package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", fast, func() error {
		calls++
		return Permanent(errors.New("bad request"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(err))
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", fast, func() error {
		calls++
		if calls < 3 {
			return errors.New("503")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicyAppliesTimeoutPerAttempt(t *testing.T) {
	p := Policy{Name: "slow", Timeout: 5 * time.Millisecond, Retry: RetryConfig{MaxAttempts: 1}}
	err := p.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("embeddings", CircuitBreakerConfig{
		FailureThreshold: 2,
		IsFailure:        func(err error) bool { return err != nil && !IsPermanent(err) },
		OnStateChange:    func(_ string, s State) { transitions = append(transitions, s) },
	})
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return Permanent(errors.New("invalid input")) })
	}
	assert.Equal(t, StateClosed, cb.GetState())

	_ = cb.Execute(func() error { return errors.New("timeout") })
	_ = cb.Execute(func() error { return errors.New("timeout") })
	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, []State{StateOpen}, transitions)
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
}
