package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout runs fn with a derived context that is cancelled after the
// given timeout. fn must honour its context; the deadline error is reported
// with the operation name.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(timeoutCtx)
	if err != nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s: %w (limit: %v)", name, context.DeadlineExceeded, timeout)
	}
	return err
}

// Policy bundles the guards every paid external call runs under: a per-attempt
// timeout, bounded retry for transient failures, and an optional breaker.
type Policy struct {
	Name    string
	Timeout time.Duration
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// Do executes fn under the policy.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := func() error {
		return WithTimeout(ctx, p.Timeout, p.Name, fn)
	}
	if p.Breaker != nil {
		guarded := attempt
		attempt = func() error { return p.Breaker.Execute(guarded) }
	}
	return Retry(ctx, p.Name, p.Retry, attempt)
}
