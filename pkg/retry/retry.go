// Package retry implements the retry policy applied around every pipeline step
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy is the retry policy value object applied uniformly by the
// orchestrator's step executor
type Policy struct {
	MaxAttempts int           `yaml:"maxAttempts" default:"3"`
	BaseBackoff time.Duration `yaml:"baseBackoff" default:"1s"`
	MaxBackoff  time.Duration `yaml:"maxBackoff" default:"30s"`
}

// DefaultPolicy returns the default retry policy: three attempts with
// exponential backoff
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// SetDefaults fills zero fields with the default policy
func (p *Policy) SetDefaults() {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}

	if p.BaseBackoff == 0 {
		p.BaseBackoff = time.Second
	}

	if p.MaxBackoff == 0 {
		p.MaxBackoff = 30 * time.Second
	}
}

// permanentError marks an error that must not be retried
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so Do returns it immediately without further
// attempts. Configuration and dependency defects are permanent.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent reports whether an error was marked permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do executes fn with exponential backoff until it succeeds, returns a
// permanent error, or the attempt ceiling is reached. The last error is
// returned wrapped with the attempt count.
func Do(ctx context.Context, clock clockwork.Clock, policy Policy, fn func(ctx context.Context) error) error {
	policy.SetDefaults()

	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := Backoff(policy, attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}

		var pe *permanentError
		if errors.As(lastErr, &pe) {
			return pe.err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", policy.MaxAttempts, lastErr)
}

// DoValue is Do for steps that produce a result
func DoValue[T any](ctx context.Context, clock clockwork.Clock, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T

	err := Do(ctx, clock, policy, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})

	return result, err
}

// Backoff returns the delay before the given retry (1-based): the base
// delay scaled by 2^(retry-1), capped, with jitter against thundering herd
func Backoff(policy Policy, retry int) time.Duration {
	policy.SetDefaults()

	backoff := policy.BaseBackoff * time.Duration(1<<uint(retry-1))
	if backoff > policy.MaxBackoff || backoff <= 0 {
		backoff = policy.MaxBackoff
	}

	jitter := 0.5 + rand.Float64()*0.5

	return time.Duration(float64(backoff) * jitter)
}
