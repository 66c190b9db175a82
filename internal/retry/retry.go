// Package retry wraps flaky external calls in a bounded retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxAttempts is the attempt cap used when Policy.MaxAttempts is unset
const DefaultMaxAttempts = 3

// Policy bounds retries of a single external call
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// OnRetry, if set, is called after each failed attempt that will be retried
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy returns 3 attempts with exponential backoff starting at 500ms
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// ExhaustedError is returned when every attempt failed
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// permanentError marks an error the policy must not retry
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (quota, auth, malformed input)
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls op until it succeeds, returns a permanent error, the context is
// done, or MaxAttempts is reached. Exhaustion returns *ExhaustedError.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations that produce a result
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var result T
	attempts := 0
	var lastErr error

	operation := func() error {
		attempts++
		v, err := op(ctx)
		if err == nil {
			result = v
			return nil
		}
		lastErr = err
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempts, err, wait)
		}
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx, maxAttempts), notify)
	if err == nil {
		return result, nil
	}

	var zero T
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, ctxErr
	}
	if IsPermanent(lastErr) {
		return zero, lastErr
	}
	return zero, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

func (p Policy) backOff(ctx context.Context, maxAttempts int) backoff.BackOff {
	var b backoff.BackOff
	if p.InitialInterval <= 0 {
		b = &backoff.ZeroBackOff{}
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.InitialInterval
		if p.MaxInterval > 0 {
			exp.MaxInterval = p.MaxInterval
		}
		exp.MaxElapsedTime = 0
		b = exp
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
}
