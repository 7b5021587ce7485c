// Package retry implements exponential backoff with typed error classification.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy configures exponential backoff retry behavior
type Policy struct {
	MaxRetries int           `yaml:"max_retries"` // Retries after the first attempt
	BaseDelay  time.Duration `yaml:"base_delay"`  // Delay before the first retry
	MaxDelay   time.Duration `yaml:"max_delay"`   // Upper bound for any single delay
	Multiplier float64       `yaml:"multiplier"`  // Growth factor between delays
}

// DefaultPolicy returns the fetch policy: 3 retries at 2s, 4s, 8s
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
	}
}

// Delay returns the wait before the given retry (1-based)
func (p Policy) Delay(retry int) time.Duration {
	if retry < 1 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < retry; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Option customizes a single Do call
type Option func(*options)

type options struct {
	retryable   func(error) bool
	beforeRetry func(retry int, err error, delay time.Duration)
}

// WithClassifier replaces IsRetryable as the retry decision
func WithClassifier(fn func(error) bool) Option {
	return func(o *options) { o.retryable = fn }
}

// BeforeRetry registers a hook that runs after a failed attempt and before the backoff wait
func BeforeRetry(fn func(retry int, err error, delay time.Duration)) Option {
	return func(o *options) { o.beforeRetry = fn }
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. The attempt number passed to fn starts at 0.
// Context cancellation stops the loop immediately.
func Do[T any](ctx context.Context, p Policy, fn func(attempt int) (T, error), opts ...Option) (T, error) {
	o := options{retryable: IsRetryable}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, errors.Join(err, lastErr)
			}
			return zero, err
		}

		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil || !o.retryable(err) || attempt == p.MaxRetries {
			break
		}

		delay := p.Delay(attempt + 1)
		if o.beforeRetry != nil {
			o.beforeRetry(attempt+1, err, delay)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, errors.Join(ctx.Err(), lastErr)
			case <-timer.C:
			}
		}
	}

	return zero, lastErr
}
