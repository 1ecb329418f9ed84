package chat

import (
	"context"
	"time"
)

// RetryOptions bound the retry loop around the analysis invocation. Neither
// the moderation call nor the generation stream is retried.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	IsRetryable  func(error) bool
}

// DefaultRetryOptions returns the standard bounds: three attempts, 1s
// initial delay doubling up to 4s, every error retryable.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2,
	}
}

func (o RetryOptions) normalize() RetryOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 4 * time.Second
	}
	if o.Multiplier <= 1 {
		o.Multiplier = 2
	}
	return o
}

// backoffDelay returns the delay after a failed attempt i (0-indexed):
// min(initial * multiplier^i, max).
func backoffDelay(o RetryOptions, attempt int) time.Duration {
	d := o.InitialDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * o.Multiplier)
		if d >= o.MaxDelay {
			return o.MaxDelay
		}
	}
	if d > o.MaxDelay {
		return o.MaxDelay
	}
	return d
}

// RetryDo executes fn with bounded exponential backoff, returning the first
// success or the last error. Sleeps are cut short by context cancellation.
func RetryDo[T any](ctx context.Context, o RetryOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	r := RetryDoSafe(ctx, o, fn)
	return r.Value, r.Err
}

// RetryResult is the non-propagating outcome of RetryDoSafe.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
}

// RetryDoSafe is RetryDo for call sites that must not abort an in-progress
// stream: the outcome, success or failure, is returned as a value.
func RetryDoSafe[T any](ctx context.Context, o RetryOptions, fn func(ctx context.Context) (T, error)) RetryResult[T] {
	o = o.normalize()

	var result RetryResult[T]
	for attempt := 0; attempt < o.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1
		result.Value, result.Err = fn(ctx)
		if result.Err == nil {
			return result
		}
		if o.IsRetryable != nil && !o.IsRetryable(result.Err) {
			return result
		}
		if attempt == o.MaxAttempts-1 {
			return result
		}

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			return result
		case <-time.After(backoffDelay(o, attempt)):
		}
	}
	return result
}
