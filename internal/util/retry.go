package util

import (
	"context"
	"errors"
	"time"
)

// RetryBaseDelay is the wait before the second attempt. Each further
// attempt doubles it.
var RetryBaseDelay = 200 * time.Millisecond

func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func backoff(ctx context.Context, attempt int) error {
	if attempt == 0 || RetryBaseDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(RetryBaseDelay << (attempt - 1))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryErrWithContext calls fn up to maxTries times until it returns nil,
// backing off exponentially between attempts. Context errors stop the loop
// immediately. If maxTries <= 0, it defaults to 1.
func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	_, err := RetryWithContext(ctx, maxTries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithContext calls fn up to maxTries times until it returns a nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
// Returns ctx.Err() if the context is canceled, otherwise returns the last error.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var (
		zero    T
		lastErr error
	)
	for i := range maxTries {
		if err := backoff(ctx, i); err != nil {
			return zero, err
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

// Retry2WithContext is RetryWithContext for functions returning two values.
func Retry2WithContext[A, B any](ctx context.Context, maxTries int, fn func(context.Context) (A, B, error)) (A, B, error) {
	type pair struct {
		a A
		b B
	}
	p, err := RetryWithContext(ctx, maxTries, func(ctx context.Context) (pair, error) {
		a, b, err := fn(ctx)
		return pair{a, b}, err
	})
	return p.a, p.b, err
}
