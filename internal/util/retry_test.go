package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func init() {
	RetryBaseDelay = time.Millisecond
}

func TestRetryWithContext_SuccessAfterRetries(t *testing.T) {
	calls := 0
	got, err := RetryWithContext(context.Background(), 3, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 99, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got != 99 || calls != 3 {
		t.Fatalf("got %d after %d calls, want 99 after 3", got, calls)
	}
}

func TestRetryWithContext_PersistentFailure(t *testing.T) {
	calls := 0
	_, err := RetryWithContext(context.Background(), 3, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("persistent")
	})
	if err == nil || err.Error() != "persistent" {
		t.Fatalf("expected persistent error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryWithContext_MaxTriesZero(t *testing.T) {
	calls := 0
	_, _ = RetryWithContext(context.Background(), 0, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithContext_StopsOnContextError(t *testing.T) {
	calls := 0
	_, err := RetryWithContext(context.Background(), 5, func(context.Context) (int, error) {
		calls++
		return 0, context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithContext_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := RetryWithContext(ctx, 3, func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no calls, got %d", calls)
	}
}

func TestRetry2WithContext(t *testing.T) {
	calls := 0
	a, b, err := Retry2WithContext(context.Background(), 2, func(context.Context) (string, int, error) {
		calls++
		if calls == 1 {
			return "", 0, errors.New("transient")
		}
		return "ok", 7, nil
	})
	if err != nil || a != "ok" || b != 7 {
		t.Fatalf("got (%q, %d, %v)", a, b, err)
	}
}

func TestRetryErrWithContext(t *testing.T) {
	calls := 0
	err := RetryErrWithContext(context.Background(), 4, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err %v after %d calls", err, calls)
	}
}
