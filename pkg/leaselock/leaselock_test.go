package leaselock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(NewRedisBackend(rdb)), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	c, _ := newRedisClient(t)
	ctx := context.Background()

	first, err := c.Acquire(ctx, "doc/1", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := c.Acquire(ctx, "doc/1", Options{TTL: time.Minute}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second acquire error = %v, want ErrBusy", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if first.Context.Err() == nil {
		t.Fatal("lease context still alive after release")
	}

	second, err := c.Acquire(ctx, "doc/1", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = second.Release(ctx)
}

func TestExpiredLockCanBeTaken(t *testing.T) {
	c, mr := newRedisClient(t)
	ctx := context.Background()

	stale, err := c.Acquire(ctx, "doc/2", Options{TTL: time.Hour, RenewEvery: 30 * time.Minute})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(2 * time.Hour)

	fresh, err := c.Acquire(ctx, "doc/2", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("acquire expired lock: %v", err)
	}

	// The stale holder must not be able to free the new holder's lock.
	_ = stale.Release(ctx)
	if got, _ := mr.Get(redisKeyPrefix + "doc/2"); got != fresh.Token {
		t.Fatalf("lock holder = %q, want %q", got, fresh.Token)
	}
	_ = fresh.Release(ctx)
}

func TestWithLeaseWaitsForHolder(t *testing.T) {
	c, _ := newRedisClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	held, err := c.Acquire(ctx, "doc/3", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = held.Release(context.Background())
	}()

	ran := false
	err = c.WithLease(ctx, "doc/3", Options{TTL: time.Minute, Wait: true, WaitInterval: 10 * time.Millisecond}, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLease: %v", err)
	}
	if !ran {
		t.Fatal("callback did not run")
	}
}

func TestLostLeaseCancelsContext(t *testing.T) {
	c, mr := newRedisClient(t)
	ctx := context.Background()

	l, err := c.Acquire(ctx, "doc/4", Options{TTL: time.Second, RenewEvery: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.Set(redisKeyPrefix+"doc/4", "someone-else")

	select {
	case <-l.Context.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("lease context was not cancelled")
	}
	if cause := context.Cause(l.Context); !errors.Is(cause, ErrLost) {
		t.Fatalf("cause = %v, want ErrLost", cause)
	}
}
