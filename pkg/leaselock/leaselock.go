// Package leaselock provides expiring, renewable locks shared between worker
// processes. A lock is held by a token; only the holder of the token may
// renew or release it. Locks that are not renewed expire after their TTL so a
// crashed worker never blocks a key forever.
package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrBusy is returned by Acquire when the key is held by someone else
	// and Options.Wait is false.
	ErrBusy = errors.New("lease lock busy")
	// ErrLost is the cancellation cause of a lease whose renewal failed
	// because another holder took over the key.
	ErrLost = errors.New("lease lock lost")
)

// Backend stores lock state. Implementations must make every operation
// atomic with respect to the token check.
type Backend interface {
	// TryAcquire takes the key for token if it is free, expired or already
	// held by token. It reports whether the key is now held.
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Renew extends the expiry of a key held by token. It reports false if
	// token no longer holds the key.
	Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Release frees a key held by token. Releasing a key held by someone
	// else is a no-op.
	Release(ctx context.Context, key, token string) error
}

// Client hands out leases from a Backend.
type Client struct {
	backend Backend
}

// Options tune a single Acquire call. Zero values select sane defaults.
type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	TokenPrefix string
}

func (o Options) normalized() Options {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Millisecond)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	if o.WaitJitter < 0 {
		o.WaitJitter = 0
	}
	return o
}

// Lease is a held lock. Context is cancelled when the lease is released or
// lost; context.Cause reports ErrLost in the latter case.
type Lease struct {
	Key   string
	Token string

	Context context.Context

	backend Backend
	cancel  context.CancelCauseFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(backend Backend) *Client {
	return &Client{backend: backend}
}

// WithLease runs fn while holding key. fn receives the lease context, which
// is cancelled if the lease is lost mid-way.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	return fn(lease.Context)
}

// Acquire takes key, waiting for it when opts.Wait is set. The returned lease
// renews itself in the background until released.
func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	opts = opts.normalized()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + id

	for {
		held, err := c.backend.TryAcquire(ctx, key, token, opts.TTL)
		if err != nil {
			return nil, err
		}
		if held {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		backend: c.backend,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}
	go l.keepAlive(opts)

	return l, nil
}

// Release stops renewal and frees the key. It is safe to call more than once.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})
	return l.backend.Release(ctx, l.Key, l.Token)
}

func (l *Lease) keepAlive(opts Options) {
	t := time.NewTicker(opts.RenewEvery)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renew(opts.TTL); err != nil {
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renew(ttl time.Duration) error {
	var lastErr error
	for attempt := range 3 {
		if attempt > 0 {
			if err := sleepWithJitter(l.Context, 200*time.Millisecond, 0); err != nil {
				return err
			}
		}
		ctx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		held, err := l.backend.Renew(ctx, l.Key, l.Token, ttl)
		cancel()
		if err == nil && !held {
			return ErrLost
		}
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
