// Package lock provides a named, time-bounded mutual exclusion primitive
// backed by the persistence layer, so that only one scheduler run executes at
// a time across processes.
package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/autopost/internal/store"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultRetryInterval = time.Second
)

type Options struct {
	TTL           time.Duration
	WaitTimeout   time.Duration
	RetryInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	return o
}

type Result struct {
	Acquired bool
	// Holder is the identity holding the lock after the attempt, when known.
	Holder string
}

// Locker acquires locks under a fixed identity.
type Locker struct {
	store  store.LockStore
	holder string
	now    func() time.Time
}

func New(s store.LockStore) *Locker {
	return &Locker{store: s, holder: newHolderID(), now: time.Now}
}

// NewWithClock is New with an injected clock.
func NewWithClock(s store.LockStore, now func() time.Time) *Locker {
	l := New(s)
	l.now = now
	return l
}

func newHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
}

// Holder returns this locker's identity.
func (l *Locker) Holder() string { return l.holder }

// Acquire tries to take name. A storage error is treated as not acquired.
func (l *Locker) Acquire(ctx context.Context, name string, opts Options) Result {
	opts = opts.withDefaults()
	deadline := l.now().Add(opts.WaitTimeout)

	for {
		res := l.tryOnce(ctx, name, opts.TTL)
		if res.Acquired || opts.WaitTimeout <= 0 || !l.now().Before(deadline) {
			return res
		}

		wait := opts.RetryInterval
		if remaining := deadline.Sub(l.now()); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res
		case <-timer.C:
		}
	}
}

func (l *Locker) tryOnce(ctx context.Context, name string, ttl time.Duration) Result {
	now := l.now()
	acquired, current, err := l.store.TryAcquire(ctx, name, l.holder, now, now.Add(ttl))
	if err != nil {
		log.Warn().Err(err).Str("lock", name).Msg("lock acquire failed; treating as held")
		return Result{}
	}
	if acquired {
		log.Debug().Str("lock", name).Str("holder", l.holder).Dur("ttl", ttl).Msg("lock acquired")
	}
	return Result{Acquired: acquired, Holder: current}
}

// Release removes the lock if this locker holds it. Releasing a lock that
// someone else took over after expiry is a no-op.
func (l *Locker) Release(ctx context.Context, name string) error {
	released, err := l.store.Release(ctx, name, l.holder)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	if !released {
		log.Debug().Str("lock", name).Str("holder", l.holder).Msg("lock not held at release")
	}
	return nil
}

// WithLock runs fn while holding name. fn is skipped when the lock is not
// acquired; the release always runs once fn returns or panics.
func (l *Locker) WithLock(ctx context.Context, name string, opts Options, fn func(ctx context.Context) error) (acquired bool, err error) {
	res := l.Acquire(ctx, name, opts)
	if !res.Acquired {
		return false, nil
	}
	defer func() {
		// Release on a fresh context so a cancelled run still frees the lock.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if rerr := l.Release(rctx, name); rerr != nil {
			log.Error().Err(rerr).Str("lock", name).Msg("lock release failed")
		}
	}()
	return true, fn(ctx)
}
