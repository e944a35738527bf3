package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopost/internal/store"
)

type failingStore struct{}

func (failingStore) TryAcquire(context.Context, string, string, time.Time, time.Time) (bool, string, error) {
	return false, "", errors.New("connection refused")
}

func (failingStore) Release(context.Context, string, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestConcurrentAcquireIsExclusive(t *testing.T) {
	s := store.NewInMemoryStore()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if New(s).Acquire(context.Background(), "auto-engagement", Options{}).Acquired {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestExpiredLockIsTakenOver(t *testing.T) {
	s := store.NewInMemoryStore()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	first := NewWithClock(s, clock)
	second := NewWithClock(s, clock)

	require.True(t, first.Acquire(context.Background(), "k", Options{TTL: time.Minute}).Acquired)
	res := second.Acquire(context.Background(), "k", Options{TTL: time.Minute})
	assert.False(t, res.Acquired)
	assert.Equal(t, first.Holder(), res.Holder)

	now = now.Add(time.Minute)
	res = second.Acquire(context.Background(), "k", Options{TTL: time.Minute})
	assert.True(t, res.Acquired)
	assert.Equal(t, second.Holder(), res.Holder)

	// The late release from the original holder must not free the lock.
	require.NoError(t, first.Release(context.Background(), "k"))
	assert.False(t, first.Acquire(context.Background(), "k", Options{TTL: time.Minute}).Acquired)
}

func TestReleaseOnlyByHolder(t *testing.T) {
	s := store.NewInMemoryStore()
	owner := New(s)
	other := New(s)

	require.True(t, owner.Acquire(context.Background(), "k", Options{}).Acquired)
	require.NoError(t, other.Release(context.Background(), "k"))
	assert.False(t, other.Acquire(context.Background(), "k", Options{}).Acquired)

	require.NoError(t, owner.Release(context.Background(), "k"))
	assert.True(t, other.Acquire(context.Background(), "k", Options{}).Acquired)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	s := store.NewInMemoryStore()
	owner := New(s)
	waiter := New(s)
	require.True(t, owner.Acquire(context.Background(), "k", Options{}).Acquired)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = owner.Release(context.Background(), "k")
	}()

	res := waiter.Acquire(context.Background(), "k", Options{WaitTimeout: 2 * time.Second, RetryInterval: 10 * time.Millisecond})
	assert.True(t, res.Acquired)
}

func TestAcquireWaitTimesOut(t *testing.T) {
	s := store.NewInMemoryStore()
	require.True(t, New(s).Acquire(context.Background(), "k", Options{}).Acquired)

	start := time.Now()
	res := New(s).Acquire(context.Background(), "k", Options{WaitTimeout: 50 * time.Millisecond, RetryInterval: 10 * time.Millisecond})
	assert.False(t, res.Acquired)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestStorageErrorMeansNotAcquired(t *testing.T) {
	l := New(failingStore{})
	assert.False(t, l.Acquire(context.Background(), "k", Options{}).Acquired)

	called := false
	acquired, err := l.WithLock(context.Background(), "k", Options{}, func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, acquired)
	assert.NoError(t, err)
	assert.False(t, called)
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	s := store.NewInMemoryStore()
	l := New(s)

	assert.Panics(t, func() {
		_, _ = l.WithLock(context.Background(), "k", Options{}, func(context.Context) error {
			panic("boom")
		})
	})
	assert.True(t, New(s).Acquire(context.Background(), "k", Options{}).Acquired)
}

func TestHolderIdentityFormat(t *testing.T) {
	l := New(store.NewInMemoryStore())
	assert.Regexp(t, `^.+:\d+:[0-9a-f-]{36}$`, l.Holder())
}
