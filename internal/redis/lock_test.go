package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) (Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSlotLocker(client, ttl), mr
}

func TestSlotLockReleasedAfterUse(t *testing.T) {
	locker, mr := newTestLocker(t, time.Second)

	err := locker.WithSlotLock(context.Background(), "111:20300610T100000", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:slot:111:20300610T100000"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:slot:111:20300610T100000"))
}

func TestSlotLockPropagatesError(t *testing.T) {
	locker, mr := newTestLocker(t, time.Second)
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), "slot", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:slot:slot"))
}

func TestSlotLockSerializesHolders(t *testing.T) {
	locker, _ := newTestLocker(t, 2*time.Second)

	var (
		wg      sync.WaitGroup
		inside  int32
		overlap int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithSlotLock(context.Background(), "slot", func(ctx context.Context) error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlap))
}

func TestSlotLockGivesUp(t *testing.T) {
	locker, mr := newTestLocker(t, 100*time.Millisecond)
	require.NoError(t, mr.Set("lock:slot:slot", "someone-else"))

	called := false
	err := locker.WithSlotLock(context.Background(), "slot", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)

	// a lock held by someone else is never released by us
	got, err := mr.Get("lock:slot:slot")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestNoopLocker(t *testing.T) {
	called := false
	err := NoopLocker{}.WithSlotLock(context.Background(), "slot", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
