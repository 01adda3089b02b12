package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/slot-reservations/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, Prefix: "test:", RetryBackoff: 5 * time.Millisecond}, mr
}

func TestWithLockSerialisesHolders(t *testing.T) {
	locker, _ := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})
	errs := make(chan error, 2)

	go func() {
		errs <- locker.WithLock(ctx, "booking:ref-1", time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
	}()

	<-firstDone

	go func() {
		errs <- locker.WithLock(ctx, "booking:ref-1", time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()

	close(releaseFirst)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestTryLockReportsHeld(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	lease, err := locker.TryLock(ctx, "booking:ref-2", time.Minute)
	require.NoError(t, err)
	require.True(t, mr.Exists("test:booking:ref-2"))

	_, err = locker.TryLock(ctx, "booking:ref-2", time.Minute)
	require.ErrorIs(t, err, lock.ErrNotAcquired)

	lease.Release(ctx)
	lease.Release(ctx)
	require.False(t, mr.Exists("test:booking:ref-2"))

	again, err := locker.TryLock(ctx, "booking:ref-2", time.Minute)
	require.NoError(t, err)
	again.Release(ctx)
}

func TestReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	lease, err := locker.TryLock(ctx, "booking:ref-3", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	other, err := locker.TryLock(ctx, "booking:ref-3", time.Minute)
	require.NoError(t, err)

	lease.Release(ctx)
	require.True(t, mr.Exists("test:booking:ref-3"))
	other.Release(ctx)
	require.False(t, mr.Exists("test:booking:ref-3"))
}

func TestWithLockHonoursContext(t *testing.T) {
	locker, _ := newLocker(t)
	held, err := locker.TryLock(context.Background(), "busy", time.Minute)
	require.NoError(t, err)
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = locker.WithLock(ctx, "busy", time.Minute, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
