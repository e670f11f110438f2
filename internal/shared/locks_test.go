package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *EntityLocker {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewEntityLocker(client, 2*time.Second)
}

func TestWithLockRunsFunction(t *testing.T) {
	locker := newTestLocker(t)

	ran := false
	err := locker.WithLock(context.Background(), SaleLockKey(42), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestWithLockSerializesSameKey(t *testing.T) {
	locker := newTestLocker(t)

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = locker.WithLock(context.Background(), SaleLockKey(7), func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, SaleLockKey(7), func(ctx context.Context) error {
		return nil
	})
	require.Error(t, err)
	close(release)
}

func TestWithLockDistinctKeysDoNotBlock(t *testing.T) {
	locker := newTestLocker(t)

	err := locker.WithLock(context.Background(), SaleLockKey(1), func(ctx context.Context) error {
		return locker.WithLock(ctx, ImportItemLockKey(1), func(ctx context.Context) error {
			return nil
		})
	})
	require.NoError(t, err)
}

func TestNilLockerRunsDirectly(t *testing.T) {
	var locker *EntityLocker

	ran := false
	err := locker.WithLock(context.Background(), SaleLockKey(9), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}
