package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestLock(t *testing.T) (*RedisPollerLock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewRedisPollerLock(client, 30*time.Second)
	if err != nil {
		t.Fatalf("NewRedisPollerLock() error = %v", err)
	}
	return l, mr
}

func TestPollerLockAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	l, _ := newTestLock(t)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "b-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !ok {
		t.Fatal("first Acquire should succeed")
	}

	ok, err = l.Acquire(ctx, "b-1")
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if ok {
		t.Fatal("second Acquire for same batch should be refused")
	}

	// A different batch is independent.
	ok, err = l.Acquire(ctx, "b-2")
	if err != nil {
		t.Fatalf("Acquire(b-2) error = %v", err)
	}
	if !ok {
		t.Fatal("Acquire for another batch should succeed")
	}
}

func TestPollerLockReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	l, _ := newTestLock(t)
	ctx := context.Background()

	if ok, _ := l.Acquire(ctx, "b-1"); !ok {
		t.Fatal("Acquire should succeed")
	}
	if err := l.Release(ctx, "b-1"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	ok, err := l.Acquire(ctx, "b-1")
	if err != nil {
		t.Fatalf("re-Acquire() error = %v", err)
	}
	if !ok {
		t.Fatal("Acquire after Release should succeed")
	}
}

func TestPollerLockRefreshExtendsLease(t *testing.T) {
	t.Parallel()

	l, mr := newTestLock(t)
	ctx := context.Background()

	if ok, _ := l.Acquire(ctx, "b-1"); !ok {
		t.Fatal("Acquire should succeed")
	}

	mr.FastForward(20 * time.Second)
	if err := l.Refresh(ctx, "b-1"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// Past the original TTL but within the refreshed lease.
	mr.FastForward(20 * time.Second)
	if ok, _ := l.Acquire(ctx, "b-1"); ok {
		t.Fatal("lock should still be held after refresh")
	}
}

func TestPollerLockRefreshAfterExpiryFails(t *testing.T) {
	t.Parallel()

	l, mr := newTestLock(t)
	ctx := context.Background()

	if ok, _ := l.Acquire(ctx, "b-1"); !ok {
		t.Fatal("Acquire should succeed")
	}

	mr.FastForward(time.Minute)
	if err := l.Refresh(ctx, "b-1"); err == nil {
		t.Fatal("Refresh after lease expiry should fail")
	}
}

func TestPollerLockRefreshWithoutHold(t *testing.T) {
	t.Parallel()

	l, _ := newTestLock(t)
	if err := l.Refresh(context.Background(), "never-acquired"); err == nil {
		t.Fatal("Refresh without a held lock should fail")
	}
}
