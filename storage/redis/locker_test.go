//go:build integration

package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mihaimyh/gocredits/pkg/credits"
)

func setupTestClient(t *testing.T) goredis.UniversalClient {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestLocker_AcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestClient(t), nil)

	release, err := locker.Acquire(ctx, "sweep", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Held: a second acquire is refused.
	if _, err := locker.Acquire(ctx, "sweep", time.Minute); !errors.Is(err, credits.ErrLockNotAcquired) {
		t.Errorf("second Acquire error = %v, want ErrLockNotAcquired", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	// Released: acquirable again.
	release2, err := locker.Acquire(ctx, "sweep", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	_ = release2(ctx)
}

func TestLocker_DifferentNamesIndependent(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestClient(t), nil)

	r1, err := locker.Acquire(ctx, "sweep-a", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer r1(ctx)

	r2, err := locker.Acquire(ctx, "sweep-b", time.Minute)
	if err != nil {
		t.Fatalf("Acquire of independent lock failed: %v", err)
	}
	defer r2(ctx)
}

func TestLocker_ExpiredHolderCannotReleaseNewOwner(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)
	locker := NewLocker(client, nil)

	staleRelease, err := locker.Acquire(ctx, "sweep", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond) // let the TTL expire

	newRelease, err := locker.Acquire(ctx, "sweep", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after expiry failed: %v", err)
	}

	// The stale holder's release is token-checked and must not free the
	// new owner's lock.
	if err := staleRelease(ctx); err != nil {
		t.Fatalf("stale release errored: %v", err)
	}
	if _, err := locker.Acquire(ctx, "sweep", time.Minute); !errors.Is(err, credits.ErrLockNotAcquired) {
		t.Errorf("stale release freed the new owner's lock")
	}

	_ = newRelease(ctx)
}
