//go:build integration

package device_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miott/specrun/internal/testutil"
	"github.com/miott/specrun/pkg/device"
	"github.com/miott/specrun/pkg/util"
)

func newLocker(t *testing.T, holder string) *device.RedisLocker {
	t.Helper()
	l, err := device.NewRedisLocker(testutil.RedisAddr(), holder)
	if err != nil {
		t.Fatalf("NewRedisLocker failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	testutil.FlushAll(t)

	ctx := testutil.Context(t)
	l := newLocker(t, "runner-a")

	if err := l.Acquire(ctx, "ddmi-9500-2"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := l.Release(ctx, "ddmi-9500-2"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestRedisLockerContention(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	testutil.FlushAll(t)

	ctx := testutil.Context(t)
	a := newLocker(t, "runner-a")
	b := newLocker(t, "runner-b")
	b.RetryInterval = 50 * time.Millisecond

	if err := a.Acquire(ctx, "ddmi-9500-2"); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	// Second runner times out while the first holds the device.
	short, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	err := b.Acquire(short, "ddmi-9500-2")
	if !errors.Is(err, util.ErrDeviceLocked) {
		t.Fatalf("contended Acquire = %v, want ErrDeviceLocked", err)
	}

	// After release the second runner gets the lock.
	if err := a.Release(ctx, "ddmi-9500-2"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := b.Acquire(ctx, "ddmi-9500-2"); err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	if err := b.Release(ctx, "ddmi-9500-2"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestRedisLockerReleaseHolderMismatch(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	testutil.FlushAll(t)

	ctx := testutil.Context(t)
	a := newLocker(t, "runner-a")
	b := newLocker(t, "runner-b")

	if err := a.Acquire(ctx, "ddmi-9500-2"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := b.Release(ctx, "ddmi-9500-2"); err == nil {
		t.Fatal("Release by non-holder succeeded, want error")
	}
	if err := a.Release(ctx, "ddmi-9500-2"); err != nil {
		t.Fatalf("Release by holder failed: %v", err)
	}
}

func TestRedisLockerIndependentDevices(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	testutil.FlushAll(t)

	ctx := testutil.Context(t)
	a := newLocker(t, "runner-a")
	b := newLocker(t, "runner-b")

	if err := a.Acquire(ctx, "ddmi-9500-2"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := b.Acquire(ctx, "ddmi-9500-3"); err != nil {
		t.Fatalf("Acquire of second device failed: %v", err)
	}
}
