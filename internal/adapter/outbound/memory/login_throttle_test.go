package memory

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestLoginThrottle_BurstThenReject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	th := NewLoginThrottle(60, 3) // 1/s refill, burst 3

	for i := 0; i < 3; i++ {
		if !th.Allow(ctx, "alice") {
			t.Fatalf("Allow() #%d = false, want true within burst", i+1)
		}
	}
	if th.Allow(ctx, "alice") {
		t.Error("Allow() after burst = true, want false")
	}

	// A different key has its own budget.
	if !th.Allow(ctx, "bob") {
		t.Error("Allow(other key) = false, want true")
	}
}

func TestLoginThrottle_DisabledAllowsEverything(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	th := NewLoginThrottle(0, 1)
	for i := 0; i < 100; i++ {
		if !th.Allow(ctx, "alice") {
			t.Fatal("disabled throttle rejected an attempt")
		}
	}
}

func TestLoginThrottle_CleanupDropsIdleKeys(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	th := NewLoginThrottle(60, 3)
	th.cleanupInterval = 10 * time.Millisecond
	th.maxIdle = time.Nanosecond

	th.Allow(ctx, "alice")
	th.Allow(ctx, "bob")
	if th.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", th.Size())
	}

	th.StartCleanup(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for th.Size() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	th.Stop()

	if th.Size() != 0 {
		t.Errorf("Size() = %d after cleanup, want 0", th.Size())
	}
}

func TestLoginThrottle_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	th := NewLoginThrottle(60, 3)
	th.StartCleanup(context.Background())
	th.Stop()
	th.Stop()
}
