package walengine

import (
	"context"
	"errors"
	"testing"
)

func TestSlidingWindowGrowsUpToUpperLimit(t *testing.T) {
	cfg := WindowConfig{InitialSize: 4096, ScaleUnit: 4096, UpperLimit: 12288}
	w := newSlidingWindow(cfg, 1<<20)

	ctx := context.Background()
	if _, err := w.reserve(ctx, 8192); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, _, maxLen := w.snapshot()
	if maxLen < 8192 {
		t.Fatalf("window did not grow to admit reservation: maxLen=%d", maxLen)
	}
	if maxLen > cfg.UpperLimit {
		t.Fatalf("window grew past upper limit: maxLen=%d > %d", maxLen, cfg.UpperLimit)
	}
}

func TestSlidingWindowReserveFailsOverCapacityThenSucceedsAfterAdvanceStart(t *testing.T) {
	cfg := WindowConfig{InitialSize: 4096, ScaleUnit: 4096, UpperLimit: 4096}
	w := newSlidingWindow(cfg, 1<<20)

	ctx := context.Background()
	if _, err := w.reserve(ctx, 4096); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	// The window is already at UpperLimit and full: reserve must fail
	// synchronously with ErrOverCapacity instead of blocking (spec.md
	// §5 — append never blocks a producer thread).
	if _, err := w.reserve(ctx, 4096); !errors.Is(err, ErrOverCapacity) {
		t.Fatalf("reserve while full = %v, want ErrOverCapacity", err)
	}

	w.advanceStart(4096)

	if _, err := w.reserve(ctx, 4096); err != nil {
		t.Fatalf("reserve after advanceStart: %v", err)
	}
}

func TestSlidingWindowReserveRejectsCancelledContextUpfront(t *testing.T) {
	cfg := WindowConfig{InitialSize: 4096, ScaleUnit: 4096, UpperLimit: 4096}
	w := newSlidingWindow(cfg, 1<<20)

	cctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := w.reserve(cctx, 4096); err == nil {
		t.Fatal("expected reserve to fail once context is already cancelled")
	}
}

func TestPhysicalPositionWraps(t *testing.T) {
	const capacity = 1 << 20
	if got := physicalPosition(0, capacity); got != HeaderReserve {
		t.Fatalf("physicalPosition(0) = %d, want %d", got, HeaderReserve)
	}
	if got := physicalPosition(capacity, capacity); got != HeaderReserve {
		t.Fatalf("physicalPosition(capacity) = %d, want %d (wrap)", got, HeaderReserve)
	}
}
