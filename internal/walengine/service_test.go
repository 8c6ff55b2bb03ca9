package walengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig(dir+"/wal.bin", 4<<20)
	cfg.HeaderFlushInterval = time.Hour
	cfg.Window.InitialSize = 64 * 1024
	cfg.Window.ScaleUnit = 64 * 1024
	cfg.Window.UpperLimit = 1 << 20
	return cfg
}

func TestAppendAndRecoverRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	svc := New(cfg, nil)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for _, body := range want {
		if _, err := svc.Append(ctx, body); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if err := svc.ShutdownGracefully(ctx); err != nil {
		t.Fatalf("ShutdownGracefully: %v", err)
	}

	svc2 := New(cfg, nil)
	if err := svc2.Start(ctx); err != nil {
		t.Fatalf("Start (reopen): %v", err)
	}
	defer svc2.ShutdownGracefully(ctx)

	if svc2.DataLossOccurred() {
		t.Fatal("graceful shutdown must not report data loss")
	}

	it, err := svc2.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	var got [][]byte
	for {
		rec, err := it.Next()
		if err == ErrIteratorDone {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, rec.Body)
	}
	if len(got) != len(want) {
		t.Fatalf("recovered %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i]) != string(want[i]) {
			t.Fatalf("record %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUngracefulRecoveryReportsDataLossAndCollapsesWindow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	svc := New(cfg, nil)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, body := range [][]byte{[]byte("one"), []byte("two")} {
		if _, err := svc.Append(ctx, body); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// Simulate a crash: close the file out from under the service without
	// the graceful shutdown flush, leaving the header's last-flushed
	// ShutdownType as Ungraceful from Start's own initial flush.
	svc.ch.Close()

	svc2 := New(cfg, nil)
	err := svc2.Start(ctx)
	if !errors.Is(err, ErrDataLoss) {
		t.Fatalf("Start after crash: got %v, want ErrDataLoss", err)
	}
	defer svc2.ShutdownGracefully(ctx)

	if !svc2.DataLossOccurred() {
		t.Fatal("expected DataLossOccurred after ungraceful recovery")
	}

	start, next, _ := svc2.WindowSnapshot()
	if start != next {
		t.Fatalf("collapsed window must have start == next, got start=%d next=%d", start, next)
	}
}

func TestResetLeavesOneBlockGap(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	svc := New(cfg, nil)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.ShutdownGracefully(ctx)

	if _, err := svc.Append(ctx, []byte("payload")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_, previousNext, _ := svc.WindowSnapshot()

	if err := svc.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	start, next, _ := svc.WindowSnapshot()
	if start != next {
		t.Fatalf("reset window must collapse to a point, got start=%d next=%d", start, next)
	}
	if start != previousNext+BlockSize {
		t.Fatalf("reset start = %d, want previousNext(%d)+BlockSize", start, previousNext)
	}
}

func TestAppendFailsOverCapacityWithoutBlocking(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Window.InitialSize = 4096
	cfg.Window.ScaleUnit = 4096
	cfg.Window.UpperLimit = 4096
	cfg.Window.SoftLimit = 4096

	svc := New(cfg, nil)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.ShutdownGracefully(ctx)

	body := make([]byte, 4096)
	if _, err := svc.Append(ctx, body); err != nil {
		t.Fatalf("first Append: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Append(ctx, body)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrOverCapacity) {
			t.Fatalf("second Append = %v, want ErrOverCapacity", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Append blocked instead of failing synchronously with ErrOverCapacity")
	}
}

func TestAppendCoalescesConcurrentRecordsIntoOneBlock(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	svc := New(cfg, nil)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.ShutdownGracefully(ctx)

	const n = 32
	body := []byte("payload")
	var wg sync.WaitGroup
	offsets := make([]int64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			offsets[i], errs[i] = svc.Append(ctx, body)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	seen := make(map[int64]bool, n)
	for _, off := range offsets {
		if seen[off] {
			t.Fatalf("duplicate offset %d assigned to two records", off)
		}
		seen[off] = true
	}

	// Coalescing packs records back-to-back without per-record block
	// padding, so n small records advance nextWriteOffset by far less
	// than n*BlockSize.
	_, next, _ := svc.WindowSnapshot()
	if next >= int64(n)*BlockSize {
		t.Fatalf("nextWriteOffset=%d did not reflect coalescing (n*BlockSize=%d)", next, int64(n)*BlockSize)
	}
}

func TestTrimRejectsOffsetAtOrAfterWindowStart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	svc := New(cfg, nil)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.ShutdownGracefully(ctx)

	start, _, _ := svc.WindowSnapshot()
	if err := svc.Trim(start); !errors.Is(err, ErrTrimAhead) {
		t.Fatalf("Trim(start) = %v, want ErrTrimAhead", err)
	}
}
