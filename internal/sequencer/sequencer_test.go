package sequencer

import "testing"

func TestInOrderPersistDeliversImmediately(t *testing.T) {
	s := New()
	defer s.Close()

	req := &WalWriteRequest{StreamID: 1, Offset: 10, LastOffset: 20}
	s.Before(req)

	ready := s.After(req)
	if len(ready) != 1 || ready[0] != req {
		t.Fatalf("expected req to be immediately ready, got %v", ready)
	}
	if s.ConfirmOffset() != 10 {
		t.Fatalf("expected confirm offset 10, got %d", s.ConfirmOffset())
	}
}

func TestOutOfOrderPersistWithinStreamBlocksUntilPredecessor(t *testing.T) {
	s := New()
	defer s.Close()

	r1 := &WalWriteRequest{StreamID: 1, Offset: 1, LastOffset: 2}
	r2 := &WalWriteRequest{StreamID: 1, Offset: 2, LastOffset: 3}
	s.Before(r1)
	s.Before(r2)

	// r2's WAL write completes first.
	ready := s.After(r2)
	if len(ready) != 0 {
		t.Fatalf("expected r2 to stay blocked behind r1, got %v", ready)
	}

	// Now r1 completes: both should be released in order.
	ready = s.After(r1)
	if len(ready) != 2 || ready[0] != r1 || ready[1] != r2 {
		t.Fatalf("expected [r1, r2] released in order, got %v", ready)
	}
}

func TestGlobalConfirmOffsetAdvancesOnlyOnContiguousPrefix(t *testing.T) {
	s := New()
	defer s.Close()

	r1 := &WalWriteRequest{StreamID: 1, Offset: 1, LastOffset: 2}
	r2 := &WalWriteRequest{StreamID: 2, Offset: 2, LastOffset: 3}
	s.Before(r1)
	s.Before(r2)

	s.After(r2)
	if s.ConfirmOffset() != 0 {
		t.Fatalf("confirm offset should not advance past a gap, got %d", s.ConfirmOffset())
	}

	s.After(r1)
	if s.ConfirmOffset() != 2 {
		t.Fatalf("confirm offset should advance through the now-contiguous prefix, got %d", s.ConfirmOffset())
	}
}

func TestDifferentStreamsAreIndependentFIFOs(t *testing.T) {
	s := New()
	defer s.Close()

	a1 := &WalWriteRequest{StreamID: 1, Offset: 1, LastOffset: 2}
	b1 := &WalWriteRequest{StreamID: 2, Offset: 2, LastOffset: 3}
	s.Before(a1)
	s.Before(b1)

	ready := s.After(b1)
	if len(ready) != 1 || ready[0] != b1 {
		t.Fatalf("stream 2's request should deliver independently of stream 1, got %v", ready)
	}
}
