// Package sequencer implements the Callback Sequencer (C7): it turns the
// WAL engine's out-of-order completion signals into per-stream in-order
// delivery and a monotone global confirm offset.
//
// Grounded on the teacher's internal/produce.PendingRequest future
// pattern (Done channel + Err field), reshaped around the spec's
// before/after two-call protocol and its global+per-stream FIFO pair.
// Per spec §9 ("coroutine-free design"), both FIFOs are only ever
// touched from one goroutine: a single worker draining a request
// channel, so callers never need their own locking around Before/After.
package sequencer

import "sync"

// WalWriteRequest is one in-flight WAL append, tracked from the moment it
// is submitted (Before) until its WAL write is signalled durable (After).
type WalWriteRequest struct {
	StreamID   uint64
	Offset     int64
	LastOffset int64
	persisted  bool

	// UserData carries caller-defined context (e.g. the orchestrator's
	// pending append record) through the sequencer's FIFOs untouched.
	UserData any
}

// Sequencer serializes before/after calls onto a single worker goroutine
// so its two FIFOs never need their own lock.
type Sequencer struct {
	reqCh  chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup

	global      []*WalWriteRequest
	perStream   map[uint64][]*WalWriteRequest
	confirmOffset int64
}

func New() *Sequencer {
	s := &Sequencer{
		reqCh:     make(chan func(), 1024),
		stopCh:    make(chan struct{}),
		perStream: make(map[uint64][]*WalWriteRequest),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Sequencer) run() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.reqCh:
			fn()
		case <-s.stopCh:
			// Drain anything already queued before exiting so a
			// concurrent Before/After racing Close doesn't leak.
			for {
				select {
				case fn := <-s.reqCh:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Close stops the worker goroutine. Safe to call once.
func (s *Sequencer) Close() {
	close(s.stopCh)
	s.wg.Wait()
}

// Before enqueues req into both the global and per-stream FIFOs prior to
// WAL dispatch. Must be called before the corresponding After.
func (s *Sequencer) Before(req *WalWriteRequest) {
	done := make(chan struct{})
	s.reqCh <- func() {
		defer close(done)
		s.global = append(s.global, req)
		s.perStream[req.StreamID] = append(s.perStream[req.StreamID], req)
	}
	<-done
}

// After is called once the WAL signals req durable. It returns the
// consecutive persisted prefix of req's stream queue that is now ready
// for delivery to the cache, or nil if req is persisted but still
// blocked behind an earlier, not-yet-durable request in its stream.
func (s *Sequencer) After(req *WalWriteRequest) []*WalWriteRequest {
	done := make(chan struct{})
	var ready []*WalWriteRequest
	s.reqCh <- func() {
		defer close(done)
		req.persisted = true

		for len(s.global) > 0 && s.global[0].persisted {
			s.confirmOffset = s.global[0].Offset
			s.global = s.global[1:]
		}

		q := s.perStream[req.StreamID]
		if len(q) == 0 || q[0] != req {
			return
		}
		i := 0
		for i < len(q) && q[i].persisted {
			i++
		}
		ready = append(ready, q[:i]...)
		remaining := q[i:]
		if len(remaining) == 0 {
			delete(s.perStream, req.StreamID)
		} else {
			s.perStream[req.StreamID] = remaining
		}
	}
	<-done
	return ready
}

// ConfirmOffset returns the current WAL confirm offset: the greatest
// logical offset whose entire prefix is durable.
func (s *Sequencer) ConfirmOffset() int64 {
	done := make(chan struct{})
	var v int64
	s.reqCh <- func() {
		defer close(done)
		v = s.confirmOffset
	}
	<-done
	return v
}
