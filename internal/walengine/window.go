package walengine

import (
	"context"
	"fmt"
	"sync"
)

// WindowConfig carries the sliding window's growth tunables, matching the
// original's BlockWALServiceBuilder defaults: slidingWindowInitialSize
// (1<<20), slidingWindowUpperLimit (512<<20), slidingWindowScaleUnit
// (4<<20), and blockSoftLimit (128<<10).
type WindowConfig struct {
	InitialSize int64
	UpperLimit  int64
	ScaleUnit   int64
	// SoftLimit caps how many bytes of coalesced records a block accepts
	// before the committer seals it early, to bound write latency
	// (spec.md §4.4's block_soft_limit).
	SoftLimit int64
}

// DefaultWindowConfig returns the original's defaults.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		InitialSize: 1 << 20,
		UpperLimit:  512 << 20,
		ScaleUnit:   4 << 20,
		SoftLimit:   128 << 10,
	}
}

// blockRecord is one record waiting to be coalesced into a block and
// completed as a single I/O, alongside every other record the block ends
// up carrying. build encodes the record's frame once its final logical
// offset is known, at seal time.
type blockRecord struct {
	size   int64 // unaligned encoded frame size (header + body)
	build  func(offset int64) []byte
	result chan appendOutcome
}

type appendOutcome struct {
	offset int64
	err    error
}

// pendingBlock is the sliding window's "current block" accumulator
// (spec.md §4.4): the in-flight set of records a single worker will write
// as one physical I/O.
type pendingBlock struct {
	startOffset int64
	size        int64
	records     []*blockRecord
}

// add coalesces rec into the block, unless doing so would cross
// softLimit and the block already holds something — in which case the
// caller must seal this block and start a new one. A block that is still
// empty always accepts its first record, even one larger than softLimit,
// so no record is ever rejected outright here.
func (b *pendingBlock) add(rec *blockRecord, softLimit int64) bool {
	if len(b.records) > 0 && b.size+rec.size > softLimit {
		return false
	}
	b.records = append(b.records, rec)
	b.size += rec.size
	return true
}

// slidingWindow tracks the logical extent of the ring currently in use:
// [startOffset, nextWriteOffset) is the range that has been (or is about
// to be) written, plus the current block accumulating new records.
// maxLength is the window's current admitted capacity, grown in
// ScaleUnit increments up to UpperLimit as blocks are created, per
// spec.md's §4.4 growth rule.
type slidingWindow struct {
	cfg WindowConfig

	recordSectionCapacity int64

	mu              sync.Mutex
	startOffset     int64
	nextWriteOffset int64
	maxLength       int64
	closed          bool
	current         *pendingBlock
}

func newSlidingWindow(cfg WindowConfig, recordSectionCapacity int64) *slidingWindow {
	return &slidingWindow{
		cfg:                   cfg,
		recordSectionCapacity: recordSectionCapacity,
		maxLength:             cfg.InitialSize,
	}
}

// restore seeds the window from a recovered header.
func (w *slidingWindow) restore(start, next, maxLen int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.startOffset = start
	w.nextWriteOffset = next
	if maxLen > 0 {
		w.maxLength = maxLen
	}
}

func (w *slidingWindow) snapshot() (start, next, maxLen int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startOffset, w.nextWriteOffset, w.maxLength
}

// reserve assigns a logical offset for a single size-byte record, growing
// the window (up to UpperLimit) if needed. It never blocks: once the
// window is already at UpperLimit and the reservation still doesn't fit,
// it fails synchronously with ErrOverCapacity, per spec.md §5 ("append
// never blocks a producer thread... it may fail synchronously with
// OverCapacity"). Kept as the single-record primitive for tests and for
// callers outside the block-coalescing path; the coalescing path below
// (addRecord/startBlockLocked) shares its growth logic via reserveLocked.
func (w *slidingWindow) reserve(ctx context.Context, size int64) (int64, error) {
	aligned := alignUp(size)
	if aligned > w.recordSectionCapacity {
		return 0, fmt.Errorf("%w: %d bytes exceeds ring capacity %d", ErrRecordTooLarge, size, w.recordSectionCapacity)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	return w.reserveLocked(aligned)
}

// reserveLocked is reserve's body, run with w.mu already held: find the
// next non-wrapping aligned slot, grow maxLength in ScaleUnit steps if
// the candidate doesn't fit yet, and fail synchronously if it still
// doesn't fit at UpperLimit.
func (w *slidingWindow) reserveLocked(aligned int64) (int64, error) {
	// A record is never split across the physical wrap point: if this one
	// would cross it, the remaining tail of the ring is padding and the
	// record starts fresh at the next ring boundary. This keeps every
	// read during recovery a single contiguous I/O.
	candidate := w.nextWriteOffset
	posInRing := candidate % w.recordSectionCapacity
	if posInRing+aligned > w.recordSectionCapacity {
		candidate += w.recordSectionCapacity - posInRing
	}
	need := candidate + aligned - w.startOffset
	for need > w.maxLength && w.maxLength < w.cfg.UpperLimit {
		grown := w.maxLength + w.cfg.ScaleUnit
		if grown > w.cfg.UpperLimit {
			grown = w.cfg.UpperLimit
		}
		w.maxLength = grown
	}
	if need > w.maxLength {
		return 0, ErrOverCapacity
	}
	w.nextWriteOffset = candidate + aligned
	return candidate, nil
}

// startBlockLocked begins a new current block at the next block-aligned
// offset, using recordSize (the record that triggered the new block) to
// decide whether the window needs to grow, per spec.md §4.4: "When a new
// block is created, if window_next_write_offset - window_start_offset +
// record_size > window_max_length, first attempt to grow... if that
// still isn't enough, fail with OverCapacity." The wrap check uses
// SoftLimit (or recordSize if larger) as a conservative bound on how big
// this block could grow before it is sealed, so no in-progress block
// ever straddles the ring's physical wrap point.
func (w *slidingWindow) startBlockLocked(recordSize int64) (*pendingBlock, error) {
	candidate := alignUp(w.nextWriteOffset)
	posInRing := candidate % w.recordSectionCapacity
	estimate := w.cfg.SoftLimit
	if aligned := alignUp(recordSize); aligned > estimate {
		estimate = aligned
	}
	if posInRing+estimate > w.recordSectionCapacity {
		candidate += w.recordSectionCapacity - posInRing
	}

	need := candidate + recordSize - w.startOffset
	for need > w.maxLength && w.maxLength < w.cfg.UpperLimit {
		grown := w.maxLength + w.cfg.ScaleUnit
		if grown > w.cfg.UpperLimit {
			grown = w.cfg.UpperLimit
		}
		w.maxLength = grown
	}
	if need > w.maxLength {
		return nil, ErrOverCapacity
	}
	return &pendingBlock{startOffset: candidate}, nil
}

// sealLocked finalizes blk's place in the ring: nextWriteOffset advances
// past its block-aligned size, so the next block (or single-record
// reserve) starts after it.
func (w *slidingWindow) sealLocked(blk *pendingBlock) {
	end := blk.startOffset + alignUp(blk.size)
	if end > w.nextWriteOffset {
		w.nextWriteOffset = end
	}
}

// addRecord coalesces rec into the current block under a short critical
// section (spec.md §4.4's "block lock"). Whenever rec doesn't fit in the
// current block, or admitting it crosses SoftLimit, the current block is
// sealed and handed to dispatch; a fresh block is then started (and rec
// added to it) before the lock is released. dispatch is called with
// w.mu NOT held, so it is free to hand the block to an I/O worker pool
// without contending with concurrent appenders.
func (w *slidingWindow) addRecord(rec *blockRecord, dispatch func(*pendingBlock)) error {
	w.mu.Lock()

	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}

	var sealed *pendingBlock
	if w.current != nil && !w.current.add(rec, w.cfg.SoftLimit) {
		sealed = w.current
		w.sealLocked(sealed)
		w.current = nil
	}

	if w.current == nil {
		blk, err := w.startBlockLocked(rec.size)
		if err != nil {
			w.mu.Unlock()
			if sealed != nil {
				dispatch(sealed)
			}
			return err
		}
		blk.add(rec, w.cfg.SoftLimit) // always succeeds: block is empty
		w.current = blk
	}

	var sealedBySoftLimit *pendingBlock
	if w.current.size >= w.cfg.SoftLimit {
		sealedBySoftLimit = w.current
		w.sealLocked(sealedBySoftLimit)
		w.current = nil
	}

	w.mu.Unlock()

	if sealed != nil {
		dispatch(sealed)
	}
	if sealedBySoftLimit != nil {
		dispatch(sealedBySoftLimit)
	}
	return nil
}

// sealCurrent seals and returns whatever the current block holds (nil if
// empty), for draining on shutdown.
func (w *slidingWindow) sealCurrent() *pendingBlock {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	blk := w.current
	w.sealLocked(blk)
	w.current = nil
	return blk
}

// advanceStart moves the window's trusted start offset forward after a
// trim has been durably recorded in the header.
func (w *slidingWindow) advanceStart(offset int64) {
	w.mu.Lock()
	if offset > w.startOffset {
		w.startOffset = offset
	}
	w.mu.Unlock()
}

// reset collapses the window to a single point, used both by the
// deliberate one-block-gap reset (§ Open Question 1) and by ungraceful
// recovery (§ Open Question 2), both of which set start == next.
func (w *slidingWindow) reset(offset int64) {
	w.mu.Lock()
	w.startOffset = offset
	w.nextWriteOffset = offset
	w.maxLength = w.cfg.InitialSize
	w.current = nil
	w.mu.Unlock()
}

func (w *slidingWindow) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// physicalPosition maps a logical record-section offset onto its physical
// byte position on the channel, wrapping around the record section and
// skipping the header reserve at the front of the device.
func physicalPosition(recordOffset, recordSectionCapacity int64) int64 {
	return HeaderReserve + recordOffset%recordSectionCapacity
}

// alignLargeByBlockSize rounds a logical offset up to the next block
// boundary, used when establishing a scan start for recovery.
func alignLargeByBlockSize(offset int64) int64 {
	return alignUp(offset)
}
