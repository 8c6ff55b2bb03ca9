package walengine

import "errors"

// Sentinel errors returned by the durability core. Wrapped with context via
// fmt.Errorf("%w", ...) at the call site; compare with errors.Is.
var (
	// ErrNotReady is returned when an operation is attempted before Start
	// has completed recovery, or after Shutdown has begun.
	ErrNotReady = errors.New("walengine: not ready")

	// ErrOverCapacity is returned by Append when the sliding window cannot
	// grow enough to admit the record without exceeding the configured
	// upper limit.
	ErrOverCapacity = errors.New("walengine: over capacity")

	// ErrRecordTooLarge is returned when a single record does not fit
	// within the record section even at the window's upper limit.
	ErrRecordTooLarge = errors.New("walengine: record too large for wal")

	// ErrCorruptHeader is returned when decoding a single WAL header slot
	// fails validation (bad magic or CRC mismatch). Recovery treats such a
	// slot as absent and, when both fail, starts from a fresh header
	// instead of returning this error.
	ErrCorruptHeader = errors.New("walengine: both header copies corrupt")

	// ErrCorruptRecord is returned internally while scanning records; a
	// corrupt record is not fatal to recovery, the scan jumps past it.
	ErrCorruptRecord = errors.New("walengine: corrupt record")

	// ErrStaleSlot indicates a record slot holds older ring content, not
	// a freshly-written record at this offset. Not a corruption: the scan
	// treats it as "nothing here" and jumps to the next block.
	ErrStaleSlot = errors.New("walengine: stale ring slot")

	// ErrDataLoss is surfaced once, after an ungraceful recovery, to tell
	// the caller that any records between the recovered window and the
	// previous advertised next-write offset may have been lost.
	ErrDataLoss = errors.New("walengine: possible data loss after ungraceful shutdown")

	// ErrShortWrite is returned when the block channel cannot complete a
	// write after exhausting its retry loop (e.g. device returned 0
	// repeatedly).
	ErrShortWrite = errors.New("walengine: short write")

	// ErrTrimAhead is returned by Trim when the requested offset is not
	// behind the current window start.
	ErrTrimAhead = errors.New("walengine: trim offset must precede window start")

	// ErrClosed is returned by any operation on a channel or service that
	// has already been closed.
	ErrClosed = errors.New("walengine: closed")
)
