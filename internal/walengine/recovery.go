package walengine

import (
	"errors"
	"io"
)

// ErrIteratorDone is returned by RecoveryIterator.Next once the scan has
// reached its bound.
var ErrIteratorDone = errors.New("walengine: recovery iterator exhausted")

// RecoveryIterator lazily scans record frames starting at a given logical
// offset, grounded on BlockWALService.RecoverIterator. It tolerates
// corrupt or stale slots by jumping to the next block boundary and
// continuing, and can optionally skip exactly one physical offset: the
// original trim offset, whose slot was already handed to the caller by a
// previous recovery pass before the ring advanced past it (§ Open
// Question 3).
type RecoveryIterator struct {
	ch                    *BlockChannel
	recordSectionCapacity int64

	cur        int64
	limit      int64 // bytes remaining to scan
	skipOffset int64
	hasSkip    bool

	// Skipped counts frames discarded as corrupt or stale, for logging
	// and metrics; not part of the original's public surface but useful
	// to surface to a caller deciding whether to treat the WAL as
	// degraded.
	Skipped int
}

// newRecoveryIterator scans [start, start+limit) of the logical offset
// space. limit is given in bytes rather than as an end offset so the same
// type serves both the graceful recover() path (limit = windowNextWrite -
// start) and the ungraceful full-ring rescan (limit =
// recordSectionCapacity).
func newRecoveryIterator(ch *BlockChannel, recordSectionCapacity, start, limit int64, skipOffset int64, hasSkip bool) *RecoveryIterator {
	aligned := alignLargeByBlockSize(start)
	limit -= aligned - start
	return &RecoveryIterator{
		ch:                    ch,
		recordSectionCapacity: recordSectionCapacity,
		cur:                   aligned,
		limit:                 limit,
		skipOffset:            skipOffset,
		hasSkip:               hasSkip,
	}
}

// Next returns the next valid record, or ErrIteratorDone when the scan
// bound has been reached. It never returns a corrupt/stale frame; those
// are consumed internally and counted in Skipped.
func (it *RecoveryIterator) Next() (Record, error) {
	for it.limit > 0 {
		offset := it.cur
		rec, consumed, err := it.readFrame(offset)
		if err != nil {
			var ce *CorruptError
			if errors.As(err, &ce) {
				advanced := ce.JumpOffset - offset
				it.cur = ce.JumpOffset
				it.limit -= advanced
				it.Skipped++
				continue
			}
			return Record{}, err
		}
		it.cur = offset + consumed
		it.limit -= consumed
		if it.hasSkip && offset == it.skipOffset {
			continue
		}
		return rec, nil
	}
	return Record{}, ErrIteratorDone
}

// readFrame reads and validates the record frame logically located at
// offset, returning the record and the number of logical bytes it (and
// its alignment padding) consumed.
func (it *RecoveryIterator) readFrame(offset int64) (Record, int64, error) {
	pos := physicalPosition(offset, it.recordSectionCapacity)

	head := make([]byte, BlockSize)
	if _, err := it.ch.Read(head, pos); err != nil && err != io.EOF {
		return Record{}, 0, &CorruptError{Err: err, JumpOffset: alignUp(offset + 1)}
	}

	bodyLen, err := decodeRecordHeader(head, pos, offset)
	if err != nil {
		return Record{}, 0, err
	}

	total := int64(RecordHeaderSize + bodyLen)
	aligned := alignUp(total)

	frame := head
	if aligned > int64(len(head)) {
		frame = make([]byte, aligned)
		if _, err := it.ch.Read(frame, pos); err != nil && err != io.EOF {
			return Record{}, 0, &CorruptError{Err: err, JumpOffset: alignUp(offset + 1)}
		}
		if _, err := decodeRecordHeader(frame, pos, offset); err != nil {
			return Record{}, 0, err
		}
	}

	body := make([]byte, bodyLen)
	copy(body, frame[RecordHeaderSize:total])
	if err := decodeRecordBody(frame[:RecordHeaderSize], body); err != nil {
		return Record{}, 0, &CorruptError{Err: err, JumpOffset: alignUp(offset + 1)}
	}

	return Record{Offset: offset, Body: body}, aligned, nil
}
