package walengine

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync/atomic"
	"time"
)

// Layout constants for the WAL header, grounded on BlockWALService's
// WALHeaderCoreData: two redundant 4096-byte-reserved slots at offsets 0
// and HeaderBlockSize, round-robin flushed so a crash mid-flush always
// leaves the other slot at the prior generation.
const (
	headerMagic = uint32(0x12345678)

	// HeaderSize is the marshaled size of a WALHeader record.
	HeaderSize = 60
	// headerSizeWithoutCRC is the prefix covered by the trailing CRC32.
	headerSizeWithoutCRC = 56

	// HeaderSlotCount is the number of redundant header copies kept.
	HeaderSlotCount = 2
	// HeaderBlockSize reserves one device block per header slot.
	HeaderBlockSize = BlockSize
	// HeaderReserve is the total space reserved for header slots at the
	// front of the device; record offset 0 is physical offset
	// HeaderReserve.
	HeaderReserve = HeaderSlotCount * HeaderBlockSize
)

// ShutdownType records whether the WAL was closed cleanly, used by
// recovery to decide whether a full ungraceful rescan is required.
type ShutdownType uint32

const (
	ShutdownUnknown     ShutdownType = 0
	ShutdownGraceful    ShutdownType = 1
	ShutdownUngraceful  ShutdownType = 2
)

// WALHeader is the 60-byte fixed-layout superblock describing the ring's
// capacity and the sliding window's current extent. Every field is kept
// in an atomic so concurrent appenders can read a consistent snapshot
// without a lock while a single flusher goroutine serializes writes.
type WALHeader struct {
	Capacity              int64
	TrimOffset            atomic.Int64
	LastWriteTimestamp    atomic.Int64 // nanotime, used to break ties between the two slots
	WindowNextWriteOffset atomic.Int64
	WindowStartOffset     atomic.Int64
	WindowMaxLength       atomic.Int64
	ShutdownType          atomic.Int64
}

// NewWALHeader builds a fresh header for a ring of the given capacity,
// used when neither on-disk slot validates (first run, or both corrupt).
func NewWALHeader(capacity int64) *WALHeader {
	h := &WALHeader{Capacity: capacity}
	h.ShutdownType.Store(int64(ShutdownUnknown))
	return h
}

// snapshot captures a consistent-enough view of the header for marshaling.
type headerSnapshot struct {
	capacity      int64
	trimOffset    int64
	lastWriteTS   int64
	nextWrite     int64
	windowStart   int64
	windowMaxLen  int64
	shutdownType  ShutdownType
}

func (h *WALHeader) snapshot() headerSnapshot {
	return headerSnapshot{
		capacity:     h.Capacity,
		trimOffset:   h.TrimOffset.Load(),
		lastWriteTS:  h.LastWriteTimestamp.Load(),
		nextWrite:    h.WindowNextWriteOffset.Load(),
		windowStart:  h.WindowStartOffset.Load(),
		windowMaxLen: h.WindowMaxLength.Load(),
		shutdownType: ShutdownType(h.ShutdownType.Load()),
	}
}

func marshalHeader(s headerSnapshot) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], headerMagic)
	binary.BigEndian.PutUint64(buf[4:12], uint64(s.capacity))
	binary.BigEndian.PutUint64(buf[12:20], uint64(s.trimOffset))
	binary.BigEndian.PutUint64(buf[20:28], uint64(s.lastWriteTS))
	binary.BigEndian.PutUint64(buf[28:36], uint64(s.nextWrite))
	binary.BigEndian.PutUint64(buf[36:44], uint64(s.windowStart))
	binary.BigEndian.PutUint64(buf[44:52], uint64(s.windowMaxLen))
	binary.BigEndian.PutUint32(buf[52:56], uint32(s.shutdownType))
	crc := crc32.ChecksumIEEE(buf[:headerSizeWithoutCRC])
	binary.BigEndian.PutUint32(buf[56:60], crc)
	return buf
}

func unmarshalHeader(buf []byte) (headerSnapshot, error) {
	var s headerSnapshot
	if len(buf) < HeaderSize {
		return s, fmt.Errorf("%w: header slot truncated (%d bytes)", ErrCorruptHeader, len(buf))
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != headerMagic {
		return s, fmt.Errorf("%w: bad magic %#x", ErrCorruptHeader, magic)
	}
	crc := crc32.ChecksumIEEE(buf[:headerSizeWithoutCRC])
	wantCRC := binary.BigEndian.Uint32(buf[56:60])
	if crc != wantCRC {
		return s, fmt.Errorf("%w: crc mismatch", ErrCorruptHeader)
	}
	s.capacity = int64(binary.BigEndian.Uint64(buf[4:12]))
	s.trimOffset = int64(binary.BigEndian.Uint64(buf[12:20]))
	s.lastWriteTS = int64(binary.BigEndian.Uint64(buf[20:28]))
	s.nextWrite = int64(binary.BigEndian.Uint64(buf[28:36]))
	s.windowStart = int64(binary.BigEndian.Uint64(buf[36:44]))
	s.windowMaxLen = int64(binary.BigEndian.Uint64(buf[44:52]))
	s.shutdownType = ShutdownType(binary.BigEndian.Uint32(buf[52:56]))
	return s, nil
}

func (s headerSnapshot) apply(h *WALHeader) {
	h.Capacity = s.capacity
	h.TrimOffset.Store(s.trimOffset)
	h.LastWriteTimestamp.Store(s.lastWriteTS)
	h.WindowNextWriteOffset.Store(s.nextWrite)
	h.WindowStartOffset.Store(s.windowStart)
	h.WindowMaxLength.Store(s.windowMaxLen)
	h.ShutdownType.Store(int64(s.shutdownType))
}

// headerFlusher owns the round-robin slot selection and serializes writes
// of the header to the block channel. Grounded on
// writeHeaderRoundTimes.getAndIncrement() % WAL_HEADER_COUNT.
type headerFlusher struct {
	ch      *BlockChannel
	round   atomic.Uint64
}

func newHeaderFlusher(ch *BlockChannel) *headerFlusher {
	return &headerFlusher{ch: ch}
}

// flush writes the header to the next slot in round-robin order and
// stamps LastWriteTimestamp with the current nanotime so recovery can
// pick the freshest of the two slots.
func (f *headerFlusher) flush(h *WALHeader) error {
	h.LastWriteTimestamp.Store(time.Now().UnixNano())
	s := h.snapshot()
	buf := marshalHeader(s)
	slot := f.round.Add(1) - 1
	position := int64(slot%HeaderSlotCount) * HeaderBlockSize
	return f.ch.Write(buf, position)
}

// recoverHeader reads both header slots and returns the one with the
// greatest LastWriteTimestamp (latest-write-wins), or a fresh header for
// the given capacity if neither slot validates. This never returns
// ErrCorruptHeader: a fresh header is always a legal fallback, matching
// BlockWALService.recoverWALHeader.
func recoverHeader(ch *BlockChannel, capacity int64) (*WALHeader, bool, error) {
	var candidates []headerSnapshot
	for slot := 0; slot < HeaderSlotCount; slot++ {
		buf := make([]byte, HeaderSize)
		if _, err := ch.Read(buf, int64(slot)*HeaderBlockSize); err != nil {
			continue
		}
		s, err := unmarshalHeader(buf)
		if err != nil {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return NewWALHeader(capacity), false, nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.lastWriteTS > best.lastWriteTS {
			best = c
		}
	}
	h := &WALHeader{}
	best.apply(h)
	return h, true, nil
}
