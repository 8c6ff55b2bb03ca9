package walengine

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Record header layout, grounded on BlockWALService's RECORD_HEADER_SIZE
// (24 = 4+4+8+4+4) and RECORD_HEADER_WITHOUT_CRC_SIZE (20).
const (
	recordMagic = uint32(0x87654321)

	// RecordHeaderSize is the fixed framing overhead before each record's
	// body: magic(4) + bodyLength(4) + bodyOffset(8) + bodyCRC(4) +
	// headerCRC(4).
	RecordHeaderSize = 24
	recordHeaderWithoutCRCSize = 20
)

// Record is one frame written to the ring: a logical offset (the byte
// offset within the record section, monotonically increasing across the
// whole lifetime of the WAL, not wrapped) and an opaque body.
type Record struct {
	Offset int64
	Body   []byte
}

// EncodeRecord serializes a record's header+body frame. bodyOffset is
// recorded as offset+RecordHeaderSize so a reader can tell a freshly
// written record apart from stale ring content left over from a previous
// wrap of the ring at the same physical position: only an exact match
// proves this physical slot holds *this* logical record.
func EncodeRecord(offset int64, body []byte) []byte {
	buf := make([]byte, RecordHeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], recordMagic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(body)))
	binary.BigEndian.PutUint64(buf[8:16], uint64(offset+RecordHeaderSize))
	bodyCRC := crc32.ChecksumIEEE(body)
	binary.BigEndian.PutUint32(buf[16:20], bodyCRC)
	headerCRC := crc32.ChecksumIEEE(buf[:recordHeaderWithoutCRCSize])
	binary.BigEndian.PutUint32(buf[20:24], headerCRC)
	copy(buf[RecordHeaderSize:], body)
	return buf
}

// CorruptError is returned when a record frame fails validation. JumpOffset
// is the logical offset a scanner should resume at: always the next
// block boundary strictly after the offset that failed to decode,
// matching ReadRecordException.jumpNextRecoverOffset in the original.
type CorruptError struct {
	Err        error
	JumpOffset int64
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%v (resume at %d)", e.Err, e.JumpOffset)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// decodeRecordHeader parses and validates the 24-byte header at buf,
// which was read from physical position pos (record's expected logical
// offset is recordOffset). It returns the body length on success.
func decodeRecordHeader(buf []byte, pos int64, recordOffset int64) (bodyLen int, err error) {
	jump := alignUp(recordOffset + 1)
	if len(buf) < RecordHeaderSize {
		return 0, &CorruptError{Err: fmt.Errorf("%w: header truncated", ErrCorruptRecord), JumpOffset: jump}
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != recordMagic {
		return 0, &CorruptError{Err: fmt.Errorf("%w: bad magic %#x", ErrStaleSlot, magic), JumpOffset: jump}
	}
	headerCRC := crc32.ChecksumIEEE(buf[:recordHeaderWithoutCRCSize])
	wantHeaderCRC := binary.BigEndian.Uint32(buf[20:24])
	if headerCRC != wantHeaderCRC {
		return 0, &CorruptError{Err: fmt.Errorf("%w: header crc mismatch", ErrCorruptRecord), JumpOffset: jump}
	}
	length := binary.BigEndian.Uint32(buf[4:8])
	if length == 0 {
		return 0, &CorruptError{Err: fmt.Errorf("%w: zero-length body", ErrCorruptRecord), JumpOffset: jump}
	}
	bodyOffset := int64(binary.BigEndian.Uint64(buf[8:16]))
	if bodyOffset != recordOffset+RecordHeaderSize {
		// This physical slot holds older ring content left from a prior
		// wrap, not a record written at this logical offset. Not
		// corruption: there is simply nothing here yet.
		return 0, &CorruptError{Err: ErrStaleSlot, JumpOffset: jump}
	}
	return int(length), nil
}

// decodeRecordBody validates a record body already read from disk against
// the CRC captured in its header.
func decodeRecordBody(headerBuf, body []byte) error {
	wantCRC := binary.BigEndian.Uint32(headerBuf[16:20])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return fmt.Errorf("%w: body crc mismatch", ErrCorruptRecord)
	}
	return nil
}
