package walengine

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	body := []byte("hello durability core")
	offset := int64(4096)
	frame := EncodeRecord(offset, body)

	if len(frame) != RecordHeaderSize+len(body) {
		t.Fatalf("frame length = %d, want %d", len(frame), RecordHeaderSize+len(body))
	}

	bodyLen, err := decodeRecordHeader(frame, physicalPosition(offset, 1<<30), offset)
	if err != nil {
		t.Fatalf("decodeRecordHeader: %v", err)
	}
	if bodyLen != len(body) {
		t.Fatalf("bodyLen = %d, want %d", bodyLen, len(body))
	}
	if err := decodeRecordBody(frame[:RecordHeaderSize], frame[RecordHeaderSize:]); err != nil {
		t.Fatalf("decodeRecordBody: %v", err)
	}
}

func TestDecodeRecordHeaderStaleSlot(t *testing.T) {
	body := []byte("payload")
	frame := EncodeRecord(100, body)

	// Decoding at a different logical offset than the one it was encoded
	// for must report a stale slot, not corruption: it's ring leftover.
	_, err := decodeRecordHeader(frame, 200, 200)
	if err == nil {
		t.Fatal("expected error for mismatched logical offset")
	}
	var ce *CorruptError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CorruptError, got %T", err)
	}
}

func TestDecodeRecordHeaderBadMagic(t *testing.T) {
	frame := EncodeRecord(0, []byte("x"))
	frame[0] ^= 0xFF
	_, err := decodeRecordHeader(frame, 0, 0)
	if err == nil {
		t.Fatal("expected error for corrupted magic")
	}
}

func TestDecodeRecordBodyCRCMismatch(t *testing.T) {
	frame := EncodeRecord(0, []byte("original"))
	body := bytes.Clone(frame[RecordHeaderSize:])
	body[0] ^= 0xFF
	if err := decodeRecordBody(frame[:RecordHeaderSize], body); err == nil {
		t.Fatal("expected crc mismatch error")
	}
}
