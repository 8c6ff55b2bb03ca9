package uploadfmt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var (
	ErrInvalidMagic        = errors.New("uploadfmt: invalid magic bytes")
	ErrUnsupportedVersion  = errors.New("uploadfmt: unsupported version")
	ErrInvalidCRC          = errors.New("uploadfmt: crc32c mismatch")
	ErrTruncatedHeader     = errors.New("uploadfmt: truncated header")
	ErrTruncatedIndex      = errors.New("uploadfmt: truncated chunk index")
	ErrTruncatedChunk      = errors.New("uploadfmt: truncated chunk body")
	ErrTruncatedFooter     = errors.New("uploadfmt: truncated footer")
	ErrInvalidOffset       = errors.New("uploadfmt: invalid offset")
)

// Decoder reads upload objects from an io.Reader.
type Decoder struct {
	r io.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads and validates a complete object from the underlying reader.
func (d *Decoder) Decode() (*Object, error) {
	data, err := io.ReadAll(d.r)
	if err != nil {
		return nil, err
	}
	return DecodeFromBytes(data)
}

// DecodeFromBytes decodes a complete object already held in memory.
func DecodeFromBytes(data []byte) (*Object, error) {
	hdr, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if err := validateCRC(data); err != nil {
		return nil, err
	}

	entries, err := parseChunkIndex(data, hdr)
	if err != nil {
		return nil, err
	}

	obj := &Object{
		ObjectID:        hdr.ObjectID,
		MetaDomain:      hdr.MetaDomain,
		CreatedAtUnixMs: hdr.CreatedAtUnixMs,
		Codec:           hdr.Codec,
		Chunks:          make([]Chunk, 0, len(entries)),
	}
	for _, entry := range entries {
		chunk, err := parseChunkBody(data, entry, hdr.Codec)
		if err != nil {
			return nil, err
		}
		obj.Chunks = append(obj.Chunks, chunk)
	}
	return obj, nil
}

func parseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, ErrTruncatedHeader
	}
	if string(data[0:7]) != MagicBytes {
		return h, ErrInvalidMagic
	}
	copy(h.Magic[:], data[0:7])
	h.Version = binary.BigEndian.Uint16(data[7:9])
	if h.Version != Version {
		return h, ErrUnsupportedVersion
	}
	copy(h.ObjectID[:], data[9:25])
	h.MetaDomain = binary.BigEndian.Uint32(data[25:29])
	h.CreatedAtUnixMs = int64(binary.BigEndian.Uint64(data[29:37]))
	h.Codec = Codec(data[37])
	h.ChunkCount = binary.BigEndian.Uint32(data[38:42])
	h.ChunkIndexOffset = binary.BigEndian.Uint64(data[42:50])
	return h, nil
}

func validateCRC(data []byte) error {
	if len(data) < FooterSize {
		return ErrTruncatedFooter
	}
	body := data[:len(data)-FooterSize]
	want := binary.BigEndian.Uint32(data[len(data)-FooterSize:])
	got := crc32.Checksum(body, crc32cTable)
	if got != want {
		return ErrInvalidCRC
	}
	return nil
}

func parseChunkIndex(data []byte, hdr Header) ([]ChunkIndexEntry, error) {
	start := hdr.ChunkIndexOffset
	entries := make([]ChunkIndexEntry, 0, hdr.ChunkCount)
	for i := uint32(0); i < hdr.ChunkCount; i++ {
		end := start + ChunkIndexEntrySize
		if end > uint64(len(data)) {
			return nil, ErrTruncatedIndex
		}
		entries = append(entries, parseChunkIndexEntry(data[start:end]))
		start = end
	}
	return entries, nil
}

func parseChunkIndexEntry(buf []byte) ChunkIndexEntry {
	var e ChunkIndexEntry
	e.StreamID = binary.BigEndian.Uint64(buf[0:8])
	e.ChunkOffset = binary.BigEndian.Uint64(buf[8:16])
	e.ChunkLength = binary.BigEndian.Uint32(buf[16:20])
	e.RecordCount = binary.BigEndian.Uint32(buf[20:24])
	e.BatchCount = binary.BigEndian.Uint32(buf[24:28])
	e.MinTimestampMs = int64(binary.BigEndian.Uint64(buf[28:36]))
	e.MaxTimestampMs = int64(binary.BigEndian.Uint64(buf[36:44]))
	return e
}

func parseChunkBody(data []byte, entry ChunkIndexEntry, codec Codec) (Chunk, error) {
	start := entry.ChunkOffset
	end := start + uint64(entry.ChunkLength)
	if end > uint64(len(data)) {
		return Chunk{}, ErrTruncatedChunk
	}
	raw, err := decompress(codec, data[start:end])
	if err != nil {
		return Chunk{}, fmt.Errorf("uploadfmt: decompress chunk for stream %d: %w", entry.StreamID, err)
	}

	batches, err := parseBatches(raw, entry.BatchCount)
	if err != nil {
		return Chunk{}, err
	}

	return Chunk{
		StreamID:       entry.StreamID,
		Batches:        batches,
		RecordCount:    entry.RecordCount,
		MinTimestampMs: entry.MinTimestampMs,
		MaxTimestampMs: entry.MaxTimestampMs,
	}, nil
}

func parseBatches(raw []byte, count uint32) ([]RecordBatch, error) {
	batches := make([]RecordBatch, 0, count)
	offset := 0
	for i := uint32(0); i < count; i++ {
		if offset+20 > len(raw) {
			return nil, ErrTruncatedChunk
		}
		base := int64(binary.BigEndian.Uint64(raw[offset : offset+8]))
		last := int64(binary.BigEndian.Uint64(raw[offset+8 : offset+16]))
		length := int(binary.BigEndian.Uint32(raw[offset+16 : offset+20]))
		offset += 20
		if offset+length > len(raw) {
			return nil, ErrTruncatedChunk
		}
		payload := make([]byte, length)
		copy(payload, raw[offset:offset+length])
		offset += length
		batches = append(batches, RecordBatch{BaseOffset: base, LastOffset: last, Payload: payload})
	}
	return batches, nil
}

// GetObjectID reads only the object ID out of the header, without
// decoding the rest of the object.
func GetObjectID(data []byte) (uuid.UUID, error) {
	hdr, err := parseHeader(data)
	if err != nil {
		return uuid.UUID{}, err
	}
	return hdr.ObjectID, nil
}

func decompress(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil
	case CodecSnappy:
		return snappy.Decode(nil, data)
	case CodecLZ4:
		zr := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(zr)
	case CodecZstd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(dec)
	default:
		return nil, fmt.Errorf("uploadfmt: unknown codec %d", codec)
	}
}
