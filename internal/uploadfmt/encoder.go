package uploadfmt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sort"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Encoder writes upload objects to an io.Writer.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates a new object encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes the complete object and returns the bytes written.
func (e *Encoder) Encode(obj *Object) (int64, error) {
	buf, err := EncodeToBytes(obj)
	if err != nil {
		return 0, err
	}
	n, err := e.w.Write(buf)
	return int64(n), err
}

// EncodeToBytes encodes an object to an in-memory buffer.
func EncodeToBytes(obj *Object) ([]byte, error) {
	sortedChunks := make([]Chunk, len(obj.Chunks))
	copy(sortedChunks, obj.Chunks)
	sort.Slice(sortedChunks, func(i, j int) bool {
		return sortedChunks[i].StreamID < sortedChunks[j].StreamID
	})

	type chunkLayout struct {
		offset uint64
		length uint32
	}

	bodies := make([][]byte, len(sortedChunks))
	layouts := make([]chunkLayout, len(sortedChunks))
	currentOffset := uint64(HeaderSize)

	for i, chunk := range sortedChunks {
		raw := encodeChunkBodyRaw(chunk)
		compressed, err := compress(obj.Codec, raw)
		if err != nil {
			return nil, fmt.Errorf("uploadfmt: compress chunk for stream %d: %w", chunk.StreamID, err)
		}
		bodies[i] = compressed
		layouts[i].offset = currentOffset
		layouts[i].length = uint32(len(compressed))
		currentOffset += uint64(len(compressed))
	}

	chunkIndexOffset := currentOffset
	totalSize := chunkIndexOffset + uint64(ChunkIndexEntrySize*len(sortedChunks)) + FooterSize
	buf := make([]byte, totalSize)

	offset := 0
	offset += encodeHeader(buf[offset:], obj, uint32(len(sortedChunks)), chunkIndexOffset)

	for i := range sortedChunks {
		n := copy(buf[offset:], bodies[i])
		offset += n
	}

	for i, chunk := range sortedChunks {
		offset += encodeChunkIndexEntry(buf[offset:], chunk, layouts[i].offset, layouts[i].length)
	}

	crc := crc32.Checksum(buf[:offset], crc32cTable)
	binary.BigEndian.PutUint32(buf[offset:], crc)

	return buf, nil
}

func encodeHeader(buf []byte, obj *Object, chunkCount uint32, chunkIndexOffset uint64) int {
	offset := 0
	copy(buf[offset:], MagicBytes)
	offset += 7
	binary.BigEndian.PutUint16(buf[offset:], Version)
	offset += 2
	copy(buf[offset:], obj.ObjectID[:])
	offset += 16
	binary.BigEndian.PutUint32(buf[offset:], obj.MetaDomain)
	offset += 4
	binary.BigEndian.PutUint64(buf[offset:], uint64(obj.CreatedAtUnixMs))
	offset += 8
	buf[offset] = byte(obj.Codec)
	offset++
	binary.BigEndian.PutUint32(buf[offset:], chunkCount)
	offset += 4
	binary.BigEndian.PutUint64(buf[offset:], chunkIndexOffset)
	offset += 8
	return offset
}

func encodeChunkIndexEntry(buf []byte, chunk Chunk, chunkOffset uint64, chunkLength uint32) int {
	offset := 0
	binary.BigEndian.PutUint64(buf[offset:], chunk.StreamID)
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], chunkOffset)
	offset += 8
	binary.BigEndian.PutUint32(buf[offset:], chunkLength)
	offset += 4
	binary.BigEndian.PutUint32(buf[offset:], chunk.RecordCount)
	offset += 4
	binary.BigEndian.PutUint32(buf[offset:], uint32(len(chunk.Batches)))
	offset += 4
	binary.BigEndian.PutUint64(buf[offset:], uint64(chunk.MinTimestampMs))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(chunk.MaxTimestampMs))
	offset += 8
	return offset
}

// encodeChunkBodyRaw serializes a chunk's batches, uncompressed:
// length-prefixed base/last offset plus payload per batch.
func encodeChunkBodyRaw(chunk Chunk) []byte {
	size := calculateChunkBodySize(chunk)
	buf := make([]byte, size)
	offset := 0
	for _, batch := range chunk.Batches {
		binary.BigEndian.PutUint64(buf[offset:], uint64(batch.BaseOffset))
		offset += 8
		binary.BigEndian.PutUint64(buf[offset:], uint64(batch.LastOffset))
		offset += 8
		binary.BigEndian.PutUint32(buf[offset:], uint32(len(batch.Payload)))
		offset += 4
		copy(buf[offset:], batch.Payload)
		offset += len(batch.Payload)
	}
	return buf
}

func calculateChunkBodySize(chunk Chunk) uint32 {
	var size uint32
	for _, batch := range chunk.Batches {
		size += 8 + 8 + 4 + uint32(len(batch.Payload))
	}
	return size
}

// CalculateUncompressedSize returns the expected encoded size of an
// object if no compression is applied; used by callers sizing buffers or
// deciding whether compression is worthwhile.
func CalculateUncompressedSize(obj *Object) uint64 {
	var chunkBodySize uint64
	for _, chunk := range obj.Chunks {
		chunkBodySize += uint64(calculateChunkBodySize(chunk))
	}
	return uint64(HeaderSize) +
		chunkBodySize +
		uint64(ChunkIndexEntrySize*len(obj.Chunks)) +
		FooterSize
}

func compress(codec Codec, raw []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return raw, nil
	case CodecSnappy:
		return snappy.Encode(nil, raw), nil
	case CodecLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CodecZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("uploadfmt: unknown codec %d", codec)
	}
}
