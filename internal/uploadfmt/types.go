// Package uploadfmt implements the wire format of an upload object: the
// artifact the Upload Pipeline (internal/upload) writes to object storage
// once a run of WAL-acknowledged records has been sealed out of the log
// cache. One object holds, per stream, every record batch sealed into it,
// indexed so a reader can fetch a single stream's data by seeking
// straight to its chunk without decoding the whole object.
//
// Adapted from the teacher's internal/wal package (its "WAL object"
// format), generalized from Kafka-specific record batches to the opaque
// StreamRecordBatch payload this spec's data model uses, and extended
// with an object-wide compression codec.
package uploadfmt

import (
	"github.com/google/uuid"
)

// MagicBytes identifies a Dray upload object, v1.
const MagicBytes = "DRAYUO1"

// Version is the current format version.
const Version uint16 = 1

// HeaderSize is the fixed size of the object header in bytes: magic(7) +
// version(2) + objectID(16) + metaDomain(4) + createdAtUnixMs(8) +
// codec(1) + chunkCount(4) + chunkIndexOffset(8).
const HeaderSize = 50

// ChunkIndexEntrySize is the fixed size of each chunk index entry.
const ChunkIndexEntrySize = 44

// FooterSize is the size of the CRC32C footer.
const FooterSize = 4

// Codec identifies the compression applied to every chunk body in an
// object. Chosen per object at Flush time (internal/upload), not per
// chunk, so the whole object is decoded with one codec.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecSnappy
	CodecLZ4
	CodecZstd
)

// Header is the upload object file header.
type Header struct {
	Magic            [7]byte
	Version          uint16
	ObjectID         uuid.UUID
	MetaDomain       uint32
	CreatedAtUnixMs  int64
	Codec            Codec
	ChunkCount       uint32
	ChunkIndexOffset uint64
}

// ChunkIndexEntry describes one stream's chunk within the object.
type ChunkIndexEntry struct {
	StreamID       uint64
	ChunkOffset    uint64
	ChunkLength    uint32 // length of the (possibly compressed) body on disk
	RecordCount    uint32
	BatchCount     uint32
	MinTimestampMs int64
	MaxTimestampMs int64
}

// RecordBatch is one opaque, already-framed batch of stream records as
// handed off by the Storage Orchestrator once a WAL append has been
// acknowledged. BaseOffset/LastOffset are the stream-logical offsets the
// batch covers; Payload is never interpreted by this package.
type RecordBatch struct {
	BaseOffset     int64
	LastOffset     int64
	Payload        []byte
	MinTimestampMs int64
	MaxTimestampMs int64
}

// Chunk is a single stream's contribution to an object: every batch
// sealed for that stream since the previous object was cut.
type Chunk struct {
	StreamID       uint64
	Batches        []RecordBatch
	RecordCount    uint32
	MinTimestampMs int64
	MaxTimestampMs int64
}

// Object is a complete upload object ready for encoding.
type Object struct {
	ObjectID        uuid.UUID
	MetaDomain      uint32
	CreatedAtUnixMs int64
	Codec           Codec
	Chunks          []Chunk
}

// NewObject creates an empty object.
func NewObject(objectID uuid.UUID, metaDomain uint32, createdAtUnixMs int64, codec Codec) *Object {
	return &Object{
		ObjectID:        objectID,
		MetaDomain:      metaDomain,
		CreatedAtUnixMs: createdAtUnixMs,
		Codec:           codec,
		Chunks:          make([]Chunk, 0),
	}
}

// AddChunk appends a chunk. Chunks are sorted by StreamID during encoding.
func (o *Object) AddChunk(chunk Chunk) {
	o.Chunks = append(o.Chunks, chunk)
}
