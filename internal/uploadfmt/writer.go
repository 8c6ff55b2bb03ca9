package uploadfmt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dray-io/dray/internal/objectstore"
	"github.com/google/uuid"
)

var (
	ErrMetaDomainMismatch = errors.New("uploadfmt: metadomain mismatch - all chunks must be from the same metadomain")
	ErrEmptyObject        = errors.New("uploadfmt: cannot flush an object with no chunks")
	ErrWriterClosed       = errors.New("uploadfmt: writer is closed")
)

// WriteResult describes a successfully written object.
type WriteResult struct {
	ObjectID        uuid.UUID
	Path            string
	MetaDomain      uint32
	CreatedAtUnixMs int64
	Size            int64
	ChunkOffsets    []ChunkOffset
}

// ChunkOffset is per-stream bookkeeping returned after a flush. The
// Upload Pipeline's commit stage does not read it; it builds its commit
// entries from the sealed cache block instead.
type ChunkOffset struct {
	StreamID       uint64
	RecordCount    uint32
	BatchCount     uint32
	MinTimestampMs int64
	MaxTimestampMs int64
}

// PathFormatter generates object storage keys for upload objects.
type PathFormatter interface {
	FormatPath(metaDomain uint32, objectID uuid.UUID) string
}

// DefaultPathFormatter lays objects out by metadata domain.
type DefaultPathFormatter struct {
	Prefix string
}

func (f *DefaultPathFormatter) FormatPath(metaDomain uint32, objectID uuid.UUID) string {
	if f.Prefix == "" {
		return fmt.Sprintf("wal/domain=%d/%s.wo", metaDomain, objectID.String())
	}
	return fmt.Sprintf("%s/wal/domain=%d/%s.wo", f.Prefix, metaDomain, objectID.String())
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	PathFormatter PathFormatter
	Codec         Codec
}

// Writer accumulates chunks for a single object and flushes them to
// object storage in one Put call, grounded on the teacher's wal.Writer.
type Writer struct {
	store         objectstore.Store
	pathFormatter PathFormatter
	codec         Codec
	metaDomain    *uint32
	chunks        []Chunk
	closed        bool
}

func NewWriter(store objectstore.Store, cfg *WriterConfig) *Writer {
	var pf PathFormatter = &DefaultPathFormatter{}
	codec := CodecNone
	if cfg != nil {
		if cfg.PathFormatter != nil {
			pf = cfg.PathFormatter
		}
		codec = cfg.Codec
	}
	return &Writer{store: store, pathFormatter: pf, codec: codec, chunks: make([]Chunk, 0)}
}

// AddChunk buffers a chunk for the next flush. Every chunk added between
// flushes must share the same metaDomain.
func (w *Writer) AddChunk(chunk Chunk, metaDomain uint32) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.metaDomain == nil {
		w.metaDomain = &metaDomain
	} else if *w.metaDomain != metaDomain {
		return ErrMetaDomainMismatch
	}
	w.chunks = append(w.chunks, chunk)
	return nil
}

func (w *Writer) ChunkCount() int       { return len(w.chunks) }
func (w *Writer) MetaDomain() *uint32   { return w.metaDomain }

// Flush encodes every buffered chunk into one object and writes it to
// object storage, then resets the writer for reuse.
func (w *Writer) Flush(ctx context.Context) (*WriteResult, error) {
	if w.closed {
		return nil, ErrWriterClosed
	}
	if len(w.chunks) == 0 {
		return nil, ErrEmptyObject
	}

	objectID := uuid.New()
	createdAt := time.Now().UnixMilli()
	metaDomain := *w.metaDomain

	obj := NewObject(objectID, metaDomain, createdAt, w.codec)
	for _, chunk := range w.chunks {
		obj.AddChunk(chunk)
	}

	data, err := EncodeToBytes(obj)
	if err != nil {
		return nil, fmt.Errorf("uploadfmt: encoding failed: %w", err)
	}

	path := w.pathFormatter.FormatPath(metaDomain, objectID)
	if err := w.store.Put(ctx, path, bytes.NewReader(data), int64(len(data)), "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("uploadfmt: write to object store failed: %w", err)
	}

	result := &WriteResult{
		ObjectID:        objectID,
		Path:            path,
		MetaDomain:      metaDomain,
		CreatedAtUnixMs: createdAt,
		Size:            int64(len(data)),
		ChunkOffsets:    make([]ChunkOffset, len(w.chunks)),
	}
	for i, chunk := range w.chunks {
		result.ChunkOffsets[i] = ChunkOffset{
			StreamID:       chunk.StreamID,
			RecordCount:    chunk.RecordCount,
			BatchCount:     uint32(len(chunk.Batches)),
			MinTimestampMs: chunk.MinTimestampMs,
			MaxTimestampMs: chunk.MaxTimestampMs,
		}
	}

	w.Reset()
	return result, nil
}

func (w *Writer) Reset() {
	w.chunks = make([]Chunk, 0)
	w.metaDomain = nil
}

func (w *Writer) Close() error {
	w.closed = true
	w.chunks = nil
	return nil
}
