package uploadfmt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dray-io/dray/internal/metadata"
	"github.com/dray-io/dray/internal/metadata/keys"
	"github.com/dray-io/dray/internal/metrics"
	"github.com/dray-io/dray/internal/objectstore"
	"github.com/google/uuid"
)

// StagingMarker records that an object is in flight to object storage,
// before its commit transaction has run. Stored at
// /dray/v1/wal/staging/<metaDomain>/<objectId>. An object whose staging
// marker survives past the orphan TTL with no matching commit is a crash
// artifact and safe for the garbage collector to delete.
type StagingMarker struct {
	Path      string `json:"path"`
	CreatedAt int64  `json:"createdAt"`
	SizeBytes int64  `json:"sizeBytes"`
}

func (m *StagingMarker) MarshalJSON() ([]byte, error) {
	type Alias StagingMarker
	return json.Marshal((*Alias)(m))
}

func (m *StagingMarker) UnmarshalJSON(data []byte) error {
	type Alias StagingMarker
	return json.Unmarshal(data, (*Alias)(m))
}

// StagingWriteResult extends WriteResult with the staging key that must
// be deleted as part of the same transaction that commits the object.
type StagingWriteResult struct {
	WriteResult
	StagingKey string
}

// StagingWriterConfig configures a StagingWriter.
type StagingWriterConfig struct {
	PathFormatter PathFormatter
	Codec         Codec
	Metrics       *metrics.UploadMetrics
}

// StagingWriter wraps Writer with a staging marker so a crash between the
// object write and its metadata commit leaves a detectable orphan rather
// than a silently lost artifact.
type StagingWriter struct {
	store         objectstore.Store
	metaStore     metadata.MetadataStore
	pathFormatter PathFormatter
	codec         Codec
	metaDomain    *uint32
	chunks        []Chunk
	closed        bool
	metrics       *metrics.UploadMetrics
}

func NewStagingWriter(store objectstore.Store, metaStore metadata.MetadataStore, cfg *StagingWriterConfig) *StagingWriter {
	var pf PathFormatter = &DefaultPathFormatter{}
	codec := CodecNone
	var m *metrics.UploadMetrics
	if cfg != nil {
		if cfg.PathFormatter != nil {
			pf = cfg.PathFormatter
		}
		codec = cfg.Codec
		m = cfg.Metrics
	}
	return &StagingWriter{
		store:         store,
		metaStore:     metaStore,
		pathFormatter: pf,
		codec:         codec,
		chunks:        make([]Chunk, 0),
		metrics:       m,
	}
}

func (w *StagingWriter) AddChunk(chunk Chunk, metaDomain uint32) error {
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

func (w *StagingWriter) ChunkCount() int     { return len(w.chunks) }
func (w *StagingWriter) MetaDomain() *uint32 { return w.metaDomain }

// Flush writes the staging marker, then the object itself:
//  1. encode the buffered chunks into one object
//  2. write the staging marker to the metadata store
//  3. write the object to object storage
//  4. return the staging key for deletion in the caller's commit transaction
//
// If the process dies between steps 3 and the caller's commit, the object
// is orphaned; the staging marker lets GC find and remove it later.
func (w *StagingWriter) Flush(ctx context.Context) (*StagingWriteResult, error) {
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
	size := int64(len(data))

	stagingKey := keys.WALStagingKeyPath(int(metaDomain), objectID.String())
	marker := &StagingMarker{Path: path, CreatedAt: createdAt, SizeBytes: size}
	markerData, err := json.Marshal(marker)
	if err != nil {
		return nil, fmt.Errorf("uploadfmt: failed to marshal staging marker: %w", err)
	}
	flushStart := time.Now()
	if _, err := w.metaStore.Put(ctx, stagingKey, markerData); err != nil {
		return nil, fmt.Errorf("uploadfmt: failed to write staging marker: %w", err)
	}

	if err := w.store.Put(ctx, path, bytes.NewReader(data), size, "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("uploadfmt: write to object store failed: %w", err)
	}

	result := &StagingWriteResult{
		WriteResult: WriteResult{
			ObjectID:        objectID,
			Path:            path,
			MetaDomain:      metaDomain,
			CreatedAtUnixMs: createdAt,
			Size:            size,
			ChunkOffsets:    make([]ChunkOffset, len(w.chunks)),
		},
		StagingKey: stagingKey,
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

	if w.metrics != nil {
		w.metrics.RecordUpload(size, time.Since(flushStart).Seconds())
	}

	w.Reset()
	return result, nil
}

func (w *StagingWriter) Reset() {
	w.chunks = make([]Chunk, 0)
	w.metaDomain = nil
}

func (w *StagingWriter) Close() error {
	w.closed = true
	w.chunks = nil
	return nil
}

// ParseStagingMarker parses a staging marker read back from the metadata store.
func ParseStagingMarker(data []byte) (*StagingMarker, error) {
	var marker StagingMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("uploadfmt: failed to parse staging marker: %w", err)
	}
	return &marker, nil
}

// DeleteStagingKey stages the deletion of a staging marker inside the
// caller's commit transaction.
func DeleteStagingKey(txn metadata.Txn, stagingKey string) {
	txn.Delete(stagingKey)
}
