// Package coordinator defines the durability core's collaboration
// surface with the topic/stream metadata service, per spec §1: stream
// identifiers and epochs, opening-stream lists, object-id assignment,
// and post-upload commit notification. Two implementations are
// provided: an Oxia-backed one reusing internal/metadata, and an
// in-memory Mock for tests.
package coordinator

import (
	"context"
	"errors"
)

var (
	// ErrStreamNotFound is returned when a referenced stream does not exist.
	ErrStreamNotFound = errors.New("coordinator: stream not found")
	// ErrEpochMismatch is returned when a caller's epoch is stale.
	ErrEpochMismatch = errors.New("coordinator: epoch mismatch")
)

// OpeningStream describes a stream as it stood when this server took
// ownership: its current end offset, used to bound recovery's gap
// semantics (§4.9's "opening_end_offset").
type OpeningStream struct {
	StreamID  string
	Epoch     int64
	EndOffset int64
}

// PreparedObjectRange reserves a contiguous run of object ids, assigned
// in prepare-order so commit order equals id order (spec §4.9 invariant a).
type PreparedObjectRange struct {
	FirstObjectID uint64
	Count         int
	ExpiresAtUnixMs int64
}

// ChunkCommit is one stream's contribution to a committed upload object.
type ChunkCommit struct {
	StreamID       string
	RecordCount    uint32
	MinTimestampMs int64
	MaxTimestampMs int64
	ByteOffset     uint64
	ByteLength     uint32
}

// CommitWALObjectRequest is the atomic commit the Upload Pipeline issues
// once an object has finished uploading (spec §4.9 step 3: "notifies the
// metadata service via commit_wal_object(request)").
type CommitWALObjectRequest struct {
	ObjectID        uint64
	MetaDomain      uint32
	Path            string
	SizeBytes       int64
	CreatedAtUnixMs int64
	StagingKey      string
	Chunks          []ChunkCommit
}

// StreamCommitResult carries the offset range assigned to one stream's
// chunk as part of a successful commit.
type StreamCommitResult struct {
	StreamID    string
	StartOffset int64
	EndOffset   int64
}

// ServerObject is a previously committed upload object, as returned by
// GetServerObjects for this server's ownership set.
type ServerObject struct {
	ObjectID   uint64
	MetaDomain uint32
	Path       string
	SizeBytes  int64
}

// StreamInfo is a stream's current metadata.
type StreamInfo struct {
	StreamID  string
	Epoch     int64
	EndOffset int64
}

// Coordinator is the durability core's view of the metadata service.
type Coordinator interface {
	// GetOpeningStreams returns every stream this server owns at startup,
	// with the end offset recovery must not exceed without raising DataLoss.
	GetOpeningStreams(ctx context.Context) ([]OpeningStream, error)

	// PrepareObject reserves count consecutive object ids. The bundled
	// implementations accept ttlMs but do not act on it: a reservation
	// that is never committed does not expire.
	PrepareObject(ctx context.Context, count int, ttlMs int64) (PreparedObjectRange, error)

	// CommitWALObject atomically advances every referenced stream's end
	// offset and records the object as durable.
	CommitWALObject(ctx context.Context, req CommitWALObjectRequest) ([]StreamCommitResult, error)

	// GetServerObjects lists every object previously committed for this
	// server's current ownership set.
	GetServerObjects(ctx context.Context) ([]ServerObject, error)

	// GetStreams resolves metadata for an explicit set of stream ids.
	GetStreams(ctx context.Context, streamIDs []string) ([]StreamInfo, error)

	// CloseStream releases this server's ownership of a stream, failing
	// with ErrEpochMismatch when epoch is not the stream's current epoch.
	// CommitWALObject does not check epochs, so a later commit for the
	// stream is not rejected.
	CloseStream(ctx context.Context, streamID string, epoch int64) error
}
