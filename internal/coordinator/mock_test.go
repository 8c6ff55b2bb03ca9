package coordinator

import (
	"context"
	"testing"
)

func TestPrepareObjectAssignsSequentialIDs(t *testing.T) {
	m := NewMockCoordinator()
	ctx := context.Background()

	r1, err := m.PrepareObject(ctx, 3, 60000)
	if err != nil {
		t.Fatalf("prepare object: %v", err)
	}
	if r1.FirstObjectID != 0 || r1.Count != 3 {
		t.Fatalf("unexpected first range: %+v", r1)
	}

	r2, err := m.PrepareObject(ctx, 2, 60000)
	if err != nil {
		t.Fatalf("prepare object: %v", err)
	}
	if r2.FirstObjectID != 3 || r2.Count != 2 {
		t.Fatalf("expected next range to start after the first, got %+v", r2)
	}
}

func TestCommitWALObjectAssignsPerStreamOffsetsAndRecordsObject(t *testing.T) {
	m := NewMockCoordinator()
	ctx := context.Background()
	m.RegisterStream("stream-a", 1, 100)

	req := CommitWALObjectRequest{
		ObjectID:        7,
		MetaDomain:      2,
		Path:            "wal/domain=2/obj.wo",
		SizeBytes:       4096,
		CreatedAtUnixMs: 1234,
		Chunks: []ChunkCommit{
			{StreamID: "stream-a", RecordCount: 10},
			{StreamID: "stream-b", RecordCount: 5},
		},
	}

	results, err := m.CommitWALObject(ctx, req)
	if err != nil {
		t.Fatalf("commit wal object: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	byStream := make(map[string]StreamCommitResult)
	for _, r := range results {
		byStream[r.StreamID] = r
	}

	a := byStream["stream-a"]
	if a.StartOffset != 100 || a.EndOffset != 110 {
		t.Fatalf("expected stream-a to advance from its existing offset, got %+v", a)
	}

	b := byStream["stream-b"]
	if b.StartOffset != 0 || b.EndOffset != 5 {
		t.Fatalf("expected new stream-b to start at 0, got %+v", b)
	}

	objs, err := m.GetServerObjects(ctx)
	if err != nil {
		t.Fatalf("get server objects: %v", err)
	}
	if len(objs) != 1 || objs[0].ObjectID != 7 || objs[0].Path != req.Path {
		t.Fatalf("expected the committed object to be recorded, got %+v", objs)
	}
}

func TestCloseStreamEpochMismatch(t *testing.T) {
	m := NewMockCoordinator()
	ctx := context.Background()
	m.RegisterStream("stream-a", 1, 0)

	if err := m.CloseStream(ctx, "stream-a", 2); err != ErrEpochMismatch {
		t.Fatalf("expected ErrEpochMismatch, got %v", err)
	}
	if err := m.CloseStream(ctx, "missing", 1); err != ErrStreamNotFound {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}
	if err := m.CloseStream(ctx, "stream-a", 1); err != nil {
		t.Fatalf("expected close to succeed with matching epoch, got %v", err)
	}
	if _, err := m.GetStreams(ctx, []string{"stream-a"}); err != nil {
		t.Fatalf("get streams: %v", err)
	}
}

func TestGetOpeningStreamsReflectsRegisteredStreams(t *testing.T) {
	m := NewMockCoordinator()
	ctx := context.Background()
	m.RegisterStream("stream-a", 1, 50)
	m.RegisterStream("stream-b", 1, 0)

	opening, err := m.GetOpeningStreams(ctx)
	if err != nil {
		t.Fatalf("get opening streams: %v", err)
	}
	if len(opening) != 2 {
		t.Fatalf("expected 2 opening streams, got %d", len(opening))
	}
}
