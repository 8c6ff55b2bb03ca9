package coordinator

import (
	"context"
	"sync"
)

// MockCoordinator implements Coordinator entirely in memory, grounded on
// internal/metadata.MockStore's style: a single mutex over a small set
// of maps, no persistence, exported for reuse by other packages' tests.
type MockCoordinator struct {
	mu sync.Mutex

	streams     map[string]*StreamInfo
	nextObject  uint64
	objects     map[uint64]ServerObject
}

func NewMockCoordinator() *MockCoordinator {
	return &MockCoordinator{
		streams: make(map[string]*StreamInfo),
		objects: make(map[uint64]ServerObject),
	}
}

// RegisterStream seeds a stream for tests, bypassing the normal
// open/commit flow.
func (m *MockCoordinator) RegisterStream(streamID string, epoch, endOffset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[streamID] = &StreamInfo{StreamID: streamID, Epoch: epoch, EndOffset: endOffset}
}

func (m *MockCoordinator) GetOpeningStreams(ctx context.Context) ([]OpeningStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OpeningStream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, OpeningStream{StreamID: s.StreamID, Epoch: s.Epoch, EndOffset: s.EndOffset})
	}
	return out, nil
}

func (m *MockCoordinator) PrepareObject(ctx context.Context, count int, ttlMs int64) (PreparedObjectRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	first := m.nextObject
	m.nextObject += uint64(count)
	return PreparedObjectRange{FirstObjectID: first, Count: count}, nil
}

func (m *MockCoordinator) CommitWALObject(ctx context.Context, req CommitWALObjectRequest) ([]StreamCommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]StreamCommitResult, 0, len(req.Chunks))
	for _, c := range req.Chunks {
		s, ok := m.streams[c.StreamID]
		if !ok {
			s = &StreamInfo{StreamID: c.StreamID}
			m.streams[c.StreamID] = s
		}
		start := s.EndOffset
		end := start + int64(c.RecordCount)
		s.EndOffset = end
		results = append(results, StreamCommitResult{StreamID: c.StreamID, StartOffset: start, EndOffset: end})
	}

	m.objects[req.ObjectID] = ServerObject{
		ObjectID:   req.ObjectID,
		MetaDomain: req.MetaDomain,
		Path:       req.Path,
		SizeBytes:  req.SizeBytes,
	}
	return results, nil
}

func (m *MockCoordinator) GetServerObjects(ctx context.Context) ([]ServerObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServerObject, 0, len(m.objects))
	for _, o := range m.objects {
		out = append(out, o)
	}
	return out, nil
}

func (m *MockCoordinator) GetStreams(ctx context.Context, streamIDs []string) ([]StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StreamInfo, 0, len(streamIDs))
	for _, id := range streamIDs {
		if s, ok := m.streams[id]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *MockCoordinator) CloseStream(ctx context.Context, streamID string, epoch int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[streamID]
	if !ok {
		return ErrStreamNotFound
	}
	if s.Epoch != epoch {
		return ErrEpochMismatch
	}
	delete(m.streams, streamID)
	return nil
}
