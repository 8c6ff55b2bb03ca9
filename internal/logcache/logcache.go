// Package logcache implements the Log Cache (C6): an in-memory,
// stream-partitioned holding area for records that have been
// WAL-acknowledged but not yet uploaded to object storage. Cache blocks
// seal by size or stream-count limit and are handed to the Upload
// Pipeline (internal/upload) for durable commit.
//
// Grounded on the teacher's internal/produce buffering idiom
// (domainBuffer's mutex-guarded maps), adapted from MetaDomain
// partitioning to per-stream partitioning and from a flat byte budget to
// the spec's block-sealing rule.
package logcache

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrDuplicateOffset is returned when put is given a record whose
	// base offset does not extend the stream's current head.
	ErrDuplicateOffset = errors.New("logcache: duplicate or out-of-order base offset")
)

// Record is a single cache entry: one already-framed batch of a stream's
// records, as handed off by the Callback Sequencer once its WAL write is
// confirmed durable and in-order.
type Record struct {
	StreamID       uint64
	BaseOffset     int64
	LastOffset     int64
	Payload        []byte
	MinTimestampMs int64
	MaxTimestampMs int64
}

// Block is a sealed or in-progress batch of records accumulated across
// one or more streams, the unit the Upload Pipeline archives and uploads.
type Block struct {
	ID            uint64
	streams       map[uint64][]Record
	sizeBytes     int64
	streamCount   int
	confirmOffset int64
	sealed        bool
}

// newBlock creates an empty block.
func newBlock(id uint64) *Block {
	return &Block{ID: id, streams: make(map[uint64][]Record)}
}

// StreamIDs returns the set of streams represented in the block, sorted,
// for deterministic chunk ordering during upload.
func (b *Block) StreamIDs() []uint64 {
	ids := make([]uint64, 0, len(b.streams))
	for id := range b.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Records returns a stream's records within the block, sorted by base offset.
func (b *Block) Records(streamID uint64) []Record {
	return b.streams[streamID]
}

// SizeBytes is the block's current total payload size.
func (b *Block) SizeBytes() int64 { return b.sizeBytes }

// ConfirmOffset is the WAL confirm offset in effect when the block was sealed.
func (b *Block) ConfirmOffset() int64 { return b.confirmOffset }

// Config bounds a Cache's block-sealing thresholds.
type Config struct {
	BlockSizeLimit      int64
	MaxStreamsPerBlock  int
}

// DefaultConfig mirrors the spec's block_soft_limit default (128 KiB) and
// a generous per-block stream fan-out cap.
func DefaultConfig() Config {
	return Config{BlockSizeLimit: 128 << 10, MaxStreamsPerBlock: 256}
}

// streamHead tracks per-stream ordering state, independent of which block
// a stream's most recent record landed in.
type streamHead struct {
	nextOffset int64
	hasHead    bool
}

// Cache is the Log Cache facade. All mutation happens on the caller's own
// goroutine; per the spec, the orchestrator is responsible for dispatching
// every call onto its single read executor so the cache itself needs no
// internal scheduling, only a mutex for the out-of-memory hook (force_free)
// which the spec allows to be called directly under allocation pressure.
type Cache struct {
	cfg Config

	mu            sync.Mutex
	current       *Block
	archived      []*Block // oldest first; uncommitted, awaiting or in upload
	nextBlockID   uint64
	heads         map[uint64]*streamHead
	confirmOffset int64
}

func New(cfg Config) *Cache {
	if cfg.BlockSizeLimit <= 0 {
		cfg = DefaultConfig()
	}
	return &Cache{
		cfg:     cfg,
		current: newBlock(0),
		heads:   make(map[uint64]*streamHead),
	}
}

// Put inserts a record into the current block, returning true when the
// block is full after the insert (size or stream-count limit reached).
// Put does not seal the block itself.
func (c *Cache) Put(r Record) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	head, ok := c.heads[r.StreamID]
	if !ok {
		head = &streamHead{}
		c.heads[r.StreamID] = head
	}
	if head.hasHead && r.BaseOffset < head.nextOffset {
		return false, ErrDuplicateOffset
	}

	if _, exists := c.current.streams[r.StreamID]; !exists {
		c.current.streamCount++
	}
	c.current.streams[r.StreamID] = append(c.current.streams[r.StreamID], r)
	c.current.sizeBytes += int64(len(r.Payload))
	head.nextOffset = r.LastOffset
	head.hasHead = true

	full := c.current.sizeBytes >= c.cfg.BlockSizeLimit || c.current.streamCount >= c.cfg.MaxStreamsPerBlock
	return full, nil
}

// Get returns the contiguous head of [start, end) held in cache for a
// stream, bounded by maxBytes. The caller can tell whether the cache
// alone satisfies the read by checking the first record's base offset
// against start.
func (c *Cache) Get(streamID uint64, start, end int64, maxBytes int64) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Record
	var size int64

	collect := func(recs []Record) bool {
		for _, r := range recs {
			if r.LastOffset <= start || r.BaseOffset >= end {
				continue
			}
			if size > 0 && size+int64(len(r.Payload)) > maxBytes {
				return false
			}
			out = append(out, r)
			size += int64(len(r.Payload))
		}
		return true
	}

	for _, b := range c.archived {
		if !collect(b.streams[streamID]) {
			return out
		}
	}
	collect(c.current.streams[streamID])
	return out
}

// ArchiveCurrentBlock moves the current block to the archived list
// (sealed, awaiting upload) and starts a fresh current block.
func (c *Cache) ArchiveCurrentBlock() *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.archiveLocked()
}

func (c *Cache) archiveLocked() *Block {
	b := c.current
	if len(b.streams) == 0 {
		return nil
	}
	b.sealed = true
	b.confirmOffset = c.confirmOffset
	c.archived = append(c.archived, b)
	c.nextBlockID++
	c.current = newBlock(c.nextBlockID)
	return b
}

// ArchiveCurrentBlockIfContains archives the current block only if it
// holds any record for streamID, used by force_upload to bound the work
// to streams that actually need draining.
func (c *Cache) ArchiveCurrentBlockIfContains(streamID uint64) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.current.streams[streamID]; !ok {
		return nil
	}
	return c.archiveLocked()
}

// MarkFree removes a block from the archived list once its upload has
// committed; callers must pass the same *Block returned by archiving.
func (c *Cache) MarkFree(b *Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ab := range c.archived {
		if ab == b {
			c.archived = append(c.archived[:i], c.archived[i+1:]...)
			return
		}
	}
}

// SetConfirmOffset records the sequencer's current WAL confirm offset, so
// the next block sealed (by put or archive) carries an accurate
// confirm-offset stamp for the upload pipeline's post-commit trim.
func (c *Cache) SetConfirmOffset(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmOffset = v
}

// Size returns total bytes held across archived and current blocks.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.current.sizeBytes
	for _, b := range c.archived {
		total += b.sizeBytes
	}
	return total
}

// ForceFree evicts whole archived-but-uncommitted blocks oldest-first
// until at least n bytes have been released, never touching a block
// that is mid-upload (the caller passes the subset of archived blocks
// that are NOT currently inflight via inflight; those are skipped).
func (c *Cache) ForceFree(n int64, inflight map[uint64]bool) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var released int64
	kept := c.archived[:0:0]
	for _, b := range c.archived {
		if released >= n || inflight[b.ID] {
			kept = append(kept, b)
			continue
		}
		released += b.sizeBytes
	}
	c.archived = kept
	return released
}
