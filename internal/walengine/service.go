// Package walengine implements the block-device write-ahead log: a
// circular record ring with a redundant superblock header, a growable
// sliding window bounding in-flight writes, and the crash-recovery
// algorithm that reconciles the two after an ungraceful shutdown.
//
// Grounded on AutoMQ's BlockWALService and WALBlockDeviceChannel
// (_examples/original_source/s3stream), reimplemented in Go idiom: a
// single Service facade, explicit error returns, context-cancellable
// blocking calls.
package walengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dray-io/dray/internal/logging"
	"github.com/dray-io/dray/internal/metrics"
)

// Config is the runtime configuration for a Service. Field names and
// defaults mirror BlockWALServiceBuilder.
type Config struct {
	// Path is the block device or regular file backing the ring.
	Path string
	// Capacity is the desired total size in bytes; an existing file at
	// least that large keeps its own size, a smaller one is extended.
	Capacity int64
	// HeaderFlushInterval is how often the header is flushed on a timer
	// in addition to flushes triggered by Trim and window growth.
	HeaderFlushInterval time.Duration
	// IOThreads is the size of the I/O worker pool that writes sealed
	// blocks to the channel (spec.md §4.4's io_threads): each worker pads
	// a sealed block to block-aligned size, writes it at its assigned
	// position, and completes every record's future in that block.
	// Completion order between workers is not the logical order; the
	// Callback Sequencer re-orders downstream.
	IOThreads int
	Window    WindowConfig
	// Metrics is an optional recorder; if nil, no metrics are recorded.
	Metrics *metrics.WALEngineMetrics
}

// defaultIOThreads mirrors BlockWALServiceBuilder's default io_threads.
const defaultIOThreads = 8

// DefaultConfig returns BlockWALServiceBuilder's defaults translated to Go.
func DefaultConfig(path string, capacity int64) Config {
	return Config{
		Path:                path,
		Capacity:            capacity,
		HeaderFlushInterval: 10 * time.Second,
		IOThreads:           defaultIOThreads,
		Window:              DefaultWindowConfig(),
	}
}

// Service is the block WAL facade (C5): the single entry point callers
// use to append, trim, recover and shut down the ring.
type Service struct {
	cfg    Config
	logger *logging.Logger

	ch      *BlockChannel
	header  *WALHeader
	flusher *headerFlusher
	window  *slidingWindow

	recordSectionCapacity int64

	ready    atomic.Bool
	dataLoss atomic.Bool

	flushStop chan struct{}
	flushWG   sync.WaitGroup

	// blockCh feeds sealed blocks to the I/O worker pool (C4's io_threads
	// workers); shutdownMu gates Append against ShutdownGracefully so the
	// current block can be drained and blockCh closed only once no caller
	// can still be inside addRecord/dispatch. A plain WaitGroup can't give
	// this guarantee (Add racing a zero-count Wait is undefined), so
	// Append holds a read lock for its duration and ShutdownGracefully
	// takes the write lock, which blocks until every such reader is done.
	blockCh    chan *pendingBlock
	ioWG       sync.WaitGroup
	shutdownMu sync.RWMutex

	flushedTrimOffset atomic.Int64
}

// New constructs a Service without opening anything.
func New(cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Global()
	}
	return &Service{
		cfg:       cfg,
		logger:    logger,
		ch:        NewBlockChannel(cfg.Path, cfg.Capacity),
		flushStop: make(chan struct{}),
		blockCh:   make(chan *pendingBlock, 256),
	}
}

// Start opens the backing channel, recovers the header, runs an
// ungraceful rescan if the prior shutdown was not clean, and begins the
// periodic header flush scheduler. Start must complete before Append,
// Trim, or Recover are called.
func (s *Service) Start(ctx context.Context) error {
	if err := s.ch.Open(); err != nil {
		return err
	}
	s.recordSectionCapacity = s.ch.Capacity() - HeaderReserve
	if s.recordSectionCapacity <= 0 {
		return fmt.Errorf("walengine: capacity %d too small for header reserve %d", s.ch.Capacity(), HeaderReserve)
	}

	header, existed, err := recoverHeader(s.ch, s.ch.Capacity())
	if err != nil {
		return err
	}
	s.header = header
	s.flusher = newHeaderFlusher(s.ch)

	windowCfg := s.cfg.Window
	if windowCfg.UpperLimit == 0 {
		windowCfg = DefaultWindowConfig()
	}
	if windowCfg.SoftLimit == 0 {
		windowCfg.SoftLimit = DefaultWindowConfig().SoftLimit
	}
	s.window = newSlidingWindow(windowCfg, s.recordSectionCapacity)

	if existed && ShutdownType(header.ShutdownType.Load()) != ShutdownGraceful {
		s.logger.Warnf("walengine: prior shutdown was not graceful, scanning full ring", nil)
		if err := s.recoverUngraceful(); err != nil {
			return err
		}
	} else {
		s.window.restore(header.WindowStartOffset.Load(), header.WindowNextWriteOffset.Load(), header.WindowMaxLength.Load())
	}
	s.flushedTrimOffset.Store(header.TrimOffset.Load())

	// Mark the on-disk state as ungraceful immediately: only a clean
	// Shutdown flips it back, so a crash any time after this point
	// leaves the correct marker for the next recovery.
	header.ShutdownType.Store(int64(ShutdownUngraceful))
	if err := s.flusher.flush(header); err != nil {
		return err
	}

	s.ready.Store(true)
	s.flushWG.Add(1)
	go s.flushLoop()

	ioThreads := s.cfg.IOThreads
	if ioThreads <= 0 {
		ioThreads = defaultIOThreads
	}
	s.ioWG.Add(ioThreads)
	for i := 0; i < ioThreads; i++ {
		go s.ioWorker()
	}

	if s.cfg.Metrics != nil {
		_, _, maxLen := s.window.snapshot()
		s.cfg.Metrics.SetWindowSize(maxLen)
	}

	if s.dataLoss.Load() {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordDataLoss()
		}
		return ErrDataLoss
	}
	return nil
}

// recoverUngraceful implements the ungraceful-recovery algorithm: scan
// the entire record section (not just the previous window) starting from
// the block-aligned window start, since the window bookkeeping itself may
// be stale. Whatever the scan successfully advances through becomes the
// new, collapsed window (§ Open Question 2).
func (s *Service) recoverUngraceful() error {
	start := alignLargeByBlockSize(s.header.WindowStartOffset.Load())
	it := newRecoveryIterator(s.ch, s.recordSectionCapacity, start, s.recordSectionCapacity, 0, false)

	furthest := start
	for {
		_, err := it.Next()
		if err == ErrIteratorDone {
			break
		}
		if err != nil {
			return err
		}
		furthest = it.cur
	}
	if it.Skipped > 0 {
		s.logger.Warnf("walengine: ungraceful recovery skipped corrupt/stale frames", map[string]any{"skipped": it.Skipped})
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordRecoverySkipped(it.Skipped)
		}
	}

	collapsed := alignLargeByBlockSize(furthest)
	s.window.reset(collapsed)
	s.dataLoss.Store(true)
	return nil
}

// Recover returns an iterator over every record between the durably
// trimmed offset and the current window's next-write offset. Callers
// typically drive this once at startup to rebuild in-memory state (the
// log cache) before serving new appends. When the trim offset is
// non-zero, the record at that exact unaligned offset is skipped: it was
// already delivered to the caller by a previous recovery pass before the
// trim advanced past it (§ Open Question 3).
func (s *Service) Recover(ctx context.Context) (*RecoveryIterator, error) {
	if !s.ready.Load() {
		return nil, ErrNotReady
	}
	trim := s.flushedTrimOffset.Load()
	_, next, _ := s.window.snapshot()
	hasSkip := trim > 0
	return newRecoveryIterator(s.ch, s.recordSectionCapacity, trim, next-trim, trim, hasSkip), nil
}

// Append durably writes body as a new record and returns its logical
// offset. Multiple concurrent callers coalesce into the sliding window's
// current block (spec.md §4.4): Append itself never blocks waiting for
// room (it returns ErrOverCapacity synchronously instead, per spec.md
// §5), but it does wait for its own record's block to be written, so by
// the time Append returns, body is durable. Offset assignment happens at
// seal time, so completions land in block order, not necessarily the
// order Append was called in — ordering acknowledgements back to callers
// across blocks is the Callback Sequencer's job (internal/sequencer),
// layered above this call.
func (s *Service) Append(ctx context.Context, body []byte) (int64, error) {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if !s.ready.Load() {
		return 0, ErrNotReady
	}

	start := time.Now()
	rec := &blockRecord{
		size:   int64(RecordHeaderSize + len(body)),
		build:  func(offset int64) []byte { return EncodeRecord(offset, body) },
		result: make(chan appendOutcome, 1),
	}
	if rec.size > s.recordSectionCapacity {
		return 0, fmt.Errorf("%w: %d bytes exceeds ring capacity %d", ErrRecordTooLarge, len(body), s.recordSectionCapacity)
	}

	if err := s.window.addRecord(rec, s.dispatch); err != nil {
		return 0, err
	}

	select {
	case out := <-rec.result:
		if out.err != nil {
			return 0, out.err
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordAppend(time.Since(start).Seconds())
			_, _, maxLen := s.window.snapshot()
			s.cfg.Metrics.SetWindowSize(maxLen)
		}
		return out.offset, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// dispatch hands a sealed block to the I/O worker pool. It never blocks
// the caller that just sealed the block: the send happens on its own
// goroutine, so a momentarily full blockCh cannot stall an Append call.
func (s *Service) dispatch(blk *pendingBlock) {
	go func() {
		s.blockCh <- blk
	}()
}

// ioWorker pulls sealed blocks off blockCh and writes each as a single
// I/O, completing every record it carries (spec.md §4.4's io_threads
// pool). Workers run independently, so completion order across workers
// is not the logical order.
func (s *Service) ioWorker() {
	defer s.ioWG.Done()
	for blk := range s.blockCh {
		s.writeBlock(blk)
	}
}

// writeBlock encodes every record in blk against its final offset,
// concatenates them into one buffer, and writes that buffer as a single
// block-aligned I/O (BlockChannel.Write pads and zero-fills the tail).
func (s *Service) writeBlock(blk *pendingBlock) {
	buf := make([]byte, blk.size)
	offset := blk.startOffset
	var pos int
	for _, rec := range blk.records {
		frame := rec.build(offset)
		copy(buf[pos:], frame)
		pos += len(frame)
		offset += rec.size
	}

	writePos := physicalPosition(blk.startOffset, s.recordSectionCapacity)
	err := s.ch.Write(buf, writePos)
	if err == nil {
		err = s.ch.Sync()
	}

	offset = blk.startOffset
	for _, rec := range blk.records {
		if err != nil {
			rec.result <- appendOutcome{err: err}
		} else {
			rec.result <- appendOutcome{offset: offset}
		}
		offset += rec.size
	}
}

// Trim records that every record before offset has been durably
// committed elsewhere (e.g. uploaded to object storage) and may be
// reclaimed. The header's trim offset advances immediately in memory
// (Trim does not move the window's start offset); the header is flushed
// asynchronously in the background, with
// flushedTrimOffset tracking what has actually reached durable storage so
// recovery always corrects against a value that survived the last crash.
func (s *Service) Trim(offset int64) error {
	if !s.ready.Load() {
		return ErrNotReady
	}
	start, _, _ := s.window.snapshot()
	if offset >= start {
		return fmt.Errorf("%w: trim %d >= window start %d", ErrTrimAhead, offset, start)
	}
	for {
		cur := s.header.TrimOffset.Load()
		if offset <= cur {
			break
		}
		if s.header.TrimOffset.CompareAndSwap(cur, offset) {
			break
		}
	}
	go func() {
		if err := s.flusher.flush(s.header); err != nil {
			s.logger.Errorf("walengine: trim header flush failed", map[string]any{"error": err.Error()})
			return
		}
		s.flushedTrimOffset.Store(offset)
	}()
	return nil
}

// Reset discards everything currently in the window, leaving a
// deliberate one-block gap past the previous next-write offset so any
// straggler write that raced the reset cannot be mistaken for a valid
// record, then trims up to the previous next-write offset. Used when a
// caller (e.g. after a stream close) wants to abandon in-flight,
// unacknowledged writes.
func (s *Service) Reset() error {
	if !s.ready.Load() {
		return ErrNotReady
	}
	_, previousNext, _ := s.window.snapshot()
	s.window.reset(previousNext + BlockSize)
	return s.Trim(previousNext)
}

// ShutdownGracefully stops the flush scheduler and writes a final header
// marked graceful, so the next Start skips the full-ring rescan.
func (s *Service) ShutdownGracefully(ctx context.Context) error {
	if !s.ready.CompareAndSwap(true, false) {
		return nil
	}
	close(s.flushStop)
	s.flushWG.Wait()

	// Taking the write lock blocks until every Append currently holding
	// the read lock has returned, so no caller can still be inside
	// addRecord/dispatch past this point: the current block is
	// exclusively ours to seal and drain, and blockCh can be closed once
	// it is.
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if blk := s.window.sealCurrent(); blk != nil {
		s.writeBlock(blk)
	}
	close(s.blockCh)
	s.ioWG.Wait()

	s.window.close()

	s.header.ShutdownType.Store(int64(ShutdownGraceful))
	if err := s.flusher.flush(s.header); err != nil {
		return err
	}
	if err := s.ch.Sync(); err != nil {
		return err
	}
	return s.ch.Close()
}

func (s *Service) flushLoop() {
	defer s.flushWG.Done()
	interval := s.cfg.HeaderFlushInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			flushStart := time.Now()
			if err := s.flusher.flush(s.header); err != nil {
				s.logger.Errorf("walengine: periodic header flush failed", map[string]any{"error": err.Error()})
			} else if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordFsync(time.Since(flushStart).Seconds())
			}
		case <-s.flushStop:
			return
		}
	}
}

// DataLossOccurred reports whether the most recent Start had to run an
// ungraceful recovery that may have discarded unrecoverable tail records.
func (s *Service) DataLossOccurred() bool {
	return s.dataLoss.Load()
}

// WindowSnapshot exposes the current window extent, primarily for metrics
// and tests.
func (s *Service) WindowSnapshot() (start, next, maxLen int64) {
	return s.window.snapshot()
}
