// Package orchestrator implements the Storage Orchestrator (C8): the
// component that ties the WAL engine, the Callback Sequencer and the Log
// Cache together behind a non-blocking append() call, backing off under
// OverCapacity/CacheFull rather than failing the caller, and driving
// force_upload on demand (spec.md §4.8).
//
// Grounded on the teacher's internal/produce.Buffer — its domain-buffer
// backpressure and linger-timer idiom — generalized from MetaDomain
// batching to the spec's single-record append-with-backoff-queue model,
// and its PendingRequest{Done, Err} future pattern for delivering a
// result back to the caller without blocking the append path.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dray-io/dray/internal/logcache"
	"github.com/dray-io/dray/internal/logging"
	"github.com/dray-io/dray/internal/metrics"
	"github.com/dray-io/dray/internal/sequencer"
	"github.com/dray-io/dray/internal/walengine"
)

var (
	// ErrCacheFull is returned (via the future, never synchronously) when
	// the log cache is at its configured byte limit.
	ErrCacheFull = errors.New("orchestrator: log cache full")
	// ErrClosed is returned when Append is called after Close.
	ErrClosed = errors.New("orchestrator: closed")
)

// AllStreams is the force_upload stream_id sentinel meaning "archive the
// current block unconditionally" (spec.md §4.8).
const AllStreams uint64 = ^uint64(0)

// Future is resolved once an appended record has either been delivered to
// the log cache or failed permanently.
type Future struct {
	done   chan struct{}
	offset int64
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(offset int64) {
	f.offset = offset
	close(f.done)
}

func (f *Future) fail(err error) {
	f.err = err
	close(f.done)
}

// Wait blocks until the future resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (int64, error) {
	select {
	case <-f.done:
		return f.offset, f.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// UploadHandler hands a sealed cache block to the Upload Pipeline. The
// orchestrator runs each call on its own goroutine and counts it as in
// flight until it returns; ForceUpload waits for every in-flight handler,
// so a handler that itself blocks until the object is committed is
// expected and is how force_upload's completion propagation works.
type UploadHandler func(ctx context.Context, block *logcache.Block) error

// Config bounds an Orchestrator's cache and backoff behavior.
type Config struct {
	MaxCacheBytes        int64
	BackoffDrainInterval time.Duration
	Metrics              *metrics.OrchestratorMetrics
}

// DefaultConfig mirrors spec.md §6's wal_cache_size/backoff drain defaults.
func DefaultConfig(maxCacheBytes int64) Config {
	return Config{MaxCacheBytes: maxCacheBytes, BackoffDrainInterval: 100 * time.Millisecond}
}

type pendingAppend struct {
	streamID               uint64
	payload                []byte
	baseOffset, lastOffset int64
	minTs, maxTs           int64
	future                 *Future
	submittedAt            time.Time
}

// Orchestrator is the C8 facade: the single entry point producers call to
// append records, backed by the WAL engine, the sequencer and the cache.
type Orchestrator struct {
	cfg     Config
	wal     *walengine.Service
	cache   *logcache.Cache
	seq     *sequencer.Sequencer
	upload  UploadHandler
	logger  *logging.Logger
	metrics *metrics.OrchestratorMetrics

	mu      sync.Mutex
	backoff []*pendingAppend
	closed  bool

	inflightUploads sync.WaitGroup

	stopDrain chan struct{}
	drainWG   sync.WaitGroup
}

// New constructs an Orchestrator. Start must be called before Append.
func New(cfg Config, wal *walengine.Service, cache *logcache.Cache, seq *sequencer.Sequencer, upload UploadHandler, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Global()
	}
	if cfg.BackoffDrainInterval <= 0 {
		cfg.BackoffDrainInterval = 100 * time.Millisecond
	}
	return &Orchestrator{
		cfg:       cfg,
		wal:       wal,
		cache:     cache,
		seq:       seq,
		upload:    upload,
		logger:    logger,
		metrics:   cfg.Metrics,
		stopDrain: make(chan struct{}),
	}
}

// Start begins the background backoff-drain task (spec.md §4.8: "runs
// every 100ms on the background executor").
func (o *Orchestrator) Start() {
	o.drainWG.Add(1)
	go o.drainLoop()
}

// Close stops the drain loop and waits for any force_upload-triggered
// uploads already in flight.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	close(o.stopDrain)
	o.drainWG.Wait()
	o.inflightUploads.Wait()
}

func (o *Orchestrator) drainLoop() {
	defer o.drainWG.Done()
	t := time.NewTicker(o.cfg.BackoffDrainInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			o.drainBackoffOnce()
		case <-o.stopDrain:
			return
		}
	}
}

// Append submits a record for durable WAL append and cache delivery.
// It never blocks: under OverCapacity or CacheFull (or if the backoff
// queue is already non-empty, to preserve fairness per P7) the record is
// parked on the backoff queue and its future resolves once the backoff
// drain task successfully retries it.
func (o *Orchestrator) Append(ctx context.Context, streamID uint64, payload []byte, baseOffset, lastOffset, minTs, maxTs int64) (*Future, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.mu.Unlock()

	pa := &pendingAppend{
		streamID:    streamID,
		payload:     payload,
		baseOffset:  baseOffset,
		lastOffset:  lastOffset,
		minTs:       minTs,
		maxTs:       maxTs,
		future:      newFuture(),
		submittedAt: time.Now(),
	}

	o.mu.Lock()
	backoffNonEmpty := len(o.backoff) > 0
	o.mu.Unlock()

	// Step 1: a non-empty backoff queue means a strictly earlier record
	// is still waiting; queueing behind it preserves arrival order (P7).
	if backoffNonEmpty {
		o.enqueueBackoff(pa, "queue_nonempty")
		return pa.future, nil
	}

	o.tryDispatch(ctx, pa)
	return pa.future, nil
}

// tryDispatch attempts the append/sequence/cache-put chain for one
// record. On CacheFull or OverCapacity it parks pa on the backoff queue
// instead of failing its future.
func (o *Orchestrator) tryDispatch(ctx context.Context, pa *pendingAppend) {
	// Step 2: cache at its configured limit.
	if o.cfg.MaxCacheBytes > 0 && o.cache.Size() >= o.cfg.MaxCacheBytes {
		o.logger.Warnf("orchestrator: log cache full, backing off", map[string]any{"stream_id": pa.streamID})
		o.enqueueBackoff(pa, "cache_full")
		return
	}

	// Step 3: durable WAL append.
	offset, err := o.wal.Append(ctx, pa.payload)
	if errors.Is(err, walengine.ErrOverCapacity) {
		go func() {
			if ferr := o.ForceUpload(context.Background(), AllStreams); ferr != nil {
				o.logger.Errorf("orchestrator: force_upload after OverCapacity failed", map[string]any{"error": ferr.Error()})
			}
		}()
		o.enqueueBackoff(pa, "over_capacity")
		return
	}
	if err != nil {
		pa.future.fail(err)
		return
	}

	// Steps 4-5: sequence, then deliver whatever prefix is now ready.
	req := &sequencer.WalWriteRequest{StreamID: pa.streamID, Offset: offset, LastOffset: pa.lastOffset, UserData: pa}
	o.seq.Before(req)
	ready := o.seq.After(req)
	o.deliver(ctx, ready)
}

// deliver pushes every ready, in-order request into the log cache and
// archives+uploads a block when the cache signals it sealed.
func (o *Orchestrator) deliver(ctx context.Context, ready []*sequencer.WalWriteRequest) {
	for _, r := range ready {
		rp, ok := r.UserData.(*pendingAppend)
		if !ok || rp == nil {
			continue
		}
		full, err := o.cache.Put(logcache.Record{
			StreamID:       rp.streamID,
			BaseOffset:     rp.baseOffset,
			LastOffset:     rp.lastOffset,
			Payload:        rp.payload,
			MinTimestampMs: rp.minTs,
			MaxTimestampMs: rp.maxTs,
		})
		if err != nil {
			rp.future.fail(err)
			continue
		}
		if o.metrics != nil {
			o.metrics.RecordAppendLatency(time.Since(rp.submittedAt).Seconds())
		}
		rp.future.complete(r.Offset)

		if full {
			o.archiveAndUpload(ctx, o.cache.ArchiveCurrentBlock())
		}
	}
}

func (o *Orchestrator) archiveAndUpload(ctx context.Context, block *logcache.Block) {
	if block == nil || o.upload == nil {
		return
	}
	o.inflightUploads.Add(1)
	go func() {
		defer o.inflightUploads.Done()
		if err := o.upload(ctx, block); err != nil {
			o.logger.Errorf("orchestrator: upload failed", map[string]any{"error": err.Error(), "block_id": block.ID})
		}
	}()
}

// enqueueBackoff parks pa on the backoff queue in arrival order.
func (o *Orchestrator) enqueueBackoff(pa *pendingAppend, cause string) {
	o.mu.Lock()
	o.backoff = append(o.backoff, pa)
	depth := len(o.backoff)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordBackoff(cause)
		o.metrics.SetBackoffQueueDepth(depth)
	}
}

// drainBackoffOnce re-attempts each backoff item in FIFO order, stopping
// at the first that still backs off (spec.md §4.8: "stopping at the
// first that still backoffs" preserves fairness across producers, P7).
func (o *Orchestrator) drainBackoffOnce() {
	o.mu.Lock()
	items := o.backoff
	o.mu.Unlock()

	ctx := context.Background()
	i := 0
	for ; i < len(items); i++ {
		pa := items[i]

		o.mu.Lock()
		stillFull := o.cfg.MaxCacheBytes > 0 && o.cache.Size() >= o.cfg.MaxCacheBytes
		o.mu.Unlock()
		if stillFull {
			break
		}

		offset, err := o.wal.Append(ctx, pa.payload)
		if errors.Is(err, walengine.ErrOverCapacity) {
			break
		}
		if err != nil {
			pa.future.fail(err)
			continue
		}
		req := &sequencer.WalWriteRequest{StreamID: pa.streamID, Offset: offset, LastOffset: pa.lastOffset, UserData: pa}
		o.seq.Before(req)
		ready := o.seq.After(req)
		o.deliver(ctx, ready)
	}

	o.mu.Lock()
	o.backoff = items[i:]
	depth := len(o.backoff)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.SetBackoffQueueDepth(depth)
	}
}

// ForceUpload implements spec.md §4.8's force_upload: wait for any
// already-inflight uploads, stamp the cache's confirm offset from the
// sequencer's current WAL confirm offset, archive the relevant block,
// then wait again so completion is only reported once every
// post-"await" upload (including the one just triggered) has finished.
func (o *Orchestrator) ForceUpload(ctx context.Context, streamID uint64) error {
	if o.metrics != nil {
		o.metrics.RecordForceUpload()
	}

	o.inflightUploads.Wait()

	o.cache.SetConfirmOffset(o.seq.ConfirmOffset())

	var block *logcache.Block
	if streamID == AllStreams {
		block = o.cache.ArchiveCurrentBlock()
	} else {
		block = o.cache.ArchiveCurrentBlockIfContains(streamID)
	}

	if block != nil && o.upload != nil {
		o.inflightUploads.Add(1)
		go func() {
			defer o.inflightUploads.Done()
			if err := o.upload(ctx, block); err != nil {
				o.logger.Errorf("orchestrator: force_upload's upload failed", map[string]any{"error": err.Error(), "block_id": block.ID})
			}
		}()
	}

	o.inflightUploads.Wait()
	return nil
}

// BackoffQueueDepth reports how many records are currently parked,
// primarily for tests and diagnostics.
func (o *Orchestrator) BackoffQueueDepth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.backoff)
}
