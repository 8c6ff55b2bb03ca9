// Package upload implements the Upload Pipeline (C9): the three serial
// stages (prepare, upload, commit) that turn a sealed log-cache block
// into a durable object-store artifact and a metadata-service commit,
// per spec.md §4.9. Each stage is its own dedicated, order-preserving
// worker goroutine so prepare, upload and commit for different blocks
// overlap rather than serialize end to end.
//
// Grounded on internal/wal/staging.go's staging-marker-then-object
// two-phase flush (now internal/uploadfmt.StagingWriter), on
// internal/produce/commit.go's Committer — its atomic multi-key metadata
// transaction and fatal-on-commit-failure escalation, generalized from
// the teacher's Kafka HWM/offset-index bookkeeping to the Coordinator
// interface's CommitWALObject call — and on S3Storage.prepareWALObject's
// queue handoff (original_source/s3stream/.../S3Storage.java:432-449),
// which triggers the next block's prepare as soon as the current one has
// an object id, without waiting for that block's own upload to finish.
package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dray-io/dray/internal/coordinator"
	"github.com/dray-io/dray/internal/logcache"
	"github.com/dray-io/dray/internal/logging"
	"github.com/dray-io/dray/internal/metadata"
	"github.com/dray-io/dray/internal/metrics"
	"github.com/dray-io/dray/internal/objectstore"
	"github.com/dray-io/dray/internal/uploadfmt"
	"github.com/dray-io/dray/internal/walengine"
)

// Task tracks one archived block through the pipeline, resolved once the
// block has either committed or failed.
type Task struct {
	block *logcache.Block
	done  chan struct{}
	err   error
}

func newTask(block *logcache.Block) *Task {
	return &Task{block: block, done: make(chan struct{})}
}

func (t *Task) complete() { close(t.done) }
func (t *Task) fail(err error) {
	t.err = err
	close(t.done)
}

// Wait blocks until the task's block has committed or failed.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// uploadJob carries a prepared-but-not-yet-streamed object from the
// prepare stage to the upload stage: object id acquisition and chunk
// encoding are already done, only the network Flush remains.
type uploadJob struct {
	task   *Task
	writer *uploadfmt.StagingWriter
	chunks []coordinator.ChunkCommit
}

type commitJob struct {
	task   *Task
	staged *uploadfmt.StagingWriteResult
	chunks []coordinator.ChunkCommit
}

// FatalHandler is invoked exactly once when a commit irrecoverably fails
// (spec.md §7: UploadCommitFailed is terminal). Production wiring should
// log and exit the process; tests can capture the error instead.
type FatalHandler func(err error)

// Config configures a Pipeline.
type Config struct {
	MetaDomain    uint32
	PathFormatter uploadfmt.PathFormatter
	Codec         uploadfmt.Codec
	ObjectTTLMs   int64
	Metrics       *metrics.UploadMetrics
	OnFatal       FatalHandler
}

// Pipeline is the C9 facade: Enqueue hands it a sealed block, and it
// drives that block through prepare -> upload -> commit on three
// dedicated, order-preserving worker goroutines.
type Pipeline struct {
	cfg       Config
	store     objectstore.Store
	metaStore metadata.MetadataStore
	coord     coordinator.Coordinator
	wal       *walengine.Service
	cache     *logcache.Cache
	logger    *logging.Logger

	prepareCh chan *Task
	uploadCh  chan *uploadJob
	commitCh  chan *commitJob
	stopCh    chan struct{}
	wg        sync.WaitGroup

	fatalOnce sync.Once
}

// New constructs a Pipeline. Start must be called before Enqueue.
func New(cfg Config, store objectstore.Store, metaStore metadata.MetadataStore, coord coordinator.Coordinator, wal *walengine.Service, cache *logcache.Cache, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Global()
	}
	if cfg.PathFormatter == nil {
		cfg.PathFormatter = &uploadfmt.DefaultPathFormatter{}
	}
	if cfg.ObjectTTLMs == 0 {
		cfg.ObjectTTLMs = int64((24 * time.Hour) / time.Millisecond)
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		metaStore: metaStore,
		coord:     coord,
		wal:       wal,
		cache:     cache,
		logger:    logger,
		prepareCh: make(chan *Task, 1024),
		uploadCh:  make(chan *uploadJob, 1024),
		commitCh:  make(chan *commitJob, 1024),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the prepare, upload and commit workers. Each is its own
// goroutine reading its own channel, so a block's prepare (object id +
// chunk encoding) never waits on an earlier block's network upload, and
// an upload never waits on an earlier block's commit (spec.md §4.9 step
// 2; grounded on S3Storage.prepareWALObject, which triggers the next
// prepare immediately after the current one's id is ready rather than
// waiting for its upload to finish).
func (p *Pipeline) Start() {
	p.wg.Add(3)
	go p.prepareLoop()
	go p.uploadLoop()
	go p.commitLoop()
}

// Close stops accepting work and waits for in-flight tasks to drain.
func (p *Pipeline) Close() {
	close(p.stopCh)
	p.wg.Wait()
}

// Enqueue submits a sealed block for upload. Because each of the three
// worker goroutines drains its channel strictly in arrival order, and
// each stage is the sole producer of the next stage's queue in that same
// order, object-id order, prepare order, upload order and commit order
// all match (spec.md §4.9 invariant a) without any extra
// head-of-queue bookkeeping, even though prepare/upload/commit for
// different blocks run concurrently with each other.
func (p *Pipeline) Enqueue(block *logcache.Block) *Task {
	task := newTask(block)
	select {
	case p.prepareCh <- task:
	case <-p.stopCh:
		task.fail(fmt.Errorf("upload: pipeline closed"))
	}
	return task
}

func (p *Pipeline) prepareLoop() {
	defer p.wg.Done()
	ctx := context.Background()
	for {
		select {
		case task := <-p.prepareCh:
			job := p.prepare(ctx, task)
			if job == nil {
				continue
			}
			select {
			case p.uploadCh <- job:
			case <-p.stopCh:
				return
			}
		case <-p.stopCh:
			return
		}
	}
}

// prepare requests an object id and builds one chunk per stream present
// in the block, entirely in memory (spec.md §4.9 step 1: AddChunk only
// buffers). It never touches the network, so it never waits on an
// earlier block's upload — the byte streaming itself happens later, on
// its own stage, in upload.
func (p *Pipeline) prepare(ctx context.Context, task *Task) *uploadJob {
	block := task.block

	if _, err := p.coord.PrepareObject(ctx, 1, p.cfg.ObjectTTLMs); err != nil {
		task.fail(fmt.Errorf("upload: prepare object: %w", err))
		return nil
	}

	w := uploadfmt.NewStagingWriter(p.store, p.metaStore, &uploadfmt.StagingWriterConfig{
		PathFormatter: p.cfg.PathFormatter,
		Codec:         p.cfg.Codec,
		Metrics:       p.cfg.Metrics,
	})

	chunks := make([]coordinator.ChunkCommit, 0, len(block.StreamIDs()))
	for _, streamID := range block.StreamIDs() {
		records := block.Records(streamID)
		if len(records) == 0 {
			continue
		}
		chunk := uploadfmt.Chunk{StreamID: streamID}
		var recordCount uint32
		minTs, maxTs := records[0].MinTimestampMs, records[0].MaxTimestampMs
		for _, r := range records {
			chunk.Batches = append(chunk.Batches, uploadfmt.RecordBatch{
				BaseOffset:     r.BaseOffset,
				LastOffset:     r.LastOffset,
				Payload:        r.Payload,
				MinTimestampMs: r.MinTimestampMs,
				MaxTimestampMs: r.MaxTimestampMs,
			})
			recordCount += uint32(r.LastOffset - r.BaseOffset)
			if r.MinTimestampMs < minTs {
				minTs = r.MinTimestampMs
			}
			if r.MaxTimestampMs > maxTs {
				maxTs = r.MaxTimestampMs
			}
		}
		chunk.RecordCount = recordCount
		chunk.MinTimestampMs = minTs
		chunk.MaxTimestampMs = maxTs

		if err := w.AddChunk(chunk, p.cfg.MetaDomain); err != nil {
			task.fail(fmt.Errorf("upload: add chunk for stream %d: %w", streamID, err))
			return nil
		}
		chunks = append(chunks, coordinator.ChunkCommit{StreamID: fmt.Sprint(streamID), RecordCount: recordCount, MinTimestampMs: chunk.MinTimestampMs, MaxTimestampMs: chunk.MaxTimestampMs})
	}

	if len(chunks) == 0 {
		task.complete()
		return nil
	}

	return &uploadJob{task: task, writer: w, chunks: chunks}
}

func (p *Pipeline) uploadLoop() {
	defer p.wg.Done()
	ctx := context.Background()
	for {
		select {
		case job := <-p.uploadCh:
			cj := p.upload(ctx, job)
			if cj == nil {
				continue
			}
			select {
			case p.commitCh <- cj:
			case <-p.stopCh:
				return
			}
		case <-p.stopCh:
			return
		}
	}
}

// upload streams the already-encoded object to the object store
// (spec.md §4.9 step 2's byte-streaming half), on its own stage so it
// can run while the next block is still preparing.
func (p *Pipeline) upload(ctx context.Context, job *uploadJob) *commitJob {
	staged, err := job.writer.Flush(ctx)
	if err != nil {
		job.task.fail(fmt.Errorf("upload: flush staged object: %w", err))
		return nil
	}
	return &commitJob{task: job.task, staged: staged, chunks: job.chunks}
}

func (p *Pipeline) commitLoop() {
	defer p.wg.Done()
	ctx := context.Background()
	for {
		select {
		case job := <-p.commitCh:
			p.commit(ctx, job)
		case <-p.stopCh:
			return
		}
	}
}

// commit completes the object's metadata transaction. A failure here is
// fatal per spec.md §7 (UploadCommitFailed): the WAL is already un-trimmed
// for this block and retrying risks re-uploading a partially-committed
// object under the same id, so the only safe response is to escalate and
// let the process restart and recover from the WAL.
func (p *Pipeline) commit(ctx context.Context, job *commitJob) {
	req := coordinator.CommitWALObjectRequest{
		MetaDomain:      job.staged.MetaDomain,
		Path:            job.staged.Path,
		SizeBytes:       job.staged.Size,
		CreatedAtUnixMs: job.staged.CreatedAtUnixMs,
		StagingKey:      job.staged.StagingKey,
		Chunks:          job.chunks,
	}

	if _, err := p.coord.CommitWALObject(ctx, req); err != nil {
		p.escalateFatal(fmt.Errorf("upload: commit wal object: %w", err))
		job.task.fail(err)
		return
	}

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordCommit()
	}

	block := job.task.block
	go func() {
		if err := p.wal.Trim(block.ConfirmOffset()); err != nil {
			p.logger.Warnf("upload: best-effort trim after commit failed", map[string]any{"error": err.Error()})
		}
	}()
	p.cache.MarkFree(block)
	job.task.complete()
}

func (p *Pipeline) escalateFatal(err error) {
	p.fatalOnce.Do(func() {
		p.logger.Errorf("upload: commit failed, escalating to UploadCommitFailed", map[string]any{"error": err.Error()})
		if p.cfg.OnFatal != nil {
			p.cfg.OnFatal(err)
		}
	})
}
