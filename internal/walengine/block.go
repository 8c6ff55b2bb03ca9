package walengine

import (
	"fmt"
	"os"
	"sync"
)

// BlockSize is the device block size every I/O is aligned to. Writes round
// the length up to a multiple of BlockSize; reads round down. Grounded on
// WALBlockDeviceChannel.BLOCK_SIZE (default 4096) in the original.
const BlockSize = 4096

// preallocatedBufSize and preallocatedBufMaxSize bound the per-worker
// aligned scratch buffers handed out by bufPool, mirroring the original's
// PREALLOCATED_BYTE_BUFFER_SIZE / PREALLOCATED_BYTE_BUFFER_MAX_SIZE thread
// locals: reused across writes so a busy writer doesn't allocate per
// record, grown (bounded) the first time a caller needs more.
const (
	preallocatedBufSize    = 2 << 20  // 2MB
	preallocatedBufMaxSize = 16 << 20 // 16MB
)

// alignUp rounds n up to the next multiple of BlockSize.
func alignUp(n int64) int64 {
	if n%BlockSize == 0 {
		return n
	}
	return (n/BlockSize + 1) * BlockSize
}

// alignDown rounds n down to a multiple of BlockSize.
func alignDown(n int64) int64 {
	return n - n%BlockSize
}

// BlockChannel is a raw block-device (or plain file, for development and
// tests) I/O channel with block-aligned reads and writes. There is no
// portable O_DIRECT in the Go standard library, so unlike the Java
// original's DirectRandomAccessFile this opens the file with ordinary
// buffered I/O and relies on explicit alignment plus an fsync-on-flush
// discipline for durability; a production deployment backs this with a
// raw block device path where the OS page cache is irrelevant to
// correctness, only to performance.
type BlockChannel struct {
	path     string
	wantCap  int64
	file     *os.File
	capacity int64

	bufMu sync.Mutex
	pool  sync.Pool
}

// NewBlockChannel constructs a channel for the given path without opening
// it. wantCapacity is used to pre-size a freshly created file; an existing
// file at least that large keeps its actual size once opened, a smaller
// one is extended.
func NewBlockChannel(path string, wantCapacity int64) *BlockChannel {
	c := &BlockChannel{path: path, wantCap: wantCapacity}
	c.pool.New = func() any {
		buf := make([]byte, preallocatedBufSize)
		return &buf
	}
	return c
}

// Open opens (creating if necessary) the backing file and establishes its
// capacity: an existing file's size is trusted; a new or undersized file
// is extended to wantCapacity, block-aligned down.
func (c *BlockChannel) Open() error {
	f, err := os.OpenFile(c.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("walengine: open block channel %q: %w", c.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("walengine: stat block channel %q: %w", c.path, err)
	}

	capacity := alignDown(c.wantCap)
	if info.Size() >= capacity && info.Size() > 0 {
		capacity = alignDown(info.Size())
	} else if err := f.Truncate(capacity); err != nil {
		f.Close()
		return fmt.Errorf("walengine: truncate block channel %q: %w", c.path, err)
	}

	c.file = f
	c.capacity = capacity
	return nil
}

// Close closes the underlying file.
func (c *BlockChannel) Close() error {
	if c.file == nil {
		return nil
	}
	return c.file.Close()
}

// Capacity returns the channel's usable byte capacity.
func (c *BlockChannel) Capacity() int64 {
	return c.capacity
}

// acquire returns a scratch buffer at least size bytes long, sized up in
// powers consistent with the pool's growth bound. Mirrors
// makeThreadLocalBytebufferMatchDirectIO: grow in place if the pooled
// buffer is too small, refuse if the caller wants more than the max.
func (c *BlockChannel) acquire(size int64) ([]byte, error) {
	if size > preallocatedBufMaxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds max buffer size %d", ErrRecordTooLarge, size, preallocatedBufMaxSize)
	}
	bufp := c.pool.Get().(*[]byte)
	if int64(cap(*bufp)) < size {
		*bufp = make([]byte, size)
	}
	return (*bufp)[:size], nil
}

func (c *BlockChannel) release(buf []byte) {
	c.pool.Put(&buf)
}

// Write writes data at position, block-aligning the write length upward
// and zero-padding the tail. It retries on partial writes, continuing at
// position+written, the same loop as WALBlockDeviceChannel.write.
func (c *BlockChannel) Write(data []byte, position int64) error {
	if c.file == nil {
		return ErrClosed
	}
	aligned := alignUp(int64(len(data)))
	buf, err := c.acquire(aligned)
	if err != nil {
		return err
	}
	defer c.release(buf)

	copy(buf, data)
	for i := len(data); i < len(buf); i++ {
		buf[i] = 0
	}

	var written int64
	remaining := aligned
	for remaining > 0 {
		n, err := c.file.WriteAt(buf[written:aligned], position+written)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrShortWrite, err)
		}
		if n == 0 {
			return ErrShortWrite
		}
		n64 := int64(n)
		if n64%BlockSize != 0 {
			// Should not happen with a real block device; tolerate it
			// the way the original does, by only counting the aligned
			// prefix and retrying the remainder.
			n64 -= n64 % BlockSize
		}
		written += n64
		remaining -= n64
	}
	return nil
}

// Read reads into dst at position, block-aligning the read length
// downward. Fewer bytes than requested are copied back verbatim on EOF.
func (c *BlockChannel) Read(dst []byte, position int64) (int, error) {
	if c.file == nil {
		return 0, ErrClosed
	}
	aligned := alignDown(int64(len(dst)))
	if aligned == 0 {
		aligned = BlockSize
	}
	buf, err := c.acquire(aligned)
	if err != nil {
		return 0, err
	}
	defer c.release(buf)

	var read int64
	for read < aligned {
		n, err := c.file.ReadAt(buf[read:aligned], position+read)
		read += int64(n)
		if err != nil {
			break // EOF or short read; return what we have, like the original.
		}
	}

	n := copy(dst, buf[:read])
	return n, nil
}

// Sync flushes the channel to stable storage.
func (c *BlockChannel) Sync() error {
	if c.file == nil {
		return ErrClosed
	}
	return c.file.Sync()
}
