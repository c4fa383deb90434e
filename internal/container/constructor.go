package container

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// DefaultSize is the default pre-compression target size of one
// container, per spec.md §3: 16 MiB.
const DefaultSize = 16 << 20

// bufferSlack is the constructor's buffer overallocation factor
// (spec.md §4.4: "a single buffer of capacity 1.2 x ContainerSize").
const bufferSlack = 1.2

// flushTask carries one sealed, not-yet-compressed container through
// the Compress -> Write -> Release background chain (spec.md §4.4),
// so the foreground WriteRecord caller is never blocked on I/O.
type flushTask struct {
	cid  uint64
	data []byte
}

type writeTask struct {
	cid  uint64
	data []byte
}

// Constructor buffers BlockHeader+payload records up to TargetSize,
// then seals, compresses and writes the container as one file,
// entirely off the calling goroutine. One Constructor exists per
// (category, write-side) for the duration of a version's ingest or a
// single arrangement write cursor.
//
// Grounded on the teacher's StoreChunkContent (single chunk -> single
// compressed file), generalized to a multi-chunk buffered container
// with an async write-back chain.
type Constructor struct {
	TargetSize int

	pathFor func(cid uint64) string

	buf  []byte
	used int
	cid  uint64

	compressCh chan flushTask
	writeCh    chan writeTask
	wg         sync.WaitGroup
	errMu      sync.Mutex
	err        error
}

// NewConstructor builds a Constructor that writes sealed containers to
// pathFor(cid), starting at initialCid (so callers resuming a partial
// category continue the cid sequence rather than restarting at 0).
func NewConstructor(targetSize int, initialCid uint64, pathFor func(cid uint64) string) *Constructor {
	if targetSize <= 0 {
		targetSize = DefaultSize
	}
	c := &Constructor{
		TargetSize: targetSize,
		pathFor:    pathFor,
		buf:        make([]byte, 0, int(float64(targetSize)*bufferSlack)),
		cid:        initialCid,
		compressCh: make(chan flushTask, 4),
		writeCh:    make(chan writeTask, 4),
	}
	c.wg.Add(2)
	go c.compressStage()
	go c.writeStage()
	return c
}

// NextCid returns the container id that will be assigned to the next
// sealed container.
func (c *Constructor) NextCid() uint64 { return c.cid }

// Used returns the number of buffered, not-yet-sealed bytes.
func (c *Constructor) Used() int { return c.used }

// WriteRecord appends one BlockHeader+payload record to the buffer. If
// the buffer already holds records and this one would overflow its
// 1.2x TargetSize capacity, the current container is sealed first.
// After the append the container is sealed once the buffer reaches
// TargetSize -- spec.md §8's boundary rule: a chunk crossing or landing
// exactly at the size boundary is never split, it completes the
// current container and the *next* chunk starts a new one. Returns the
// container id the record was written into.
func (c *Constructor) WriteRecord(h BlockHeader, payload []byte) (cid uint64, err error) {
	if err := c.Err(); err != nil {
		return 0, err
	}
	need := HeaderSize + len(payload)
	if c.used > 0 && c.used+need > cap(c.buf) {
		if err := c.seal(); err != nil {
			return 0, err
		}
	}
	var hdr [HeaderSize]byte
	h.Marshal(hdr[:])
	c.buf = append(c.buf, hdr[:]...)
	c.buf = append(c.buf, payload...)
	c.used += need
	cid = c.cid
	if c.used >= c.TargetSize {
		if err := c.seal(); err != nil {
			return cid, err
		}
	}
	return cid, nil
}

// seal hands the current buffer to the async compress/write chain and
// starts a fresh one under a new cid.
func (c *Constructor) seal() error {
	if c.used == 0 {
		return nil
	}
	data := c.buf
	cid := c.cid

	c.buf = make([]byte, 0, int(float64(c.TargetSize)*bufferSlack))
	c.used = 0
	c.cid++

	select {
	case c.compressCh <- flushTask{cid: cid, data: data}:
		return nil
	}
}

// Flush seals any partial buffered container (used at category/version
// boundaries, per spec.md §4.6's "flushes whenever the buffer crosses
// ContainerSize... on the class-end marker, flushes").
func (c *Constructor) Flush() error {
	return c.seal()
}

// Close drains the compress/write chain and waits for every in-flight
// container to become durable. Call after the final Flush.
func (c *Constructor) Close() error {
	close(c.compressCh)
	c.wg.Wait()
	return c.Err()
}

func (c *Constructor) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Constructor) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

// compressStage is the "OfflineCompressor" of spec.md §4.4.
func (c *Constructor) compressStage() {
	defer c.wg.Done()
	defer close(c.writeCh)
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		c.setErr(fmt.Errorf("container: building zstd encoder: %w", err))
		return
	}
	defer enc.Close()
	for task := range c.compressCh {
		compressed := enc.EncodeAll(task.data, nil)
		select {
		case c.writeCh <- writeTask{cid: task.cid, data: compressed}:
		}
	}
}

// writeStage is the "OfflineWriter" of spec.md §4.4: write+fsync each
// sealed container as it arrives.
func (c *Constructor) writeStage() {
	defer c.wg.Done()
	for task := range c.writeCh {
		if err := writeFileSync(c.pathFor(task.cid), task.data); err != nil {
			c.setErr(fmt.Errorf("container: writing container %d: %w", task.cid, err))
		}
	}
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Decompress reverses the per-container zstd compression. A fresh
// decoder is used per call: containers are read infrequently relative
// to ingest and a pooled decoder would add cross-goroutine sharing
// complexity the read paths (restore, arrangement, base-cache) do not
// need.
func Decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("container: building zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("container: decompressing: %w", err)
	}
	return out, nil
}

// ReadFile reads and decompresses a whole container file.
func ReadFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("container: reading %q: %w", path, err)
	}
	return Decompress(raw)
}

// IterHeaders walks a decompressed container's (BlockHeader, payload)
// records, calling fn for each. Returns a format-violation error if a
// header's Length would read past the end of buf (spec.md §7).
func IterHeaders(buf []byte, fn func(h BlockHeader, payload []byte) error) error {
	off := 0
	for off < len(buf) {
		if off+HeaderSize > len(buf) {
			return fmt.Errorf("container: truncated block header at offset %d: %w", off, io.ErrUnexpectedEOF)
		}
		h, n := Unmarshal(buf[off:])
		off += n
		if uint64(off)+h.Length > uint64(len(buf)) {
			return fmt.Errorf("container: block header length %d exceeds buffer at offset %d", h.Length, off)
		}
		payload := buf[off : off+int(h.Length)]
		off += int(h.Length)
		if err := fn(h, payload); err != nil {
			return err
		}
	}
	return nil
}
