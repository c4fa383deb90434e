// Chunker is the external collaborator of spec.md §6: "produces a
// stream of (buffer_ref, pos, length) chunk descriptors from an input
// file; length is bounded by container size and at least a minimum
// (default 2048 bytes)". Its internals are explicitly out of scope
// (spec.md §1); this file provides the minimal concrete
// implementation the rest of the pipeline needs to run and be tested
// end to end -- a content-defined chunker over the same rolling-hash
// trait the similarity sampler uses, grounded on the teacher's
// matchStream (LeilaRenard-dna-backup/repo.go), simplified since MeGA
// itself (unlike the teacher) does not need to special-case rematching
// against already-known fingerprints mid-stream: that job belongs to
// the Dedup stage, not the chunker.
package ingest

import (
	"bufio"
	"io"

	"github.com/HIT-HSSL/MeGA/internal/rollhash"
)

// ChunkerConfig bounds the chunker's output sizes.
type ChunkerConfig struct {
	MinSize    int // spec.md §6 default: 2048
	TargetSize int // average size the content-defined mask aims for
	MaxSize    int // hard cap, spec.md §6: bounded by container size
	Algo       rollhash.Algorithm
	Seed       int64
}

// DefaultChunkerConfig matches the teacher's 8 KiB average chunk size.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MinSize:    2048,
		TargetSize: 8 << 10,
		MaxSize:    16 << 20,
		Algo:       rollhash.Rabin,
		Seed:       1,
	}
}

// maskFor picks a rolling-hash boundary mask whose zero-bit count
// gives roughly a 1-in-TargetSize chance per byte, matching the
// classic content-defined-chunking approach.
func maskFor(targetSize int) uint64 {
	bits := 0
	for n := targetSize; n > 1; n >>= 1 {
		bits++
	}
	if bits <= 0 {
		return 0
	}
	return (uint64(1) << bits) - 1
}

// ChunkStream reads r and sends content-defined chunks on out until r
// is exhausted or an error occurs. It closes out before returning; the
// return value is nil at end of input, or the first read or hasher
// error.
func ChunkStream(r io.Reader, cfg ChunkerConfig, out chan<- []byte) error {
	defer close(out)
	h, err := rollhash.New(cfg.Algo, cfg.MinSize, cfg.Seed)
	if err != nil {
		return err
	}
	mask := maskFor(cfg.TargetSize)
	br := bufio.NewReaderSize(r, cfg.MaxSize)
	buf := make([]byte, 0, cfg.MaxSize)
	windowFilled := false

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		cp := make([]byte, len(buf))
		copy(cp, buf)
		out <- cp
		buf = buf[:0]
		h.Reset()
		windowFilled = false
		return nil
	}

	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return flush()
		}
		if err != nil {
			return err
		}
		buf = append(buf, b)
		if len(buf) < cfg.MinSize {
			continue
		}
		if !windowFilled {
			h.Write(buf[len(buf)-cfg.MinSize:])
			windowFilled = true
		} else {
			h.Roll(b)
		}
		if len(buf) >= cfg.MaxSize {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if h.Sum64()&mask == 0 {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}
