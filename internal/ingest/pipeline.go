package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/HIT-HSSL/MeGA/internal/basecache"
	"github.com/HIT-HSSL/MeGA/internal/container"
	"github.com/HIT-HSSL/MeGA/internal/index"
	"github.com/HIT-HSSL/MeGA/internal/rollhash"
)

// queueDepth bounds every inter-stage channel, per spec.md Design
// Notes §9: "apply explicit bounds... to bound memory; producers
// block on push when full" (the source's unbounded condvar lists are
// deliberately not reproduced).
const queueDepth = 64

// Config holds the Dedup/Write stages' tunables, all out of scope for
// config-file loading per spec.md §1: the caller (internal/store)
// constructs one and passes it down.
type Config struct {
	ContainerSize    int // spec.md §3 default: 16 MiB
	SegmentSize      int // spec.md §4.5 default: 20 MiB
	CappingThreshold int // spec.md §4.5 default: 10
	DeltaEnabled     bool
	Algo             rollhash.Algorithm
	Seed             int64
	SimWindowSize    int
}

// DefaultConfig matches spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		ContainerSize:    container.DefaultSize,
		SegmentSize:      20 << 20,
		CappingThreshold: 10,
		DeltaEnabled:     true,
		Algo:             rollhash.Rabin,
		Seed:             2,
		SimWindowSize:    64,
	}
}

// Run drives one version's Hash -> Dedup -> Write pipeline to
// completion, per spec.md §4.5/§5. chunks must be closed by the
// caller once the external chunker is exhausted; Run returns once
// every stage has drained, or on the first stage error, in which case
// the in-flight version is considered aborted (spec.md §7: "no partial
// recovery within a version"). Rolling idx's metadata tables for this
// version is the caller's responsibility, not Run's: it happens either
// directly after Run (when there is no prior category to arrange) or
// at the end of that version's arrangement pass (see internal/store,
// internal/arrangement).
func Run(
	ctx context.Context,
	version uint32,
	cfg Config,
	idx *index.Indexes,
	cache *basecache.Cache,
	chunks <-chan []byte,
	rw *container.RecipeWriter,
	cons *container.Constructor,
) error {
	hashOut := make(chan hashedChunk, queueDepth)
	writeOut := make(chan WriteTask, queueDepth)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHashStage(gctx, chunks, hashOut)
	})

	d := &dedupStage{
		Indexes:   idx,
		BaseCache: cache,
		Config:    cfg,
		Version:   version,
		predictor: newCidPredictor(cfg.ContainerSize),
	}
	g.Go(func() error {
		return d.run(gctx, hashOut, writeOut)
	})

	g.Go(func() error {
		return runWriteStage(gctx, writeOut, rw, cons)
	})

	return g.Wait()
}
