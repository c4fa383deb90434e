package ingest

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/HIT-HSSL/MeGA/internal/basecache"
	"github.com/HIT-HSSL/MeGA/internal/container"
	"github.com/HIT-HSSL/MeGA/internal/fingerprint"
	"github.com/HIT-HSSL/MeGA/internal/index"
)

// noopLoader errors on every call: the dedup tests below only ever
// reference base chunks already present in the cache (added via
// AddRecord by an earlier unique chunk in the same run), so
// LoadBaseChunks/container-granularity prefetch is never expected to
// fire.
type noopLoader struct{}

var errNoopLoader = errors.New("noopLoader: no containers available")

func (noopLoader) LoadContainer(categoryOrder uint32, cid uint64) ([]byte, error) {
	return nil, errNoopLoader
}

func newTestDedupStage(cfg Config) *dedupStage {
	return &dedupStage{
		Indexes:   index.New(),
		BaseCache: basecache.New(1<<20, noopLoader{}),
		Config:    cfg,
		Version:   1,
		predictor: newCidPredictor(cfg.ContainerSize),
	}
}

func drainWriteTasks(t *testing.T, ctx context.Context, d *dedupStage, in []hashedChunk) []WriteTask {
	t.Helper()
	src := make(chan hashedChunk, len(in))
	for _, hc := range in {
		src <- hc
	}
	close(src)
	out := make(chan WriteTask, len(in)+1)
	if err := d.run(ctx, src, out); err != nil {
		t.Fatalf("dedupStage.run: %v", err)
	}
	var tasks []WriteTask
	for tk := range out {
		tasks = append(tasks, tk)
	}
	return tasks
}

func hc(data []byte) hashedChunk {
	return hashedChunk{Data: data, FP: fingerprint.Compute(data)}
}

func TestDedupStageFirstOccurrenceIsUnique(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SegmentSize = 1 << 30
	d := newTestDedupStage(cfg)

	tasks := drainWriteTasks(t, context.Background(), d, []hashedChunk{hc([]byte("distinct payload one"))})
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	if tasks[0].Payload == nil {
		t.Fatalf("first occurrence of a chunk must carry a payload")
	}
}

func TestDedupStageRepeatWithinSegmentIsInternalDedup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SegmentSize = 1 << 30
	d := newTestDedupStage(cfg)

	data := []byte("repeated payload for internal dedup")
	tasks := drainWriteTasks(t, context.Background(), d, []hashedChunk{hc(data), hc(data)})
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].Payload == nil {
		t.Fatalf("first occurrence must carry a payload")
	}
	if tasks[1].Payload != nil {
		t.Fatalf("repeated occurrence within the same version must be recipe-only (InternalDedup), got a payload")
	}
	if tasks[1].Header.FP != tasks[0].Header.FP {
		t.Fatalf("repeated occurrence's header fingerprint mismatches the original")
	}
}

func TestDedupStageAdjacentDedupAcrossVersions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SegmentSize = 1 << 30
	idx := index.New()

	d1 := &dedupStage{Indexes: idx, BaseCache: basecache.New(1<<20, noopLoader{}), Config: cfg, Version: 1, predictor: newCidPredictor(cfg.ContainerSize)}
	data := []byte("chunk seen in version one and reemitted in version two")
	first := drainWriteTasks(t, context.Background(), d1, []hashedChunk{hc(data)})
	if len(first) != 1 || first[0].Payload == nil {
		t.Fatalf("version 1 occurrence should be Unique with a payload")
	}

	// TableRolling now happens at the end of arrangement (or directly
	// in store.Ingest when there is no prior category to arrange),
	// never inside Dedup itself -- roll explicitly here to put data's
	// version-1 entry where version 2's classification expects it.
	idx.TableRolling()
	d2 := &dedupStage{Indexes: idx, BaseCache: basecache.New(1<<20, noopLoader{}), Config: cfg, Version: 2, predictor: newCidPredictor(cfg.ContainerSize)}
	second := drainWriteTasks(t, context.Background(), d2, []hashedChunk{hc(data)})
	if len(second) != 1 {
		t.Fatalf("got %d tasks, want 1", len(second))
	}
	if second[0].Payload != nil {
		t.Fatalf("AdjacentDedup (non-delta) classification must be recipe-only, got a payload")
	}
}

// TestDedupStageDeltaEncodesAgainstCachedCandidate exercises
// the SimilarityLookupAll + BaseCache.GetRecordBatch wiring through the
// real Dedup stage: a near-duplicate chunk must resolve its cached
// base via the six-candidate batch lookup and delta-encode against it,
// rather than silently falling back to a Unique emission because only
// a single-candidate lookup was tried. The base is a few KiB so that
// the encoded delta is smaller than the near-duplicate itself.
func TestDedupStageDeltaEncodesAgainstCachedCandidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SegmentSize = 1 << 30
	cfg.CappingThreshold = 10
	idx := index.New()
	cache := basecache.New(1<<20, noopLoader{})
	d := &dedupStage{Indexes: idx, BaseCache: cache, Config: cfg, Version: 1, predictor: newCidPredictor(cfg.ContainerSize)}

	base := bytes.Repeat([]byte("shared base payload that a later near-duplicate will delta against "), 64)
	baseFP := fingerprint.Compute(base)

	first := drainWriteTasks(t, context.Background(), d, []hashedChunk{hc(base)})
	if len(first) != 1 || first[0].Payload == nil {
		t.Fatalf("base chunk's first occurrence should be Unique with a payload")
	}

	nearDup := append(append([]byte(nil), base...), '!')
	second := drainWriteTasks(t, context.Background(), d, []hashedChunk{hc(nearDup)})
	if len(second) != 1 {
		t.Fatalf("got %d tasks, want 1", len(second))
	}
	if second[0].Header.DeltaTag != 1 {
		t.Fatalf("near-duplicate chunk should have delta-encoded against the cached base, got DeltaTag=%d", second[0].Header.DeltaTag)
	}
	if second[0].Header.BaseFP != baseFP {
		t.Fatalf("delta header's base fingerprint = %v, want %v", second[0].Header.BaseFP, baseFP)
	}
}

func TestDedupStageSegmentFlushesOnSegmentSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SegmentSize = 10 // force every chunk into its own segment
	d := newTestDedupStage(cfg)

	tasks := drainWriteTasks(t, context.Background(), d, []hashedChunk{
		hc([]byte("alpha payload over ten bytes")),
		hc([]byte("beta payload also over ten bytes")),
	})
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].Payload == nil || tasks[1].Payload == nil {
		t.Fatalf("two distinct chunks across two segments must both be Unique")
	}
}

func TestCidPredictorSealsAtTargetSize(t *testing.T) {
	p := newCidPredictor(100)
	first := p.assign(50) // header + 50 bytes; header size pushes this near the boundary
	second := p.assign(50)
	if first != 0 {
		t.Fatalf("first assign = %d, want 0", first)
	}
	// Exact seal point depends on container.HeaderSize, but the
	// predictor must monotonically non-decrease and eventually roll
	// over to a new cid once accumulated bytes reach targetSize.
	if second < first {
		t.Fatalf("cid predictor must not go backwards: first=%d second=%d", first, second)
	}
	third := p.assign(1000)
	if third <= second {
		t.Fatalf("a payload pushing well past targetSize must roll to a new cid: second=%d third=%d", second, third)
	}
}

func TestRunPipelineEndToEnd(t *testing.T) {
	dir := t.TempDir()
	idx := index.New()
	cache := basecache.New(1<<20, noopLoader{})

	rw, err := container.CreateRecipe(filepath.Join(dir, "Recipe1"))
	if err != nil {
		t.Fatalf("CreateRecipe: %v", err)
	}
	cons := container.NewConstructor(container.DefaultSize, 0, func(cid uint64) string {
		return filepath.Join(dir, "container")
	})

	chunks := make(chan []byte, 8)
	chunks <- []byte("pipeline test payload one, unique")
	chunks <- []byte("pipeline test payload two, also unique")
	chunks <- []byte("pipeline test payload one, unique") // repeat -> InternalDedup
	close(chunks)

	cfg := DefaultConfig()
	if err := Run(context.Background(), 1, cfg, idx, cache, chunks, rw, cons); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("rw.Close: %v", err)
	}
	if err := cons.Flush(); err != nil {
		t.Fatalf("cons.Flush: %v", err)
	}
	if err := cons.Close(); err != nil {
		t.Fatalf("cons.Close: %v", err)
	}

	headers, err := container.ReadRecipe(filepath.Join(dir, "Recipe1"))
	if err != nil {
		t.Fatalf("ReadRecipe: %v", err)
	}
	if len(headers) != 3 {
		t.Fatalf("got %d recipe records, want 3", len(headers))
	}
	if headers[0].FP != headers[2].FP {
		t.Fatalf("repeated chunk's recipe fingerprint mismatches the original")
	}
}
