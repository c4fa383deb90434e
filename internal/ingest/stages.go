// The Hash, Dedup and Write stages of spec.md §4.5/§4.5/§5: segment-
// batched classification (processingWaitingList -> cappingBaseChunks
// -> doDedup) feeding a Write stage that emits recipe records and
// container-bound payloads.
//
// Grounded on the teacher's worker-goroutine + channel pipeline
// (LeilaRenard-dna-backup/repo.go's matchStream/storeChunk staging),
// generalized from the teacher's single Hash+dedup-in-one-pass shape
// into the spec's three explicit stages and segment-local capping.
package ingest

import (
	"context"
	"fmt"

	"github.com/HIT-HSSL/MeGA/internal/basecache"
	"github.com/HIT-HSSL/MeGA/internal/container"
	"github.com/HIT-HSSL/MeGA/internal/delta"
	"github.com/HIT-HSSL/MeGA/internal/fingerprint"
	"github.com/HIT-HSSL/MeGA/internal/index"
	"github.com/HIT-HSSL/MeGA/internal/similarity"
)

// hashedChunk is one chunk after the Hash stage has computed its
// fingerprint.
type hashedChunk struct {
	Data []byte
	FP   fingerprint.SHA1FP
}

// WriteTask is what Dedup hands to Write: a recipe record, plus
// (for Unique/Similar classifications) the payload bytes the
// ContainerConstructor must route to the active category.
type WriteTask struct {
	Header  container.BlockHeader
	Payload []byte // nil for recipe-only tasks
}

// runHashStage computes each chunk's fingerprint and forwards it,
// preserving input order (spec.md §5: "no reordering through Hash ->
// Dedup -> Write").
func runHashStage(ctx context.Context, in <-chan []byte, out chan<- hashedChunk) error {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-in:
			if !ok {
				return nil
			}
			hc := hashedChunk{Data: data, FP: fingerprint.Compute(data)}
			select {
			case out <- hc:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// cidPredictor mirrors container.Constructor's cid-assignment
// arithmetic (see container.Constructor.WriteRecord): seal first when
// a record would overflow the 1.2x-slack buffer, append, then seal
// once the accumulated bytes reach targetSize. Dedup uses it to anchor
// similarity features and base-cache entries at the cid a chunk will
// actually land in, without waiting for Write to have written it.
// Dedup calls assign for every payload-bearing task (unique and delta
// alike), and Write hands the same tasks to the Constructor in the
// same, non-reordered sequence (spec.md §5), so the two counters stay
// in lockstep.
type cidPredictor struct {
	targetSize int
	capacity   int
	used       int
	cid        uint64
}

func newCidPredictor(targetSize int) *cidPredictor {
	if targetSize <= 0 {
		targetSize = container.DefaultSize
	}
	// Same 1.2x slack as the Constructor's buffer capacity.
	return &cidPredictor{targetSize: targetSize, capacity: int(float64(targetSize) * 1.2)}
}

func (p *cidPredictor) assign(payloadLen int) uint64 {
	need := container.HeaderSize + payloadLen
	if p.used > 0 && p.used+need > p.capacity {
		p.cid++
		p.used = 0
	}
	cid := p.cid
	p.used += need
	if p.used >= p.targetSize {
		p.cid++
		p.used = 0
	}
	return cid
}

// candidate is one chunk's working state across the three Dedup
// sub-passes of spec.md §4.5.
type candidate struct {
	hc             hashedChunk
	result         index.DedupResult
	entry          index.FPTableEntry
	features       similarity.Features
	hasFeatures    bool
	base           index.BasePos
	baseCandidates [6]index.BasePos
	hasBase        bool
	baseCached     bool
	rejected       bool
}

type baseKey struct {
	cat uint32
	cid uint64
}

// dedupStage runs the Dedup stage described in spec.md §4.5: segment
// batching (default 20 MiB of chunks) so capping sees every candidate
// base reference before any delta encodes happen.
type dedupStage struct {
	Indexes   *index.Indexes
	BaseCache *basecache.Cache
	Config    Config
	Version   uint32

	predictor *cidPredictor
}

func (d *dedupStage) run(ctx context.Context, in <-chan hashedChunk, out chan<- WriteTask) error {
	defer close(out)

	var segment []hashedChunk
	segBytes := 0

	flush := func() error {
		if len(segment) == 0 {
			return nil
		}
		if err := d.processSegment(ctx, segment, out); err != nil {
			return err
		}
		segment = segment[:0]
		segBytes = 0
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hc, ok := <-in:
			if !ok {
				return flush()
			}
			segment = append(segment, hc)
			segBytes += len(hc.Data)
			if segBytes >= d.Config.SegmentSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

// processSegment implements processingWaitingList -> cappingBaseChunks
// -> doDedup in that order, per spec.md §4.5 and Design Notes §9.
func (d *dedupStage) processSegment(ctx context.Context, segment []hashedChunk, out chan<- WriteTask) error {
	cands := make([]candidate, len(segment))

	// 1. processingWaitingList
	for i, hc := range segment {
		result, entry := d.Indexes.DedupLookup(hc.FP, uint64(len(hc.Data)))
		c := candidate{hc: hc, result: result, entry: entry}
		if result == index.Unique && d.Config.DeltaEnabled {
			feat, err := similarity.Sample(hc.Data, d.Config.Algo, d.Config.Seed, d.Config.SimWindowSize)
			if err != nil {
				return fmt.Errorf("ingest: sampling similarity features: %w", err)
			}
			c.features = feat
			c.hasFeatures = true
			c.baseCandidates = d.Indexes.SimilarityLookupAll(feat)
			// Prefer a candidate already resident in the cache (six
			// lanes instead of stopping at the first hit, per spec.md
			// Open Question #3 / GetRecordBatch's own candidate order);
			// fall back to the first valid candidate otherwise so
			// capping still has something to tally against.
			for _, cand := range c.baseCandidates {
				if !cand.Valid {
					continue
				}
				if _, cached := d.BaseCache.Get(cand.FP); cached {
					c.base = cand
					c.hasBase = true
					c.baseCached = true
					break
				}
			}
			if !c.hasBase {
				for _, cand := range c.baseCandidates {
					if cand.Valid {
						c.base = cand
						c.hasBase = true
						break
					}
				}
			}
		}
		cands[i] = c
	}

	// 2. cappingBaseChunks: tally not-already-cached base references,
	// keyed by (categoryOrder, cid); reject bases under threshold.
	tally := make(map[baseKey]int)
	for _, c := range cands {
		if c.hasBase && !c.baseCached {
			tally[baseKey{c.base.CategoryOrder, c.base.ContainerID}]++
		}
	}
	for i := range cands {
		if cands[i].hasBase && !cands[i].baseCached {
			k := baseKey{cands[i].base.CategoryOrder, cands[i].base.ContainerID}
			if tally[k] < d.Config.CappingThreshold {
				cands[i].rejected = true
			}
		}
	}

	// 3. doDedup, in input order.
	for i := range cands {
		task, err := d.doDedup(&cands[i])
		if err != nil {
			return err
		}
		select {
		case out <- task:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *dedupStage) doDedup(c *candidate) (WriteTask, error) {
	switch c.result {
	case index.Unique:
		return d.emitUniqueOrDelta(c)

	case index.InternalDedup:
		h := container.UniqueHeader(c.hc.FP, c.entry.Length, c.entry.OriginalLength, similarity.Features{})
		return WriteTask{Header: h}, nil

	case index.InternalDeltaDedup:
		h := container.DeltaHeader(c.hc.FP, c.entry.Length, c.entry.OriginalLength, c.entry.BaseFP)
		return WriteTask{Header: h}, nil

	case index.AdjacentDedup:
		d.Indexes.NeighborAddRecord(c.hc.FP, c.entry)
		if c.entry.DeltaTag == 1 {
			if baseEntry, ok := d.Indexes.Lookup(c.entry.BaseFP); ok {
				d.Indexes.NeighborAddRecord(c.entry.BaseFP, baseEntry)
			}
			h := container.DeltaHeader(c.hc.FP, c.entry.Length, c.entry.OriginalLength, c.entry.BaseFP)
			return WriteTask{Header: h}, nil
		}
		h := container.UniqueHeader(c.hc.FP, c.entry.Length, c.entry.OriginalLength, similarity.Features{})
		return WriteTask{Header: h}, nil

	default:
		return WriteTask{}, fmt.Errorf("ingest: unrecognized dedup result %v", c.result)
	}
}

// emitUniqueOrDelta handles the Unique classification: a Similar
// (not-rejected) candidate attempts a delta first, falling through to
// a plain Unique emission if the encoder declines.
func (d *dedupStage) emitUniqueOrDelta(c *candidate) (WriteTask, error) {
	if c.hasBase && !c.rejected {
		base, baseData, err := d.resolveBase(c.baseCandidates)
		if err != nil {
			return WriteTask{}, err
		}
		if out, ok := delta.Encode(c.hc.Data, baseData); ok {
			originalLen := uint64(len(c.hc.Data))
			deltaLen := uint64(len(out))
			d.Indexes.DeltaAddRecord(c.hc.FP, d.Version, base.FP, deltaLen, originalLen)
			if baseEntry, ok := d.Indexes.Lookup(base.FP); ok {
				d.Indexes.ExtendBase(base.FP, baseEntry)
			}
			d.predictor.assign(len(out))
			h := container.DeltaHeader(c.hc.FP, deltaLen, originalLen, base.FP)
			return WriteTask{Header: h, Payload: out}, nil
		}
	}
	return d.emitUnique(c)
}

func (d *dedupStage) emitUnique(c *candidate) (WriteTask, error) {
	length := uint64(len(c.hc.Data))
	cid := d.predictor.assign(len(c.hc.Data))

	d.Indexes.UniqueAddRecord(c.hc.FP, d.Version, length, length)

	features := c.features
	if d.Config.DeltaEnabled {
		if !c.hasFeatures {
			f, err := similarity.Sample(c.hc.Data, d.Config.Algo, d.Config.Seed, d.Config.SimWindowSize)
			if err != nil {
				return WriteTask{}, fmt.Errorf("ingest: sampling similarity features: %w", err)
			}
			features = f
		}
		d.Indexes.AddSimilarFeature(features, index.BasePos{
			FP:            c.hc.FP,
			CategoryOrder: d.Version,
			ContainerID:   cid,
			Length:        length,
			Valid:         true,
		})
	}

	d.BaseCache.AddRecord(c.hc.FP, c.hc.Data)

	h := container.UniqueHeader(c.hc.FP, length, length, features)
	return WriteTask{Header: h, Payload: c.hc.Data}, nil
}

// resolveBase runs the six-candidate fallback of spec.md Open Question
// #3: try every valid similarity hit for a cache hit before falling
// back to the container-granularity prefetch, so one evicted candidate
// doesn't force a chunk to skip delta encoding entirely. A chunk whose
// candidate was capped never reaches resolveBase: it is emitted Unique.
// Returns the candidate GetRecordBatch actually resolved, which may
// differ from the capping tally's chosen candidate.
func (d *dedupStage) resolveBase(candidates [6]index.BasePos) (index.BasePos, []byte, error) {
	pos, data, err := d.BaseCache.GetRecordBatch(candidates)
	if err != nil {
		return index.BasePos{}, nil, fmt.Errorf("ingest: resolving delta base: %w", err)
	}
	return pos, data, nil
}

// runWriteStage writes a BlockHeader per chunk to the recipe, routing
// payload-bearing tasks to the active category's ContainerConstructor,
// per spec.md §4.5's Write stage.
func runWriteStage(ctx context.Context, in <-chan WriteTask, rw *container.RecipeWriter, cons *container.Constructor) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task, ok := <-in:
			if !ok {
				return nil
			}
			if err := rw.Write(task.Header); err != nil {
				return fmt.Errorf("ingest: writing recipe record: %w", err)
			}
			if task.Payload != nil {
				if _, err := cons.WriteRecord(task.Header, task.Payload); err != nil {
					return fmt.Errorf("ingest: writing container record: %w", err)
				}
			}
		}
	}
}
