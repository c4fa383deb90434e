// Package index implements the two-generation metadata index described
// in spec.md §4.1/§4.2: a fingerprint table for deduplication and a
// three-feature similarity table for delta-base lookup, each split
// into an "earlier" and a "later" generation that is rolled atomically
// at version boundaries.
//
// There is no direct teacher analogue for generation rolling (the
// teacher, LeilaRenard-dna-backup/repo.go, keeps a single flat
// FingerprintMap/SketchMap across all versions); this package is
// built from spec.md directly, reusing the teacher's "fingerprint /
// sketch map keyed by a small hash" shape for FPIndex/SimIndex.
package index

import (
	"sync"

	"github.com/HIT-HSSL/MeGA/internal/container"
	"github.com/HIT-HSSL/MeGA/internal/fingerprint"
	"github.com/HIT-HSSL/MeGA/internal/similarity"
)

// DedupResult classifies a chunk fingerprint against the index.
type DedupResult int

const (
	Unique DedupResult = iota
	InternalDedup
	InternalDeltaDedup
	AdjacentDedup
)

func (r DedupResult) String() string {
	switch r {
	case Unique:
		return "Unique"
	case InternalDedup:
		return "InternalDedup"
	case InternalDeltaDedup:
		return "InternalDeltaDedup"
	case AdjacentDedup:
		return "AdjacentDedup"
	default:
		return "DedupResult(?)"
	}
}

// FPTableEntry records where and how a chunk fingerprint's bytes live.
type FPTableEntry struct {
	DeltaTag       uint8 // 0 = unique/similar payload, 1 = delta
	CategoryOrder  uint32
	Length         uint64
	OriginalLength uint64
	BaseFP         fingerprint.SHA1FP // valid iff DeltaTag == 1
}

// BasePos locates a candidate delta base chunk: the category/container
// family it lives in, its container id, and its uncompressed length.
type BasePos struct {
	FP            fingerprint.SHA1FP
	CategoryOrder uint32
	ContainerID   uint64
	Length        uint64
	Valid         bool
}

// FPIndex is one generation (earlier or later) of the fingerprint table.
type FPIndex struct {
	TotalSize   uint64
	MigrateSize uint64
	Entries     map[fingerprint.SHA1FP]FPTableEntry
}

func newFPIndex() FPIndex {
	return FPIndex{Entries: make(map[fingerprint.SHA1FP]FPTableEntry)}
}

// SimIndex is one generation of the similarity table: three feature
// maps, one per similarity feature slot.
type SimIndex struct {
	F1, F2, F3 map[uint64]BasePos
}

func newSimIndex() SimIndex {
	return SimIndex{
		F1: make(map[uint64]BasePos),
		F2: make(map[uint64]BasePos),
		F3: make(map[uint64]BasePos),
	}
}

func (s SimIndex) maps() [3]map[uint64]BasePos {
	return [3]map[uint64]BasePos{s.F1, s.F2, s.F3}
}

// Indexes bundles the fingerprint and similarity tables under a single
// coarse lock, per spec.md §5: "the FingerprintIndex and SimilarityIndex
// are shared by Dedup, Arrangement-Filter, and Arrangement-Write; all
// access is under a single index lock."
type Indexes struct {
	mu sync.Mutex

	FPEarlier  FPIndex
	FPLater    FPIndex
	SimEarlier SimIndex
	SimLater   SimIndex
}

// New returns an empty two-generation index set.
func New() *Indexes {
	return &Indexes{
		FPEarlier:  newFPIndex(),
		FPLater:    newFPIndex(),
		SimEarlier: newSimIndex(),
		SimLater:   newSimIndex(),
	}
}

// DedupLookup implements spec.md §4.1's dedupLookup: later-generation
// primacy, then migrate-size accounting against earlier, then Unique.
// size+HeaderSize (the on-disk BlockHeader size) is charged to the
// later generation's TotalSize.
func (ix *Indexes) DedupLookup(fp fingerprint.SHA1FP, size uint64) (DedupResult, FPTableEntry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if e, ok := ix.FPLater.Entries[fp]; ok {
		if e.DeltaTag == 1 {
			return InternalDeltaDedup, e
		}
		return InternalDedup, e
	}
	ix.FPLater.TotalSize += size + container.HeaderSize
	if e, ok := ix.FPEarlier.Entries[fp]; ok {
		ix.FPLater.MigrateSize += size + container.HeaderSize
		return AdjacentDedup, e
	}
	return Unique, FPTableEntry{}
}

// UniqueAddRecord inserts a non-delta entry for a newly-seen chunk.
func (ix *Indexes) UniqueAddRecord(fp fingerprint.SHA1FP, categoryOrder uint32, length, originalLength uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.FPLater.Entries[fp] = FPTableEntry{
		DeltaTag:       0,
		CategoryOrder:  categoryOrder,
		Length:         length,
		OriginalLength: originalLength,
	}
}

// DeltaAddRecord inserts a delta entry and subtracts the realized
// saving (originalLength - deltaLength) from the later generation's
// TotalSize, per spec.md §4.1.
func (ix *Indexes) DeltaAddRecord(fp fingerprint.SHA1FP, categoryOrder uint32, baseFP fingerprint.SHA1FP, deltaLength, originalLength uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.FPLater.Entries[fp] = FPTableEntry{
		DeltaTag:       1,
		CategoryOrder:  categoryOrder,
		Length:         deltaLength,
		OriginalLength: originalLength,
		BaseFP:         baseFP,
	}
	if originalLength > deltaLength {
		ix.FPLater.TotalSize -= originalLength - deltaLength
	}
}

// NeighborAddRecord pins an AdjacentDedup chunk's entry into the later
// generation (copied from wherever it was found) so arrangement's
// ArrangementLookup can see it as re-emitted by this version.
func (ix *Indexes) NeighborAddRecord(fp fingerprint.SHA1FP, entry FPTableEntry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.FPLater.Entries[fp] = entry
}

// ExtendBase pins a delta's base fingerprint into the later generation
// so it survives rolling even though the base chunk itself was not
// re-emitted this version. Canonical extend-if-absent semantics (see
// DESIGN.md Open Question #2): a no-op, not re-accounted, if the base
// is already present in later.
func (ix *Indexes) ExtendBase(fp fingerprint.SHA1FP, entry FPTableEntry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, exists := ix.FPLater.Entries[fp]; exists {
		return
	}
	ix.FPLater.Entries[fp] = entry
}

// Lookup probes later then earlier for fp's FPTableEntry, regardless
// of classification. Used to recover a base chunk's entry (e.g. for
// ExtendBase, or to pin an AdjacentDedup delta's base fingerprint).
func (ix *Indexes) Lookup(fp fingerprint.SHA1FP) (FPTableEntry, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if e, ok := ix.FPLater.Entries[fp]; ok {
		return e, true
	}
	if e, ok := ix.FPEarlier.Entries[fp]; ok {
		return e, true
	}
	return FPTableEntry{}, false
}

// ArrangementLookup reports whether fp was re-emitted as part of the
// version just ingested: present in the later generation as Dedup
// left it. Arrangement's Filter stage calls this while later still
// holds that version's entries -- TableRolling for the version
// doesn't happen until arrangement's own Write stage finishes (see
// internal/arrangement), matching the source's MetadataManager, whose
// arrangementLookup probes the same not-yet-rolled laterTable.
func (ix *Indexes) ArrangementLookup(fp fingerprint.SHA1FP) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.FPLater.Entries[fp]
	return ok
}

// TableRolling atomically promotes the later generation of both tables
// to become the new earlier generation, and resets later to empty.
// Invoked once per version: directly after ingest when there is no
// prior generation to arrange (version 1), otherwise at the end of
// that version's arrangement pass, once Filter has finished consulting
// ArrangementLookup against the not-yet-rolled later generation (see
// internal/store and internal/arrangement).
func (ix *Indexes) TableRolling() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.FPEarlier = ix.FPLater
	ix.FPLater = newFPIndex()
	ix.SimEarlier = ix.SimLater
	ix.SimLater = newSimIndex()
}

// SimilarityLookupAll returns up to six candidate bases (earlier then
// later, feature 1..3), for BaseCache.GetRecordBatch's fallback base
// selection (spec.md Open Question #3): Dedup tries every lane rather
// than stopping at the first hit, so a candidate evicted from the
// cache still leaves five others to fall back to before a Unique chunk
// is forced to skip delta encoding. A chunk whose candidate is capped
// by the threshold skips delta encoding regardless.
func (ix *Indexes) SimilarityLookupAll(f similarity.Features) [6]BasePos {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var out [6]BasePos
	i := 0
	for _, gen := range [2]SimIndex{ix.SimEarlier, ix.SimLater} {
		for lane, m := range gen.maps() {
			if pos, ok := m[f[lane]]; ok {
				out[i] = pos
			}
			i++
		}
	}
	return out
}

// AddSimilarFeature inserts basePos into all three later-generation
// feature submaps, per spec.md §4.2.
func (ix *Indexes) AddSimilarFeature(f similarity.Features, pos BasePos) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.SimLater.F1[f[0]] = pos
	ix.SimLater.F2[f[1]] = pos
	ix.SimLater.F3[f[2]] = pos
}

// SimilarityTableMerge rewrites categoryOrder values in the earlier
// similarity table after an Eliminator pass (spec.md §4.1): orders >=3
// decrement by one, order 2 becomes 0 (the merged category's append
// overflow), order 1 is unchanged.
func (ix *Indexes) SimilarityTableMerge() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, m := range ix.SimEarlier.maps() {
		for k, pos := range m {
			switch {
			case pos.CategoryOrder >= 3:
				pos.CategoryOrder--
			case pos.CategoryOrder == 2:
				pos.CategoryOrder = 0
			}
			m[k] = pos
		}
	}
}

// Snapshot is a point-in-time, lock-free copy used by Save.
type Snapshot struct {
	FPEarlier  FPIndex
	FPLater    FPIndex
	SimEarlier SimIndex
	SimLater   SimIndex
}

func (ix *Indexes) snapshot() Snapshot {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return Snapshot{ix.FPEarlier, ix.FPLater, ix.SimEarlier, ix.SimLater}
}
