// Package restore implements the Read -> Decompress -> Parse -> Write
// pipeline of spec.md §4.8: reconstituting a requested version from
// its active and archived containers.
//
// Grounded on the teacher's Restore (LeilaRenard-dna-backup/repo.go:
// sequential per-chunk ReadBuffer/Write), restructured into the
// spec's four explicit stages, in the same channel/errgroup idiom as
// internal/ingest and internal/arrangement.
package restore

import (
	"fmt"

	"github.com/HIT-HSSL/MeGA/internal/container"
	"github.com/HIT-HSSL/MeGA/internal/fingerprint"
	"github.com/HIT-HSSL/MeGA/internal/index"
)

// offsetEntry is one occurrence a fingerprint's decoded bytes must be
// written to in the output file, per spec.md §4.8/§9 ("restore map
// key = fingerprint... the writer must handle the case where the same
// container chunk is consumed multiple times").
type offsetEntry struct {
	offset uint64
}

// buildRestoreMap reads the target version's recipe once and returns
// the fingerprint -> offsets map, the set of fingerprints a delta
// somewhere in this version references as its base (and which Parse
// must therefore capture in memory rather than only write out), and
// the version's total logical size, per spec.md §4.8's Parse stage.
//
// A delta's base chunk is not necessarily the same size as the
// delta's own decoded target (chunk boundaries are content-defined,
// see internal/ingest/chunker.go), so the base's bytes cannot be
// staged in-place at the delta's own output offset -- that slot is
// only as large as the delta's OriginalLength and a larger base would
// spill into whatever chunk follows it. Instead the base is carried
// in memory from the occurrence Parse finds it at through to every
// delta task that needs it (see runParseStage, runWriteStage).
func buildRestoreMap(paths container.Paths, target int, idx *index.Indexes) (map[fingerprint.SHA1FP][]offsetEntry, map[fingerprint.SHA1FP]bool, uint64, error) {
	headers, err := container.ReadRecipe(paths.Recipe(target))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("restore: reading recipe for version %d: %w", target, err)
	}
	m := make(map[fingerprint.SHA1FP][]offsetEntry)
	neededBases := make(map[fingerprint.SHA1FP]bool)
	var offset uint64
	for _, h := range headers {
		if h.DeltaTag == 0 {
			m[h.FP] = append(m[h.FP], offsetEntry{offset: offset})
			offset += h.OriginalLength
			continue
		}
		if _, ok := idx.Lookup(h.BaseFP); !ok {
			return nil, nil, 0, fmt.Errorf("restore: format violation: delta base %s not resident in index", h.BaseFP)
		}
		neededBases[h.BaseFP] = true
		m[h.FP] = append(m[h.FP], offsetEntry{offset: offset})
		offset += h.OriginalLength
	}
	return m, neededBases, offset, nil
}

// countEntries returns the total number of occurrences the map
// expects to be filled, used for the end-of-restore completeness
// check (spec.md §7: "restore map miss" is a fatal format violation).
func countEntries(m map[fingerprint.SHA1FP][]offsetEntry) int {
	n := 0
	for _, entries := range m {
		n += len(entries)
	}
	return n
}
