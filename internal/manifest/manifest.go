// Package manifest persists the store's version count and the (always
// zero, see spec.md Design Notes §9) arrangement fallback-behind
// counter, per spec.md §6's binary Manifest format:
// {uint64 TotalVersion; uint64 ArrangementFallBehind}.
//
// Grounded on the teacher's storeBasicStruct/loadBasicStruct gob
// helpers (LeilaRenard-dna-backup/repo.go).
package manifest

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Manifest is the store's small, version-boundary-consistent recovery
// record.
type Manifest struct {
	TotalVersion uint64

	// ArrangementFallBehind is reserved per spec.md §9's Open
	// Question: the source asserts it is always 0, and this
	// reimplementation preserves that invariant rather than guessing
	// at an undesigned fallback path.
	ArrangementFallBehind uint64
}

// AssertNoFallBehind panics if the invariant documented above is ever
// violated -- it would indicate a bug in the arrangement pass, not a
// recoverable runtime condition.
func (m Manifest) AssertNoFallBehind() {
	if m.ArrangementFallBehind != 0 {
		panic(fmt.Sprintf("manifest: ArrangementFallBehind = %d, want 0 (unimplemented fallback path)", m.ArrangementFallBehind))
	}
}

// Load reads the manifest at path. A missing file is not an error: it
// means no version has ever been ingested, and the zero Manifest is
// returned.
func Load(path string) (Manifest, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Manifest{}, nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: opening %q: %w", path, err)
	}
	defer f.Close()

	var buf [16]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return Manifest{}, fmt.Errorf("manifest: reading %q: %w", path, err)
	}
	m := Manifest{
		TotalVersion:          binary.LittleEndian.Uint64(buf[0:8]),
		ArrangementFallBehind: binary.LittleEndian.Uint64(buf[8:16]),
	}
	m.AssertNoFallBehind()
	return m, nil
}

// Save writes the manifest at path, after a successful ingest.
func Save(path string, m Manifest) error {
	m.AssertNoFallBehind()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], m.TotalVersion)
	binary.LittleEndian.PutUint64(buf[8:16], m.ArrangementFallBehind)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("manifest: creating %q: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(buf[:]); err != nil {
		return fmt.Errorf("manifest: writing %q: %w", path, err)
	}
	return nil
}
