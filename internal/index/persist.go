package index

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/HIT-HSSL/MeGA/internal/fingerprint"
)

// wireFPIndex/wireSimIndex mirror spec.md §6's KV index format: a
// generation header (TotalSize, MigrateSize) only applies to the
// fingerprint table; each similarity subtable is just a count+entries
// map. Fields are exported so gob can see them.
type wireFPIndex struct {
	TotalSize   uint64
	MigrateSize uint64
	Entries     map[[4]uint32]FPTableEntry
}

type wireSimIndex struct {
	F1, F2, F3 map[uint64]BasePos
}

// wireIndexes is written/read in the exact order spec.md §6
// prescribes: earlier fp; earlier sim1/2/3; later fp; later sim1/2/3.
type wireIndexes struct {
	EarlierFP  wireFPIndex
	EarlierSim wireSimIndex
	LaterFP    wireFPIndex
	LaterSim   wireSimIndex
}

func toWireFP(fp FPIndex) wireFPIndex {
	entries := make(map[[4]uint32]FPTableEntry, len(fp.Entries))
	for k, v := range fp.Entries {
		entries[[4]uint32(k)] = v
	}
	return wireFPIndex{TotalSize: fp.TotalSize, MigrateSize: fp.MigrateSize, Entries: entries}
}

func fromWireFP(w wireFPIndex) FPIndex {
	out := newFPIndex()
	out.TotalSize = w.TotalSize
	out.MigrateSize = w.MigrateSize
	for k, v := range w.Entries {
		out.Entries[fingerprint.SHA1FP(k)] = v
	}
	return out
}

func toWireSim(s SimIndex) wireSimIndex {
	return wireSimIndex{F1: s.F1, F2: s.F2, F3: s.F3}
}

func fromWireSim(w wireSimIndex) SimIndex {
	out := newSimIndex()
	for k, v := range w.F1 {
		out.F1[k] = v
	}
	for k, v := range w.F2 {
		out.F2[k] = v
	}
	for k, v := range w.F3 {
		out.F3[k] = v
	}
	return out
}

// Save persists both generations of both tables to path, in the order
// documented by spec.md §6 (the "kvstore" file).
func (ix *Indexes) Save(path string) error {
	snap := ix.snapshot()
	w := wireIndexes{
		EarlierFP:  toWireFP(snap.FPEarlier),
		EarlierSim: toWireSim(snap.SimEarlier),
		LaterFP:    toWireFP(snap.FPLater),
		LaterSim:   toWireSim(snap.SimLater),
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("index: creating kvstore %q: %w", path, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(&w); err != nil {
		return fmt.Errorf("index: encoding kvstore %q: %w", path, err)
	}
	return nil
}

// Load replaces ix's contents with the kvstore persisted at path.
func (ix *Indexes) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("index: opening kvstore %q: %w", path, err)
	}
	defer f.Close()
	var w wireIndexes
	if err := gob.NewDecoder(f).Decode(&w); err != nil && err != io.EOF {
		return fmt.Errorf("index: decoding kvstore %q: %w", path, err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.FPEarlier = fromWireFP(w.EarlierFP)
	ix.SimEarlier = fromWireSim(w.EarlierSim)
	ix.FPLater = fromWireFP(w.LaterFP)
	ix.SimLater = fromWireSim(w.LaterSim)
	return nil
}
