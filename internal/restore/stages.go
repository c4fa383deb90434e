package restore

import (
	"context"
	"fmt"

	"github.com/HIT-HSSL/MeGA/internal/container"
	"github.com/HIT-HSSL/MeGA/internal/fingerprint"
)

// queueDepth bounds the Read->Parse channel, per spec.md Design Notes
// §9.
const queueDepth = 64

// writeTask is what Parse hands to Write.
type writeTask struct {
	offset uint64
	data   []byte
	// base carries a delta task's decode source, resolved by Parse
	// before the task is dispatched to deltaOut (never read back from
	// the output file -- see restoremap.go's doc comment). baseFP
	// names which captured base to resolve it from while the task
	// sits in runParseStage's pending list; it is unused once base is
	// filled in.
	baseFP fingerprint.SHA1FP
	base   []byte
}

// runReadStage streams every required container's decompressed bytes
// to Parse, per spec.md §4.8's Read stage: archived volumes for
// versions target..maxVersion-1 across every category order present
// at that version, then active categories 1..target (which, because
// arrangement perpetually re-tags every live category at the current
// top version, are found tagged at maxVersion, not target). Within a
// family, containers are iterated in reverse cid order.
func runReadStage(ctx context.Context, paths container.Paths, target, maxVersion int, out chan<- []byte) error {
	defer close(out)

	send := func(buf []byte) error {
		select {
		case out <- buf:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	readFamily := func(pathFor func(cid uint64) string, cids []uint64) error {
		for i := len(cids) - 1; i >= 0; i-- {
			path := pathFor(cids[i])
			raw, err := container.ReadFile(path)
			if err != nil {
				return fmt.Errorf("restore: reading container %q: %w", path, err)
			}
			if err := send(raw); err != nil {
				return err
			}
		}
		return nil
	}

	for v := maxVersion - 1; v >= target; v-- {
		for c := 1; c <= v; c++ {
			cids, err := paths.ListArchivedCids(c, v)
			if err != nil {
				return err
			}
			if err := readFamily(func(cid uint64) string { return paths.ArchivedContainer(c, v, cid) }, cids); err != nil {
				return err
			}
		}
	}
	for c := 1; c <= target; c++ {
		cids, err := paths.ListActiveCids(c, maxVersion)
		if err != nil {
			return err
		}
		if err := readFamily(func(cid uint64) string { return paths.ActiveContainer(c, maxVersion, cid) }, cids); err != nil {
			return err
		}
	}
	return nil
}

// runParseStage dispatches arriving container headers against the
// prebuilt restore map. Per spec.md §4.8: within a container, unique
// occurrences are emitted first and delta occurrences last; this
// implementation generalizes that to a global two-phase order (every
// unique write across the whole restore, then every delta decode),
// which guarantees a delta's base is already captured regardless of
// which order Read visits containers in -- a more robust property
// than the source's per-container two-ended list, which depends on
// containers arriving in a favorable order.
//
// A fingerprint in neededBases is captured into an in-memory map the
// moment its canonical (DeltaTag==0) occurrence is seen, independent
// of whether it also has its own offsetEntry occurrences -- it may be
// referenced only as another chunk's delta base. Captured bytes are
// attached directly to the corresponding delta writeTasks once Read
// closes; the output file itself is never used as staging, so a
// base's length never has to match the size of the delta slot it
// feeds (see restoremap.go's doc comment).
//
// unmatched headers (present in a read container but not needed by
// this restore -- see restore's Read stage comment) are silently
// skipped; a true corruption is only detected by the end-of-restore
// completeness check in Run.
func runParseStage(ctx context.Context, restoreMap map[fingerprint.SHA1FP][]offsetEntry, neededBases map[fingerprint.SHA1FP]bool, in <-chan []byte, uniqueOut chan<- writeTask, deltaOut chan<- writeTask) (int, error) {
	defer close(uniqueOut)

	baseBytes := make(map[fingerprint.SHA1FP][]byte)
	var pending []writeTask
	dispatched := 0

	for {
		select {
		case <-ctx.Done():
			return dispatched, ctx.Err()
		case buf, ok := <-in:
			if !ok {
				for _, t := range pending {
					base, ok := baseBytes[t.baseFP]
					if !ok {
						return dispatched, fmt.Errorf("restore: format violation: delta base %s never captured", t.baseFP)
					}
					t.base = base
					select {
					case deltaOut <- t:
					case <-ctx.Done():
						return dispatched, ctx.Err()
					}
				}
				close(deltaOut)
				return dispatched, nil
			}
			err := container.IterHeaders(buf, func(h container.BlockHeader, payload []byte) error {
				if h.DeltaTag == 0 && neededBases[h.FP] {
					if _, captured := baseBytes[h.FP]; !captured {
						baseBytes[h.FP] = append([]byte(nil), payload...)
					}
				}
				entries, ok := restoreMap[h.FP]
				if !ok {
					return nil
				}
				for _, e := range entries {
					if h.DeltaTag == 0 {
						cp := append([]byte(nil), payload...)
						select {
						case uniqueOut <- writeTask{offset: e.offset, data: cp}:
						case <-ctx.Done():
							return ctx.Err()
						}
					} else {
						cp := append([]byte(nil), payload...)
						pending = append(pending, writeTask{offset: e.offset, data: cp, baseFP: h.BaseFP})
					}
					dispatched++
				}
				return nil
			})
			if err != nil {
				return dispatched, err
			}
		}
	}
}
