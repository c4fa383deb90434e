// Package arrangement implements the post-ingest Read -> Filter ->
// Write pass of spec.md §4.6: re-sorting chunks from the categories of
// versions 1..V-1 into the locality-optimal layout for version V's
// next restore, keeping chunks re-emitted as part of V active (their
// only copy, since Dedup's AdjacentDedup path pins a reference rather
// than duplicating bytes) and archiving everything V didn't touch.
//
// Grounded on the teacher's single-pass Commit loop
// (LeilaRenard-dna-backup/repo.go), restructured into the spec's three
// explicit stages joined by bounded channels, in the same idiom as
// internal/ingest.
package arrangement

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/HIT-HSSL/MeGA/internal/container"
	"github.com/HIT-HSSL/MeGA/internal/index"
)

func removeFile(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("arrangement: unlinking %q: %w", path, err)
	}
	return nil
}

// queueDepth bounds the Read->Filter and Filter->Write channels, per
// spec.md Design Notes §9.
const queueDepth = 64

// Config holds the Write stage's container-sizing tunable.
type Config struct {
	ContainerSize int
}

func DefaultConfig() Config {
	return Config{ContainerSize: container.DefaultSize}
}

// readTask is one record (or a category/pass boundary marker) flowing
// from Read to Filter.
type readTask struct {
	category      int
	header        container.BlockHeader
	payload       []byte
	endOfCategory bool
	endOfPass     bool
}

// writeTask is readTask after Filter's active/archived reclassification.
type writeTask struct {
	category      int
	archived      bool
	header        container.BlockHeader
	payload       []byte
	endOfCategory bool
	endOfPass     bool
}

// Run drives one arrangement pass for the version just ingested as
// version (the "V" of spec.md §4.6); paths.Root is the store root.
// idx's later generation must still hold that version's entries as
// Dedup left them -- Run itself rolls the tables once its Write stage
// finishes, it does not expect the caller to have rolled them already.
func Run(ctx context.Context, version int, cfg Config, paths container.Paths, idx *index.Indexes) error {
	in := make(chan readTask, queueDepth)
	out := make(chan writeTask, queueDepth)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runReadStage(gctx, version, paths, in) })
	g.Go(func() error { return runFilterStage(gctx, idx, in, out) })
	g.Go(func() error { return runWriteStage(gctx, version, cfg, paths, idx, out) })
	return g.Wait()
}

// runReadStage streams every BlockHeader of categories 1..version-1's
// prior-version container files to Filter, unlinking each file once
// consumed, per spec.md §4.6's Read stage.
func runReadStage(ctx context.Context, version int, paths container.Paths, out chan<- readTask) error {
	defer close(out)
	priorVersion := version - 1

	send := func(t readTask) error {
		select {
		case out <- t:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	readFamily := func(category int, pathFor func(cid uint64) string, cids []uint64) error {
		for _, cid := range cids {
			path := pathFor(cid)
			raw, err := container.ReadFile(path)
			if err != nil {
				return fmt.Errorf("arrangement: reading container %q: %w", path, err)
			}
			err = container.IterHeaders(raw, func(h container.BlockHeader, payload []byte) error {
				cp := append([]byte(nil), payload...)
				return send(readTask{category: category, header: h, payload: cp})
			})
			if err != nil {
				return err
			}
			if err := removeFile(path); err != nil {
				return err
			}
		}
		return nil
	}

	for c := 1; c <= priorVersion; c++ {
		activeCids, err := paths.ListActiveCids(c, priorVersion)
		if err != nil {
			return err
		}
		if err := readFamily(c, func(cid uint64) string { return paths.ActiveContainer(c, priorVersion, cid) }, activeCids); err != nil {
			return err
		}
		if c == 1 {
			appendCids, err := paths.ListActiveAppendCids(c, priorVersion)
			if err != nil {
				return err
			}
			if err := readFamily(c, func(cid uint64) string { return paths.ActiveAppendContainer(c, priorVersion, cid) }, appendCids); err != nil {
				return err
			}
		}
		if err := send(readTask{category: c, endOfCategory: true}); err != nil {
			return err
		}
	}
	return send(readTask{endOfPass: true})
}

// runFilterStage reclassifies each record as active (re-emitted by V,
// i.e. still referenced by the version just ingested) or archived (not
// re-emitted, so only needed to restore older retained versions), per
// spec.md §4.6's Filter stage. Whole-container skip-write-IO
// statistics are console output, out of scope per spec.md §1.
func runFilterStage(ctx context.Context, idx *index.Indexes, in <-chan readTask, out chan<- writeTask) error {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-in:
			if !ok {
				return nil
			}
			w := writeTask{category: t.category, endOfCategory: t.endOfCategory, endOfPass: t.endOfPass}
			if !t.endOfCategory && !t.endOfPass {
				w.archived = !idx.ArrangementLookup(t.header.FP)
				w.header = t.header
				w.payload = t.payload
			}
			select {
			case out <- w:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// runWriteStage maintains the active/archived output cursors for the
// category currently being rewritten, per spec.md §4.6's Write stage.
// On the final marker it rolls idx's metadata tables (spec.md §5),
// matching the source's ArrangementWritePipeline, which calls
// tableRolling from its own finalEndFlag handler rather than from
// Dedup.
func runWriteStage(ctx context.Context, version int, cfg Config, paths container.Paths, idx *index.Indexes, in <-chan writeTask) error {
	var active, archived *container.Constructor
	priorVersion := version - 1

	closeCursors := func() error {
		var firstErr error
		if active != nil {
			if err := active.Flush(); err != nil && firstErr == nil {
				firstErr = err
			}
			if err := active.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			active = nil
		}
		if archived != nil {
			if err := archived.Flush(); err != nil && firstErr == nil {
				firstErr = err
			}
			if err := archived.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			archived = nil
		}
		return firstErr
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-in:
			if !ok {
				return closeCursors()
			}
			if t.endOfCategory {
				if err := closeCursors(); err != nil {
					return err
				}
				continue
			}
			if t.endOfPass {
				if err := closeCursors(); err != nil {
					return err
				}
				idx.TableRolling()
				return nil
			}
			if active == nil {
				category := t.category
				active = container.NewConstructor(cfg.ContainerSize, 0, func(cid uint64) string {
					return paths.ActiveContainer(category, version, cid)
				})
				archived = container.NewConstructor(cfg.ContainerSize, 0, func(cid uint64) string {
					return paths.ArchivedContainer(category, priorVersion, cid)
				})
			}
			var err error
			if t.archived {
				_, err = archived.WriteRecord(t.header, t.payload)
			} else {
				_, err = active.WriteRecord(t.header, t.payload)
			}
			if err != nil {
				return fmt.Errorf("arrangement: writing container record: %w", err)
			}
		}
	}
}
