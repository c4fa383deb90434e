package restore

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/HIT-HSSL/MeGA/internal/container"
	"github.com/HIT-HSSL/MeGA/internal/index"
)

// Run reconstructs version target into out (a file opened for
// read/write positional I/O), given idx and maxVersion (the store's
// current TotalVersion, i.e. the version active categories are tagged
// at -- see runReadStage's doc comment). out is truncated to the
// target version's logical size before any writes land.
func Run(ctx context.Context, paths container.Paths, target, maxVersion int, idx *index.Indexes, out *os.File) error {
	restoreMap, neededBases, total, err := buildRestoreMap(paths, target, idx)
	if err != nil {
		return err
	}
	if err := out.Truncate(int64(total)); err != nil {
		return fmt.Errorf("restore: truncating output to %d bytes: %w", total, err)
	}

	rawCh := make(chan []byte, queueDepth)
	uniqueCh := make(chan writeTask, queueDepth)
	deltaCh := make(chan writeTask, queueDepth)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runReadStage(gctx, paths, target, maxVersion, rawCh) })

	dispatched := 0
	g.Go(func() error {
		n, err := runParseStage(gctx, restoreMap, neededBases, rawCh, uniqueCh, deltaCh)
		dispatched = n
		return err
	})
	g.Go(func() error { return runWriteStage(gctx, out, uniqueCh, deltaCh) })

	if err := g.Wait(); err != nil {
		return err
	}

	if want := countEntries(restoreMap); dispatched != want {
		return fmt.Errorf("restore: format violation: dispatched %d of %d expected occurrences for version %d", dispatched, want, target)
	}
	return nil
}
