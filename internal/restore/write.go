package restore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/HIT-HSSL/MeGA/internal/delta"
)

// syncEvery is how often the Write stage asynchronously fdatasyncs
// the output file, per spec.md §4.8: "every ~1024 writes".
const syncEvery = 1024

// runWriteStage consumes unique tasks to completion (raw pwrite), then
// delta tasks (decode against the base bytes Parse already captured,
// pwrite), per spec.md §4.8's Write stage. Running the two phases in
// this order -- rather than interleaved per-container -- isn't load-
// bearing for base availability any more (Parse resolves bases from
// its own in-memory map before ever dispatching a delta task), but it
// still lets every unique write land before the pipeline spends time
// decoding.
func runWriteStage(ctx context.Context, out *os.File, uniqueIn <-chan writeTask, deltaIn <-chan writeTask) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	count := 0
	asyncSync := func() {
		count++
		if count%syncEvery == 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out.Sync()
			}()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-uniqueIn:
			if !ok {
				goto deltaPhase
			}
			if _, err := out.WriteAt(t.data, int64(t.offset)); err != nil {
				return fmt.Errorf("restore: writing at offset %d: %w", t.offset, err)
			}
			asyncSync()
		}
	}

deltaPhase:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-deltaIn:
			if !ok {
				wg.Wait()
				return out.Sync()
			}
			decoded, err := delta.Decode(t.data, t.base)
			if err != nil {
				return fmt.Errorf("restore: decoding delta at offset %d: %w", t.offset, err)
			}
			if _, err := out.WriteAt(decoded, int64(t.offset)); err != nil {
				return fmt.Errorf("restore: writing decoded delta at offset %d: %w", t.offset, err)
			}
			asyncSync()
		}
	}
}
