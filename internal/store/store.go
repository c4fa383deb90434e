// Package store wires spec.md's four pipelines (ingest, arrangement,
// eliminator, restore) and its two recovery files (manifest, kvstore)
// behind the single context object Design Notes §9 asks for.
//
// Grounded on the teacher's Repo (LeilaRenard-dna-backup/repo.go:
// NewRepo, Commit, Restore), generalized from its single flat
// FingerprintMap/SketchMap and one-version-at-a-time Commit loop into
// the spec's versioned, categorized, concurrent pipelines.
package store

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/HIT-HSSL/MeGA/internal/arrangement"
	"github.com/HIT-HSSL/MeGA/internal/basecache"
	"github.com/HIT-HSSL/MeGA/internal/container"
	"github.com/HIT-HSSL/MeGA/internal/eliminator"
	"github.com/HIT-HSSL/MeGA/internal/index"
	"github.com/HIT-HSSL/MeGA/internal/ingest"
	"github.com/HIT-HSSL/MeGA/internal/logger"
	"github.com/HIT-HSSL/MeGA/internal/manifest"
	"github.com/HIT-HSSL/MeGA/internal/restore"
)

// Options configures a Store: capping threshold, container and segment
// sizes, similarity hash algorithm/seed (all in Ingest), retention
// time and base-cache budget live here rather than behind a config
// file, per SPEC_FULL.md's cmd/mega scope note. The chunker is not
// configured here: Ingest always uses ingest.DefaultChunkerConfig.
type Options struct {
	Root          string
	Ingest        ingest.Config
	Arrangement   arrangement.Config
	RetentionTime int
	CacheBudget   int64
	Log           *logger.Logger
}

// DefaultOptions returns sane defaults rooted at root, per spec.md §9's
// Design Notes defaults (retention time 5 versions).
func DefaultOptions(root string) Options {
	return Options{
		Root:          root,
		Ingest:        ingest.DefaultConfig(),
		Arrangement:   arrangement.DefaultConfig(),
		RetentionTime: 5,
		CacheBudget:   basecache.DefaultBudget,
		Log:           logger.Default(),
	}
}

// Store is the long-lived context object for one backup repository
// root: both index generations, the manifest, and the filesystem
// naming policy.
type Store struct {
	opts     Options
	paths    container.Paths
	idx      *index.Indexes
	manifest manifest.Manifest
}

// Open loads (or initializes, if root has never been ingested into)
// the store rooted at opts.Root.
func Open(opts Options) (*Store, error) {
	paths := container.NewPaths(opts.Root)
	if err := os.MkdirAll(paths.LogicDir(), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating %q: %w", paths.LogicDir(), err)
	}
	if err := os.MkdirAll(paths.StorageDir(), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating %q: %w", paths.StorageDir(), err)
	}

	m, err := manifest.Load(paths.Manifest())
	if err != nil {
		return nil, err
	}

	idx := index.New()
	if _, err := os.Stat(paths.KVStore()); err == nil {
		if err := idx.Load(paths.KVStore()); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("store: statting %q: %w", paths.KVStore(), err)
	}

	return &Store{opts: opts, paths: paths, idx: idx, manifest: m}, nil
}

// TotalVersion returns the number of versions currently retained.
func (s *Store) TotalVersion() int { return int(s.manifest.TotalVersion) }

// Ingest reads a full-image backup from input and persists it as the
// next version, per spec.md §4.5/§4.6/§4.7/§5: Hash->Dedup->Write,
// then Arrangement (skipped for the first version, which has no prior
// generation to rearrange), then Eliminator if retention is exceeded.
func (s *Store) Ingest(ctx context.Context, input *os.File) error {
	version := int(s.manifest.TotalVersion) + 1

	rw, err := container.CreateRecipe(s.paths.Recipe(version))
	if err != nil {
		return err
	}
	cons := container.NewConstructor(s.opts.Ingest.ContainerSize, 0, func(cid uint64) string {
		return s.paths.ActiveContainer(version, version, cid)
	})
	// Bases found through the earlier similarity generation sit in
	// containers tagged with the last retained version, version-1.
	cache := basecache.New(s.opts.CacheBudget, container.NewLoader(s.paths, version-1))

	chunks := make(chan []byte, ingestQueueDepth)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ingest.ChunkStream(input, ingest.DefaultChunkerConfig(), chunks)
	})
	g.Go(func() error {
		return ingest.Run(gctx, uint32(version), s.opts.Ingest, s.idx, cache, chunks, rw, cons)
	})
	if err := g.Wait(); err != nil {
		rw.Close()
		cons.Close()
		return fmt.Errorf("store: ingesting version %d: %w", version, err)
	}
	if err := rw.Close(); err != nil {
		return fmt.Errorf("store: closing recipe for version %d: %w", version, err)
	}
	if err := cons.Flush(); err != nil {
		return fmt.Errorf("store: flushing containers for version %d: %w", version, err)
	}
	if err := cons.Close(); err != nil {
		return fmt.Errorf("store: closing containers for version %d: %w", version, err)
	}

	if version > 1 {
		if err := arrangement.Run(ctx, version, s.opts.Arrangement, s.paths, s.idx); err != nil {
			return fmt.Errorf("store: arranging version %d: %w", version, err)
		}
	} else {
		// No prior categories to rearrange, but the tables still need
		// to roll so version 2's Dedup sees version 1 as "earlier"
		// (spec.md §5; matches the source's ArrangementReadPipeline,
		// which calls tableRolling directly when arrangementVersion is 0).
		s.idx.TableRolling()
	}

	s.manifest.TotalVersion = uint64(version)

	if int(s.manifest.TotalVersion) > s.opts.RetentionTime {
		if err := eliminator.Run(s.paths, s.idx, int(s.manifest.TotalVersion)); err != nil {
			return fmt.Errorf("store: eliminating oldest version after ingesting %d: %w", version, err)
		}
		s.manifest.TotalVersion--
	}

	return s.Save()
}

// Restore reconstructs version target into out, which must support
// positional I/O (spec.md §4.8's pread/pwrite write order): create
// with os.Create or os.OpenFile(..., os.O_RDWR|...).
func (s *Store) Restore(ctx context.Context, target int, out *os.File) error {
	if target < 1 || target > int(s.manifest.TotalVersion) {
		return fmt.Errorf("store: version %d is not retained (have 1..%d)", target, s.manifest.TotalVersion)
	}
	return restore.Run(ctx, s.paths, target, int(s.manifest.TotalVersion), s.idx, out)
}

// Save persists the manifest and metadata index, per spec.md §6/§7.
func (s *Store) Save() error {
	if err := s.idx.Save(s.paths.KVStore()); err != nil {
		return err
	}
	return manifest.Save(s.paths.Manifest(), s.manifest)
}

const ingestQueueDepth = 64
