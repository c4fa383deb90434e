// Package eliminator implements the retention pass of spec.md §4.7: a
// pure rename/unlink pass that drops the oldest retained version by
// folding category 1 and 2 into a merged category 1 and shifting every
// higher category, archived volume, and recipe file down by one.
//
// There is no teacher analogue (the teacher keeps every version
// forever); this package is built directly from spec.md §4.7's six
// numbered steps, using the naming policy of internal/container.
package eliminator

import (
	"fmt"
	"os"

	"github.com/HIT-HSSL/MeGA/internal/container"
	"github.com/HIT-HSSL/MeGA/internal/index"
)

// Run drops the oldest retained version. totalVersion is V, the
// number of versions retained before this call (i.e. manifest's
// TotalVersion prior to decrementing it). The caller is responsible
// for decrementing and persisting the manifest once Run succeeds.
func Run(paths container.Paths, idx *index.Indexes, totalVersion int) error {
	v := totalVersion

	if err := deleteArchivedVersion1(paths); err != nil {
		return err
	}
	if err := mergeActiveCategory2(paths, v); err != nil {
		return err
	}
	if err := shiftActiveCategories(paths, v); err != nil {
		return err
	}
	if err := mergeAndShiftArchived(paths, v); err != nil {
		return err
	}
	if err := shiftRecipes(paths, v); err != nil {
		return err
	}
	idx.SimilarityTableMerge()
	return nil
}

// 1. Delete all archived volume files of version 1. Only category 1
// can have archived(_, 1, _) files: category c only comes into
// existence at version c, so no category c>1 could have been archived
// as of version 1.
func deleteArchivedVersion1(paths container.Paths) error {
	cids, err := paths.ListArchivedCids(1, 1)
	if err != nil {
		return err
	}
	for _, cid := range cids {
		if err := removeFile(paths.ArchivedContainer(1, 1, cid)); err != nil {
			return err
		}
	}
	return nil
}

// 2. Merge active category 2 into category 1 as an append family
// (spec.md §4.7 step 2), at the current top version v. The append
// family is transient: the very next arrangement pass reads and
// consumes it (spec.md §4.6's Read stage), so no collision-avoidance
// renumbering is needed here.
func mergeActiveCategory2(paths container.Paths, v int) error {
	cids, err := paths.ListActiveCids(2, v)
	if err != nil {
		return err
	}
	for _, cid := range cids {
		if err := renameFile(paths.ActiveContainer(2, v, cid), paths.ActiveAppendContainer(1, v, cid)); err != nil {
			return err
		}
	}
	return nil
}

// 3. Shift active category files down by one version tag; categories
// >=3 additionally shift down by one category order. Category 1's own
// primary family (distinct from the append family step 2 just
// created) and the append family both retag from v to v-1, keeping
// every remaining active family uniformly tagged at the new top
// version, consistent with how arrangement (internal/arrangement)
// always rewrites every live category at the same top-version tag.
func shiftActiveCategories(paths container.Paths, v int) error {
	cat1Cids, err := paths.ListActiveCids(1, v)
	if err != nil {
		return err
	}
	for _, cid := range cat1Cids {
		if err := renameFile(paths.ActiveContainer(1, v, cid), paths.ActiveContainer(1, v-1, cid)); err != nil {
			return err
		}
	}
	appendCids, err := paths.ListActiveAppendCids(1, v)
	if err != nil {
		return err
	}
	for _, cid := range appendCids {
		if err := renameFile(paths.ActiveAppendContainer(1, v, cid), paths.ActiveAppendContainer(1, v-1, cid)); err != nil {
			return err
		}
	}
	for c := 3; c <= v; c++ {
		cids, err := paths.ListActiveCids(c, v)
		if err != nil {
			return err
		}
		for _, cid := range cids {
			if err := renameFile(paths.ActiveContainer(c, v, cid), paths.ActiveContainer(c-1, v-1, cid)); err != nil {
				return err
			}
		}
	}
	return nil
}

// 4. For each archived volume version v' = 2..V-1: merge categories 1
// and 2 into a single category-1 family at v'-1 (category 2's cids
// renumbered past category 1's to avoid collisions -- unlike step 2's
// transient append family, this merge is permanent), and shift
// categories >=3 down by one category order and one version tag.
func mergeAndShiftArchived(paths container.Paths, v int) error {
	for vp := 2; vp <= v-1; vp++ {
		cat1Cids, err := paths.ListArchivedCids(1, vp)
		if err != nil {
			return err
		}
		for _, cid := range cat1Cids {
			if err := renameFile(paths.ArchivedContainer(1, vp, cid), paths.ArchivedContainer(1, vp-1, cid)); err != nil {
				return err
			}
		}
		cat2Cids, err := paths.ListArchivedCids(2, vp)
		if err != nil {
			return err
		}
		next := uint64(len(cat1Cids))
		for _, cid := range cat2Cids {
			if err := renameFile(paths.ArchivedContainer(2, vp, cid), paths.ArchivedContainer(1, vp-1, next)); err != nil {
				return err
			}
			next++
		}
		for c := 3; c <= v; c++ {
			cids, err := paths.ListArchivedCids(c, vp)
			if err != nil {
				return err
			}
			for _, cid := range cids {
				if err := renameFile(paths.ArchivedContainer(c, vp, cid), paths.ArchivedContainer(c-1, vp-1, cid)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// 5. Rename recipe files Recipe(i) -> Recipe(i-1) for i = 2..V;
// Recipe(1), belonging to the dropped version, is deleted outright.
func shiftRecipes(paths container.Paths, v int) error {
	if _, err := os.Stat(paths.Recipe(1)); err == nil {
		if err := removeFile(paths.Recipe(1)); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("eliminator: statting %q: %w", paths.Recipe(1), err)
	}
	for i := 2; i <= v; i++ {
		if err := renameFile(paths.Recipe(i), paths.Recipe(i-1)); err != nil {
			return err
		}
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("eliminator: unlinking %q: %w", path, err)
	}
	return nil
}

func renameFile(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("eliminator: renaming %q -> %q: %w", oldPath, newPath, err)
	}
	return nil
}
