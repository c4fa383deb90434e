package container

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Paths implements the filesystem layout of spec.md §6, rooted at a
// configured directory. Grounded on the teacher's
// filepath.Join(r.path, fmt.Sprintf(versionFmt, version)) idiom
// (LeilaRenard-dna-backup/repo.go), generalized to the categorized
// active/archived container families MeGA needs.
type Paths struct {
	Root string
}

func NewPaths(root string) Paths { return Paths{Root: root} }

// Recipe returns the path of version v's recipe file.
func (p Paths) Recipe(v int) string {
	return filepath.Join(p.Root, "logicFiles", fmt.Sprintf("Recipe%d", v))
}

// ActiveContainer returns the path of an active category container.
func (p Paths) ActiveContainer(category, version int, cid uint64) string {
	return filepath.Join(p.Root, "storageFiles", fmt.Sprintf("Active_Cat(%d,%d)Container%d", category, version, cid))
}

// ActiveAppendContainer returns the path of an active category's
// append-overflow container (used by Eliminator when merging category
// 2 into category 1, spec.md §4.7).
func (p Paths) ActiveAppendContainer(category, version int, cid uint64) string {
	return filepath.Join(p.Root, "storageFiles", fmt.Sprintf("Active_Cat(%d,%d)Append_Container%d", category, version, cid))
}

// ArchivedContainer returns the path of an archived volume container.
func (p Paths) ArchivedContainer(category, version int, cid uint64) string {
	return filepath.Join(p.Root, "storageFiles", fmt.Sprintf("Archived_Cat(%d,%d)Container%d", category, version, cid))
}

// Manifest returns the path of the manifest file.
func (p Paths) Manifest() string { return filepath.Join(p.Root, "manifest") }

// KVStore returns the path of the persisted metadata index.
func (p Paths) KVStore() string { return filepath.Join(p.Root, "kvstore") }

// LogicDir and StorageDir return the two top-level directories that
// must exist before any version is ingested.
func (p Paths) LogicDir() string   { return filepath.Join(p.Root, "logicFiles") }
func (p Paths) StorageDir() string { return filepath.Join(p.Root, "storageFiles") }

// listCids scans StorageDir for files named prefix+<cid>, returning
// the cids in ascending order. There is no on-disk container index
// (spec.md §6: "no index at the end; readers scan linearly"), so
// arrangement and restore discover a category's cid set directly from
// the directory listing rather than tracking it elsewhere.
func (p Paths) listCids(prefix string) ([]uint64, error) {
	entries, err := os.ReadDir(p.StorageDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("container: listing %q: %w", p.StorageDir(), err)
	}
	var cids []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		cid, err := strconv.ParseUint(name[len(prefix):], 10, 64)
		if err != nil {
			continue
		}
		cids = append(cids, cid)
	}
	sort.Slice(cids, func(i, j int) bool { return cids[i] < cids[j] })
	return cids, nil
}

// ListActiveCids returns the cids present for an active category file
// family.
func (p Paths) ListActiveCids(category, version int) ([]uint64, error) {
	return p.listCids(fmt.Sprintf("Active_Cat(%d,%d)Container", category, version))
}

// ListActiveAppendCids returns the cids present for an active
// category's append-overflow family.
func (p Paths) ListActiveAppendCids(category, version int) ([]uint64, error) {
	return p.listCids(fmt.Sprintf("Active_Cat(%d,%d)Append_Container", category, version))
}

// ListArchivedCids returns the cids present for an archived volume
// family.
func (p Paths) ListArchivedCids(category, version int) ([]uint64, error) {
	return p.listCids(fmt.Sprintf("Archived_Cat(%d,%d)Container", category, version))
}
