package container

import "fmt"

// Loader implements basecache.Loader by resolving a BasePos's
// (categoryOrder, cid) pair against the naming policy of Paths: it is
// how internal/container's reader is injected into the base cache.
//
// A base position recorded during an earlier version's ingest may
// since have been renamed by an arrangement/eliminator pass: category
// categoryOrder is always retagged to the live top version while
// still active (see internal/eliminator's doc comments), or folded
// into an archived volume once superseded. Loader tries the active
// family at the version it was built for first, then falls back to
// the archived family one version back, mirroring restore's Read
// stage fallback between the two families.
type Loader struct {
	Paths   Paths
	Version int
}

// NewLoader builds a Loader resolving base positions against version's
// active containers (with an archived fallback at version-1).
func NewLoader(paths Paths, version int) *Loader {
	return &Loader{Paths: paths, Version: version}
}

func (l *Loader) LoadContainer(categoryOrder uint32, cid uint64) ([]byte, error) {
	activePath := l.Paths.ActiveContainer(int(categoryOrder), l.Version, cid)
	if raw, err := ReadFile(activePath); err == nil {
		return raw, nil
	}
	archivedPath := l.Paths.ArchivedContainer(int(categoryOrder), l.Version-1, cid)
	raw, err := ReadFile(archivedPath)
	if err != nil {
		return nil, fmt.Errorf("container: loading base container (tried %q and %q): %w", activePath, archivedPath, err)
	}
	return raw, nil
}
