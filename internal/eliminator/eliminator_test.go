package eliminator

import (
	"os"
	"testing"

	"github.com/HIT-HSSL/MeGA/internal/container"
	"github.com/HIT-HSSL/MeGA/internal/index"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile %q: %v", path, err)
	}
}

func mustExist(t *testing.T, path, wantContent string) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected %q to exist: %v", path, err)
	}
	if string(got) != wantContent {
		t.Fatalf("%q content = %q, want %q", path, got, wantContent)
	}
}

func mustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected %q to not exist", path)
	} else if !os.IsNotExist(err) {
		t.Fatalf("statting %q: %v", path, err)
	}
}

// TestRunDropsOldestVersionAcrossAllSixSteps drives eliminator.Run over
// a four-version-retained layout (v=4) with one prior archived volume
// at each of vp=2,3, exercising every one of spec.md §4.7's six steps
// in a single pass.
func TestRunDropsOldestVersionAcrossAllSixSteps(t *testing.T) {
	root := t.TempDir()
	paths := container.NewPaths(root)
	if err := os.MkdirAll(paths.StorageDir(), 0o755); err != nil {
		t.Fatalf("MkdirAll storage: %v", err)
	}
	if err := os.MkdirAll(paths.LogicDir(), 0o755); err != nil {
		t.Fatalf("MkdirAll logic: %v", err)
	}

	// Step 1: archived version-1 category 1, to be deleted outright.
	write(t, paths.ArchivedContainer(1, 1, 0), "archived-v1-drop")

	// Step 2/3: active categories at the current top version v=4.
	write(t, paths.ActiveContainer(1, 4, 0), "active-cat1")
	write(t, paths.ActiveContainer(2, 4, 0), "active-cat2-cid0")
	write(t, paths.ActiveContainer(2, 4, 1), "active-cat2-cid1")
	write(t, paths.ActiveContainer(3, 4, 0), "active-cat3")
	write(t, paths.ActiveContainer(4, 4, 0), "active-cat4")

	// Step 4: archived volumes at vp=2 and vp=3.
	write(t, paths.ArchivedContainer(1, 2, 0), "archived-cat1-vp2")
	write(t, paths.ArchivedContainer(2, 2, 0), "archived-cat2-vp2")
	write(t, paths.ArchivedContainer(3, 2, 0), "archived-cat3-vp2")
	write(t, paths.ArchivedContainer(1, 3, 0), "archived-cat1-vp3")
	write(t, paths.ArchivedContainer(3, 3, 0), "archived-cat3-vp3")

	// Step 5: recipes 1..4.
	write(t, paths.Recipe(1), "R1")
	write(t, paths.Recipe(2), "R2")
	write(t, paths.Recipe(3), "R3")
	write(t, paths.Recipe(4), "R4")

	idx := index.New()
	idx.SimEarlier.F1[1] = index.BasePos{CategoryOrder: 3}
	idx.SimEarlier.F2[2] = index.BasePos{CategoryOrder: 2}
	idx.SimEarlier.F3[3] = index.BasePos{CategoryOrder: 1}

	if err := Run(paths, idx, 4); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Step 1.
	mustNotExist(t, paths.ArchivedContainer(1, 1, 0))

	// Step 2+3: category 2 folded into category 1's append family,
	// then both category 1's primary and append families retag v=4 -> v=3.
	mustExist(t, paths.ActiveContainer(1, 3, 0), "active-cat1")
	mustExist(t, paths.ActiveAppendContainer(1, 3, 0), "active-cat2-cid0")
	mustExist(t, paths.ActiveAppendContainer(1, 3, 1), "active-cat2-cid1")
	mustNotExist(t, paths.ActiveContainer(1, 4, 0))
	mustNotExist(t, paths.ActiveContainer(2, 4, 0))

	// Step 3: categories >=3 shift down in both category order and version.
	mustExist(t, paths.ActiveContainer(2, 3, 0), "active-cat3")
	mustExist(t, paths.ActiveContainer(3, 3, 0), "active-cat4")

	// Step 4: vp=2 merge — category 1 keeps its cids, category 2's cids
	// are renumbered starting after category 1's, category >=3 shifts.
	mustExist(t, paths.ArchivedContainer(1, 1, 0), "archived-cat1-vp2")
	mustExist(t, paths.ArchivedContainer(1, 1, 1), "archived-cat2-vp2")
	mustExist(t, paths.ArchivedContainer(2, 1, 0), "archived-cat3-vp2")

	// Step 4: vp=3 merge (no category 2 present at vp=3 in this fixture).
	mustExist(t, paths.ArchivedContainer(1, 2, 0), "archived-cat1-vp3")
	mustExist(t, paths.ArchivedContainer(2, 2, 0), "archived-cat3-vp3")

	// Step 5: Recipe(1) (the dropped version) is gone; the rest shift down.
	mustNotExist(t, paths.Recipe(4))
	mustExist(t, paths.Recipe(1), "R2")
	mustExist(t, paths.Recipe(2), "R3")
	mustExist(t, paths.Recipe(3), "R4")

	// Step 6: SimilarityTableMerge's category-order rewriting.
	if got := idx.SimEarlier.F1[1].CategoryOrder; got != 2 {
		t.Fatalf("F1[1].CategoryOrder = %d, want 2 (>=3 decremented)", got)
	}
	if got := idx.SimEarlier.F2[2].CategoryOrder; got != 0 {
		t.Fatalf("F2[2].CategoryOrder = %d, want 0 (==2 folded away)", got)
	}
	if got := idx.SimEarlier.F3[3].CategoryOrder; got != 1 {
		t.Fatalf("F3[3].CategoryOrder = %d, want 1 (==1 unchanged)", got)
	}
}

func TestRunNoArchivedVersion1IsNoOp(t *testing.T) {
	root := t.TempDir()
	paths := container.NewPaths(root)
	if err := os.MkdirAll(paths.StorageDir(), 0o755); err != nil {
		t.Fatalf("MkdirAll storage: %v", err)
	}
	if err := os.MkdirAll(paths.LogicDir(), 0o755); err != nil {
		t.Fatalf("MkdirAll logic: %v", err)
	}
	write(t, paths.ActiveContainer(1, 2, 0), "only-cat1")
	write(t, paths.Recipe(1), "R1")
	write(t, paths.Recipe(2), "R2")

	idx := index.New()
	if err := Run(paths, idx, 2); err != nil {
		t.Fatalf("Run: %v", err)
	}
	mustExist(t, paths.ActiveContainer(1, 1, 0), "only-cat1")
	mustNotExist(t, paths.Recipe(2))
	mustExist(t, paths.Recipe(1), "R2")
}
