package container

import (
	"path/filepath"
	"testing"

	"github.com/HIT-HSSL/MeGA/internal/fingerprint"
	"github.com/HIT-HSSL/MeGA/internal/similarity"
)

func TestRecipeWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Recipe1")
	rw, err := CreateRecipe(path)
	if err != nil {
		t.Fatalf("CreateRecipe: %v", err)
	}
	headers := []BlockHeader{
		UniqueHeader(fingerprint.Compute([]byte("a")), 10, 10, similarity.Features{1, 2, 3}),
		DeltaHeader(fingerprint.Compute([]byte("b")), 4, 10, fingerprint.Compute([]byte("a"))),
	}
	for _, h := range headers {
		if err := rw.Write(h); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadRecipe(path)
	if err != nil {
		t.Fatalf("ReadRecipe: %v", err)
	}
	if len(got) != len(headers) {
		t.Fatalf("ReadRecipe returned %d headers, want %d", len(got), len(headers))
	}
	for i := range headers {
		if got[i] != headers[i] {
			t.Fatalf("header %d mismatch: got %+v, want %+v", i, got[i], headers[i])
		}
	}
}

func TestReadRecipeEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Recipe1")
	rw, err := CreateRecipe(path)
	if err != nil {
		t.Fatalf("CreateRecipe: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err := ReadRecipe(path)
	if err != nil {
		t.Fatalf("ReadRecipe: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ReadRecipe on empty file returned %d headers, want 0", len(got))
	}
}
