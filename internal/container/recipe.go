package container

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// RecipeWriter appends BlockHeader records (no payload) to a version's
// recipe file, in the version's original chunk order (spec.md §3/§6).
type RecipeWriter struct {
	f *os.File
	w *bufio.Writer
}

func CreateRecipe(path string) (*RecipeWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("container: creating recipe %q: %w", path, err)
	}
	return &RecipeWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (r *RecipeWriter) Write(h BlockHeader) error {
	var buf [HeaderSize]byte
	h.Marshal(buf[:])
	_, err := r.w.Write(buf[:])
	return err
}

func (r *RecipeWriter) Close() error {
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return err
	}
	if err := r.f.Sync(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}

// ReadRecipe reads every BlockHeader of a version's recipe file, in order.
func ReadRecipe(path string) ([]BlockHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("container: opening recipe %q: %w", path, err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var out []BlockHeader
	var buf [HeaderSize]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("container: reading recipe %q: %w", path, err)
		}
		h, _ := Unmarshal(buf[:])
		out = append(out, h)
	}
	return out, nil
}
