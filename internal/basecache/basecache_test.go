package basecache

import (
	"fmt"

	"github.com/HIT-HSSL/MeGA/internal/container"
	"github.com/HIT-HSSL/MeGA/internal/fingerprint"
)

// chunkRecord is one (header, payload) pair used to build a fake
// container for fakeLoader, without going through the real
// (compressed, file-backed) internal/container.Constructor.
type chunkRecord struct {
	fp      fingerprint.SHA1FP
	payload []byte
	delta   bool
}

// fakeLoader serves fixed, uncompressed container bytes keyed by
// (categoryOrder, cid), so tests can drive LoadBaseChunks without
// touching the filesystem or zstd.
type fakeLoader struct {
	containers map[[2]uint64][]byte
	loads      int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{containers: make(map[[2]uint64][]byte)}
}

func (f *fakeLoader) put(categoryOrder uint32, cid uint64, records []chunkRecord) {
	var buf []byte
	for _, r := range records {
		var h container.BlockHeader
		if r.delta {
			h = container.DeltaHeader(r.fp, uint64(len(r.payload)), uint64(len(r.payload)), fingerprint.Zero)
		} else {
			h = container.UniqueHeader(r.fp, uint64(len(r.payload)), uint64(len(r.payload)), [3]uint64{})
		}
		var hdr [container.HeaderSize]byte
		h.Marshal(hdr[:])
		buf = append(buf, hdr[:]...)
		buf = append(buf, r.payload...)
	}
	f.containers[[2]uint64{uint64(categoryOrder), cid}] = buf
}

func (f *fakeLoader) LoadContainer(categoryOrder uint32, cid uint64) ([]byte, error) {
	f.loads++
	buf, ok := f.containers[[2]uint64{uint64(categoryOrder), cid}]
	if !ok {
		return nil, fmt.Errorf("fakeLoader: no container at (%d,%d)", categoryOrder, cid)
	}
	return buf, nil
}
