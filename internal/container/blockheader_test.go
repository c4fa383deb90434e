package container

import (
	"testing"

	"github.com/HIT-HSSL/MeGA/internal/fingerprint"
	"github.com/HIT-HSSL/MeGA/internal/similarity"
)

func TestMarshalUnmarshalUniqueHeader(t *testing.T) {
	h := UniqueHeader(fingerprint.Compute([]byte("a")), 100, 120, similarity.Features{1, 2, 3})
	var buf [HeaderSize]byte
	n := h.Marshal(buf[:])
	if n != HeaderSize {
		t.Fatalf("Marshal wrote %d bytes, want %d", n, HeaderSize)
	}
	got, n2 := Unmarshal(buf[:])
	if n2 != HeaderSize {
		t.Fatalf("Unmarshal consumed %d bytes, want %d", n2, HeaderSize)
	}
	if got != h {
		t.Fatalf("Unmarshal(Marshal(h)) = %+v, want %+v", got, h)
	}
}

func TestMarshalUnmarshalDeltaHeader(t *testing.T) {
	h := DeltaHeader(fingerprint.Compute([]byte("a")), 40, 120, fingerprint.Compute([]byte("base")))
	var buf [HeaderSize]byte
	h.Marshal(buf[:])
	got, _ := Unmarshal(buf[:])
	if got != h {
		t.Fatalf("Unmarshal(Marshal(h)) = %+v, want %+v", got, h)
	}
	if got.DeltaTag != 1 || got.BaseFP != h.BaseFP {
		t.Fatalf("delta union fields lost across marshal round trip")
	}
}

func TestMarshalFixedSize(t *testing.T) {
	u := UniqueHeader(fingerprint.Compute([]byte("x")), 1, 1, similarity.Features{})
	d := DeltaHeader(fingerprint.Compute([]byte("y")), 1, 1, fingerprint.Compute([]byte("z")))
	var bu, bd [HeaderSize]byte
	if n := u.Marshal(bu[:]); n != HeaderSize {
		t.Fatalf("unique header marshaled size = %d, want %d", n, HeaderSize)
	}
	if n := d.Marshal(bd[:]); n != HeaderSize {
		t.Fatalf("delta header marshaled size = %d, want %d", n, HeaderSize)
	}
}
