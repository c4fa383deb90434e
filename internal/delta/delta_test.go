package delta

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	base := bytes.Repeat([]byte("0123456789"), 1000)
	target := append([]byte(nil), base...)
	target[500] = 'X'
	target = append(target, []byte("a small appended tail")...)

	d, ok := Encode(target, base)
	if !ok {
		t.Fatalf("Encode reported not worth a delta for a near-identical target")
	}
	got, err := Decode(d, base)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, target) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(target))
	}
}

func TestEncodeRejectsUnrelatedData(t *testing.T) {
	base := bytes.Repeat([]byte{0x00}, 4096)
	target := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(target)
	if _, ok := Encode(target, base); ok {
		t.Fatalf("Encode accepted a delta no smaller than target for unrelated random-looking data")
	}
}

func TestDecodeRejectsCorruptDelta(t *testing.T) {
	base := bytes.Repeat([]byte("hello world "), 100)
	target := append([]byte(nil), base...)
	target[10] = 'Z'
	d, ok := Encode(target, base)
	if !ok {
		t.Fatalf("Encode reported not worth a delta")
	}
	corrupt := append([]byte(nil), d...)
	if len(corrupt) > 4 {
		corrupt = corrupt[:len(corrupt)-4]
	}
	if _, err := Decode(corrupt, nil); err == nil {
		t.Fatalf("Decode accepted a truncated delta against a nil base")
	}
}
