// Package container implements the fixed-size target container that
// chunk payloads are packed into (spec.md §3/§6), its on-disk naming
// policy, and the buffered constructor that seals, compresses and
// writes one container at a time.
package container

import (
	"encoding/binary"

	"github.com/HIT-HSSL/MeGA/internal/fingerprint"
	"github.com/HIT-HSSL/MeGA/internal/similarity"
)

// BlockHeader is written once per chunk, identically in both the
// recipe file and the container file (spec.md §3). It is a
// discriminated union keyed by DeltaTag: DeltaTag==1 chunks carry
// BaseFP, DeltaTag==0 chunks carry Features. Both fields are always
// present in the in-memory type (Design Notes §9: "reimplement as a
// sum type... the on-disk format keeps its fixed-size layout by
// padding the smaller variant") and both are always serialized, so
// the on-disk record size never varies with DeltaTag.
type BlockHeader struct {
	FP             fingerprint.SHA1FP
	DeltaTag       uint8
	Length         uint64 // up to 63 bits; payload length in this container
	OriginalLength uint64
	BaseFP         fingerprint.SHA1FP    // valid iff DeltaTag == 1
	Features       similarity.Features   // valid iff DeltaTag == 0
}

// UniqueHeader builds a non-delta BlockHeader (Unique/Similar-rejected
// chunks), with the BaseFP half of the union zeroed.
func UniqueHeader(fp fingerprint.SHA1FP, length, originalLength uint64, features similarity.Features) BlockHeader {
	return BlockHeader{
		FP:             fp,
		DeltaTag:       0,
		Length:         length,
		OriginalLength: originalLength,
		Features:       features,
	}
}

// DeltaHeader builds a delta BlockHeader, with the Features half of
// the union zeroed.
func DeltaHeader(fp fingerprint.SHA1FP, length, originalLength uint64, baseFP fingerprint.SHA1FP) BlockHeader {
	return BlockHeader{
		FP:             fp,
		DeltaTag:       1,
		Length:         length,
		OriginalLength: originalLength,
		BaseFP:         baseFP,
	}
}

// HeaderSize is the fixed on-disk size, in bytes, of a BlockHeader:
// FP(16) + DeltaTag(1) + Length(8) + OriginalLength(8) + the union,
// padded to its larger member, Features(24) vs BaseFP(16).
const HeaderSize = 16 + 1 + 8 + 8 + 24

// Marshal writes h's fixed-size wire form to buf, which must have
// length >= HeaderSize, and returns the number of bytes written.
func (h BlockHeader) Marshal(buf []byte) int {
	off := 0
	putFP(buf[off:], h.FP)
	off += 16
	buf[off] = h.DeltaTag
	off++
	binary.LittleEndian.PutUint64(buf[off:], h.Length)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.OriginalLength)
	off += 8
	if h.DeltaTag == 1 {
		putFP(buf[off:], h.BaseFP)
		// zero-pad the remaining 8 bytes of the union
		for i := 16; i < 24; i++ {
			buf[off+i] = 0
		}
	} else {
		binary.LittleEndian.PutUint64(buf[off:], h.Features[0])
		binary.LittleEndian.PutUint64(buf[off+8:], h.Features[1])
		binary.LittleEndian.PutUint64(buf[off+16:], h.Features[2])
	}
	off += 24
	return off
}

// Unmarshal reads a BlockHeader from buf, which must have length >=
// HeaderSize, and returns the number of bytes consumed.
func Unmarshal(buf []byte) (BlockHeader, int) {
	var h BlockHeader
	off := 0
	h.FP = getFP(buf[off:])
	off += 16
	h.DeltaTag = buf[off]
	off++
	h.Length = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.OriginalLength = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	if h.DeltaTag == 1 {
		h.BaseFP = getFP(buf[off:])
	} else {
		h.Features[0] = binary.LittleEndian.Uint64(buf[off:])
		h.Features[1] = binary.LittleEndian.Uint64(buf[off+8:])
		h.Features[2] = binary.LittleEndian.Uint64(buf[off+16:])
	}
	off += 24
	return h, off
}

func putFP(buf []byte, fp fingerprint.SHA1FP) {
	binary.LittleEndian.PutUint32(buf[0:4], fp[0])
	binary.LittleEndian.PutUint32(buf[4:8], fp[1])
	binary.LittleEndian.PutUint32(buf[8:12], fp[2])
	binary.LittleEndian.PutUint32(buf[12:16], fp[3])
}

func getFP(buf []byte) fingerprint.SHA1FP {
	return fingerprint.SHA1FP{
		binary.LittleEndian.Uint32(buf[0:4]),
		binary.LittleEndian.Uint32(buf[4:8]),
		binary.LittleEndian.Uint32(buf[8:12]),
		binary.LittleEndian.Uint32(buf[12:16]),
	}
}
