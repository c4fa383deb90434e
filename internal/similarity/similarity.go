// Package similarity implements the Odess-style resemblance sampler
// described in spec.md §6 and §3: a rolling hash over the chunk's
// bytes, sampled at masked positions, transformed through twelve
// affine maps grouped into three 4-lane super-features, each reduced
// by max-selection then hashed down to one 64-bit feature.
//
// This generalizes the teacher's segment-based sketch
// (LeilaRenard-dna-backup/sketch/sketch.go, which splits the chunk
// into sfCount*fCount fixed windows) to the sampled, mask-gated scheme
// spec.md actually calls for, while keeping the same two-phase shape:
// gather candidate values with a rolling hash, then fold lane maxima
// into a final feature with a second hash pass.
package similarity

import (
	"encoding/binary"

	"github.com/HIT-HSSL/MeGA/internal/rollhash"
)

const (
	lanesPerFeature = 4
	featureCount    = 3
	laneCount       = featureCount * lanesPerFeature // 12 affine maps

	// defaultSampleMask gates roughly 1-in-256 rolling-hash positions
	// into candidates for the affine transforms, bounding sampling
	// cost independent of chunk size.
	defaultSampleMask = 0xFF
)

// affine transform constants: 12 distinct (multiplier, increment) pairs,
// each an odd 64-bit multiplier (for a bijective affine map mod 2^64)
// paired with a distinct additive constant. Values are arbitrary but
// fixed so that the same chunk always samples to the same Features.
var affineA = [laneCount]uint64{
	0x9E3779B97F4A7C15, 0xC2B2AE3D27D4EB4F, 0x165667B19E3779F9, 0x27D4EB2F165667C5,
	0xFF51AFD7ED558CCD, 0xC4CEB9FE1A85EC53, 0x2545F4914F6CDD1D, 0x94D049BB133111EB,
	0xBF58476D1CE4E5B9, 0x3C79AC492BA7B653, 0x1C69B3F74AC4AE35, 0x9E3779B185EBCA87,
}

var affineB = [laneCount]uint64{
	0xD6E8FEB86659FD93, 0xA24BAED4963EE407, 0x9FB21C651E98DF25, 0x85EBCA6B9E3779B9,
	0xC3A5C85C97CB3127, 0xB492B66FBE98F273, 0xE9846AF9B1A615D, 0xD0E89CA32F3FD523,
	0x8B6EBB48F7A5E1F1, 0x2545F491F6CDD1D, 0x27D4EB2F165667C5, 0xFF51AFD7ED558CCD,
}

// Features is the three-feature resemblance signature of a chunk.
// Two chunks are "similar" (spec.md §3) if any of the three features
// match.
type Features [featureCount]uint64

// Sample computes the Features for data using the given rolling-hash
// algorithm and window size. windowSize must be smaller than len(data)
// for a meaningful sample; shorter inputs still produce a (degenerate
// but deterministic) Features value.
func Sample(data []byte, algo rollhash.Algorithm, seed int64, windowSize int) (Features, error) {
	var lanes [laneCount]uint64
	h, err := rollhash.New(algo, windowSize, seed)
	if err != nil {
		return Features{}, err
	}
	if len(data) <= windowSize {
		h.Write(data)
		seedSample(&lanes, h.Sum64())
		return fold(&lanes), nil
	}
	h.Write(data[:windowSize])
	sampleAt(&lanes, h.Sum64())
	for i := windowSize; i < len(data); i++ {
		h.Roll(data[i])
		sampleAt(&lanes, h.Sum64())
	}
	return fold(&lanes), nil
}

// sampleAt applies the 12 affine transforms to hashVal and folds each
// into its lane's running maximum, but only at masked positions (a
// content-defined subset of the rolling-hash stream, bounding work to
// roughly len(data)/256 transform passes).
func sampleAt(lanes *[laneCount]uint64, hashVal uint64) {
	if hashVal&defaultSampleMask != 0 {
		return
	}
	seedSample(lanes, hashVal)
}

func seedSample(lanes *[laneCount]uint64, hashVal uint64) {
	for i := 0; i < laneCount; i++ {
		v := affineA[i]*hashVal + affineB[i]
		if v > lanes[i] {
			lanes[i] = v
		}
	}
}

// fold reduces the 12 lane maxima, 4 at a time, into the 3 Features by
// hashing each group's concatenated bytes.
func fold(lanes *[laneCount]uint64) Features {
	var out Features
	var buf [lanesPerFeature * 8]byte
	for g := 0; g < featureCount; g++ {
		for lane := 0; lane < lanesPerFeature; lane++ {
			binary.LittleEndian.PutUint64(buf[lane*8:], lanes[g*lanesPerFeature+lane])
		}
		out[g] = hashBytes(buf[:])
	}
	return out
}

// hashBytes is a fixed-seed FNV-1a style mix, used only to collapse
// the 4 lane maxima of a group into one feature value; it need not be
// cryptographic, only well-distributed and deterministic.
func hashBytes(b []byte) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for _, c := range b {
		h ^= uint64(c)
		h *= prime
	}
	return h
}

// Match reports whether two Features are "similar" per spec.md §3: any
// one of the three features matches.
func Match(a, b Features) bool {
	return a[0] == b[0] || a[1] == b[1] || a[2] == b[2]
}
