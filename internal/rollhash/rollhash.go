// Package rollhash wraps the rolling-hash family used for chunk
// fingerprinting input and similarity sampling behind a single trait,
// per spec.md Design Notes §9 ("polymorphism over hash functions").
// Two concrete variants are provided: Rabin (Rabin-Karp, the teacher's
// original choice) and Gear (a buzhash-family rolling hash). The
// concrete implementation is selected once, at Store construction.
package rollhash

import (
	"fmt"

	"github.com/chmduquesne/rollinghash/rabinkarp64"
	"github.com/kch42/buzhash"
)

// Algorithm selects a concrete rolling-hash implementation.
type Algorithm int

const (
	Rabin Algorithm = iota
	Gear
)

// Hasher is the trait every rolling-hash variant implements: bytes can
// be appended via Write, or rolled one at a time via Roll once the
// window is full, and Sum64 reads the current digest without
// consuming it.
type Hasher interface {
	Write(p []byte) (int, error)
	Roll(b byte)
	Sum64() uint64
	Reset()
}

// New constructs a Hasher for the given algorithm and window size.
// seed only affects the Rabin variant's irreducible polynomial choice;
// it is ignored for Gear.
func New(algo Algorithm, windowSize int, seed int64) (Hasher, error) {
	switch algo {
	case Rabin:
		pol, err := rabinkarp64.RandomPolynomial(seed)
		if err != nil {
			return nil, fmt.Errorf("rollhash: generating rabin polynomial: %w", err)
		}
		return &rabinHasher{h: rabinkarp64.NewFromPol(pol), pol: pol}, nil
	case Gear:
		return &gearHasher{windowSize: windowSize, h: buzhash.NewBuzHash(uint32(windowSize))}, nil
	default:
		return nil, fmt.Errorf("rollhash: unknown algorithm %d", algo)
	}
}

type rabinHasher struct {
	h   *rabinkarp64.Rabinkarp64
	pol rabinkarp64.Pol
}

func (r *rabinHasher) Write(p []byte) (int, error) { return r.h.Write(p) }
func (r *rabinHasher) Roll(b byte)                 { r.h.Roll(b) }
func (r *rabinHasher) Sum64() uint64               { return r.h.Sum64() }
func (r *rabinHasher) Reset()                      { r.h.Reset() }

// gearHasher adapts buzhash's HashByte-based rolling window to the
// Hasher trait; buzhash has no separate "fill window" phase, so Write
// simply feeds every byte through HashByte.
type gearHasher struct {
	windowSize int
	h          *buzhash.BuzHash
}

func (g *gearHasher) Write(p []byte) (int, error) {
	for _, b := range p {
		g.h.HashByte(b)
	}
	return len(p), nil
}

func (g *gearHasher) Roll(b byte) { g.h.HashByte(b) }
func (g *gearHasher) Sum64() uint64 {
	return uint64(g.h.Sum32())
}
func (g *gearHasher) Reset() { g.h = buzhash.NewBuzHash(uint32(g.windowSize)) }
