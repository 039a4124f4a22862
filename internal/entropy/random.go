// Package entropy provides the random source shared by collapse selection
// and entropy tie-breaking. Sources are injectable so generation is
// reproducible from a seed.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand"
)

// Source is the randomness the solver needs. *math/rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
	Float64() float64
}

// New returns a seeded source. A zero seed draws a fresh seed from crypto/rand.
func New(seed int64) *mathrand.Rand {
	if seed == 0 {
		seed = CryptoSeed()
	}
	return mathrand.New(mathrand.NewSource(seed))
}

// CryptoSeed returns a non-zero seed read from crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; fall back to a fixed non-zero seed.
		return 1
	}
	// Keep it positive so it round-trips through flags and config files unchanged.
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		return 1
	}
	return seed
}

// Pick returns an index into weights chosen with probability proportional to
// its weight. Non-positive weights are never picked unless every weight is
// non-positive, in which case the choice is uniform. Returns -1 for an empty slice.
func Pick(src Source, weights []float64) int {
	if len(weights) == 0 {
		return -1
	}

	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return src.Intn(len(weights))
	}

	r := src.Float64() * total
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		r -= w
		if r < 0 {
			return i
		}
	}
	// Float rounding can leave r at ~0 after the last positive weight.
	return last
}
