// Package entropy provides the single seeded random stream every stochastic
// decision in a run draws from. Given the same seed, two runs consume the
// same sequence and are bit-reproducible.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
)

// Stream is a seeded pseudo-random source. It is not safe for concurrent
// use; the tick loop is its only caller.
type Stream struct {
	seed int64
	rng  *mrand.Rand
}

// NewStream creates a stream. A zero seed draws a fresh seed from
// crypto/rand; Seed reports the value actually used so the run can be
// replayed.
func NewStream(seed int64) *Stream {
	if seed == 0 {
		seed = RandomSeed()
	}
	return &Stream{
		seed: seed,
		rng:  mrand.New(mrand.NewSource(seed)),
	}
}

// Seed returns the seed the stream was created with.
func (s *Stream) Seed() int64 {
	return s.seed
}

// Float returns a value in [0, 1).
func (s *Stream) Float() float64 {
	return s.rng.Float64()
}

// Intn returns a value in [0, n). It panics if n <= 0.
func (s *Stream) Intn(n int) int {
	return s.rng.Intn(n)
}

// Shuffle permutes n elements uniformly via swap.
func (s *Stream) Shuffle(n int, swap func(i, j int)) {
	s.rng.Shuffle(n, swap)
}

// Pick returns a uniformly random index into a collection of length n,
// or -1 when n is zero.
func (s *Stream) Pick(n int) int {
	if n <= 0 {
		return -1
	}
	return s.rng.Intn(n)
}

// Weighted returns an index drawn with probability proportional to
// weights[i]. Non-positive weights are never chosen; if every weight is
// non-positive the result is -1.
func (s *Stream) Weighted(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return -1
	}
	r := s.rng.Float64() * total
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		if r < w {
			return i
		}
		r -= w
	}
	return last
}

// RandomSeed returns a non-zero seed from crypto/rand.
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}
