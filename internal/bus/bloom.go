// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// bloomFilter is a classic counting-free Bloom filter used to deduplicate
// event ids before they reach any subscriber, sized for tens of millions
// of items at a sub-percent false-positive rate. It never produces false
// negatives, so a dropped event is always a genuine duplicate; a (rare)
// false positive silently drops a distinct event, an accepted tradeoff in
// exchange for O(1) dedup memory.
type bloomFilter struct {
	bits *bitset.BitSet
	m    uint64
	k    uint64
}

// newBloomFilter sizes the filter for n expected items at the given false
// positive rate, using the standard m = -n*ln(p)/(ln2)^2 and
// k = (m/n)*ln2 formulas.
func newBloomFilter(n uint64, p float64) *bloomFilter {
	if n == 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.001
	}
	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m == 0 {
		m = 1
	}
	k := uint64(math.Round(float64(m) / float64(n) * math.Ln2))
	if k == 0 {
		k = 1
	}
	return &bloomFilter{bits: bitset.New(uint(m)), m: m, k: k}
}

// locations implements Kirsch-Mitzenmacher double hashing: k hash
// positions derived from two independent 64-bit hashes instead of k
// independent hash functions.
func (f *bloomFilter) locations(id []byte) []uint64 {
	h1 := xxhash.Sum64(id)
	h2 := xxhash.Sum64(append(id, 0x5a))
	locs := make([]uint64, f.k)
	for i := uint64(0); i < f.k; i++ {
		locs[i] = (h1 + i*h2) % f.m
	}
	return locs
}

// TestAndAdd reports whether id was already (probably) present, and adds
// it to the filter unconditionally.
func (f *bloomFilter) TestAndAdd(id []byte) bool {
	locs := f.locations(id)
	present := true
	for _, loc := range locs {
		if !f.bits.Test(uint(loc)) {
			present = false
		}
		f.bits.Set(uint(loc))
	}
	return present
}
