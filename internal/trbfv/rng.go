// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package trbfv

import (
	"math/rand/v2"
	"sync"
)

// seededRng is the shared seedable RNG handle: one instance per node,
// shared by every kernel call's task-pool closure. mu serializes every
// draw, so the underlying generator is never mutated concurrently.
type seededRng struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeededRng returns an Rng deterministic for a given seed, for test
// builds and reproducible kernel runs.
func NewSeededRng(seed int64) Rng {
	return &seededRng{r: rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))}
}

func (s *seededRng) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Uint64()
}

func (s *seededRng) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range p {
		p[i] = byte(s.r.Uint32())
	}
	return len(p), nil
}
