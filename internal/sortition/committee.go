// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sortition

import (
	"encoding/binary"
	"math/rand/v2"
	"sort"
)

// candidate is one operator eligible for a committee draw, with its
// available-ticket weight already computed.
type candidate struct {
	address   string
	available uint64
}

// selectCommittee implements weighted sampling without replacement: node
// i is selected with probability proportional to its
// available tickets, repeated until n nodes are chosen or candidates are
// exhausted. The draw is deterministic in (seed, registry snapshot): candidates
// are sorted by address first so equal-weight ties never depend on map
// iteration order, then every random draw comes from a PCG seeded purely
// from the first 16 bytes of the 32-byte seed.
func selectCommittee(seed [32]byte, operators map[string]*OperatorRecord, ticketPrice uint64, n int) []string {
	if ticketPrice == 0 {
		ticketPrice = 1
	}

	pool := make([]candidate, 0, len(operators))
	for _, op := range operators {
		if !op.Active {
			continue
		}
		available := op.TicketBalance/ticketPrice - op.ActiveJobs
		if op.TicketBalance/ticketPrice < op.ActiveJobs {
			available = 0
		}
		if available == 0 {
			continue
		}
		pool = append(pool, candidate{address: op.Address, available: available})
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].address < pool[j].address })

	rng := rand.New(rand.NewPCG(binary.BigEndian.Uint64(seed[0:8]), binary.BigEndian.Uint64(seed[8:16])))

	selected := make([]string, 0, n)
	for len(selected) < n && len(pool) > 0 {
		var total uint64
		for _, c := range pool {
			total += c.available
		}
		draw := rng.Uint64() % total

		var cum uint64
		idx := len(pool) - 1
		for i, c := range pool {
			cum += c.available
			if draw < cum {
				idx = i
				break
			}
		}

		selected = append(selected, pool[idx].address)
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return selected
}
