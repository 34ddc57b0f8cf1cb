// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"github.com/pkg/errors"
)

// Ring is the directed cycle over Size ranks: rank r sends to (r+1) mod Size and receives from (r-1) mod Size.
type Ring struct {
	size int
}

// NewRing returns the ring over size ranks.
func NewRing(size int) (Ring, error) {
	if size <= 0 {
		return Ring{}, errors.Errorf("ring size must be > 0, got %d", size)
	}
	return Ring{size: size}, nil
}

// Size returns the number of ranks in the ring, which is also the number of rounds of a full rotation.
func (r Ring) Size() int { return r.size }

// Next returns the successor of rank: the rank it sends to.
func (r Ring) Next(rank int) int { return mod(rank+1, r.size) }

// Prev returns the predecessor of rank: the rank it receives from.
func (r Ring) Prev(rank int) int { return mod(rank-1, r.size) }

// OwnerAt returns the rank that originally owned the block held by rank at the given round, when every
// rank forwards its current block to its successor at the end of each round.
func (r Ring) OwnerAt(rank, round int) int { return mod(rank-round, r.size) }

// HolderAt returns the rank that holds the block originally owned by owner at the given round.
func (r Ring) HolderAt(owner, round int) int { return mod(owner+round, r.size) }

// Schedule returns, for each round, the original owner of the block held by each rank: schedule[round][rank].
func (r Ring) Schedule() [][]int {
	schedule := make([][]int, r.size)
	for round := range schedule {
		schedule[round] = make([]int, r.size)
		for rank := range schedule[round] {
			schedule[round][rank] = r.OwnerAt(rank, round)
		}
	}
	return schedule
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}
