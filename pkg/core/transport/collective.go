// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"slices"
	"time"

	"github.com/pkg/errors"
)

// WaitAll waits for all requests, each with the given timeout, and returns the first error.
func WaitAll(ctx context.Context, reqs []*Request, timeout time.Duration) error {
	var firstErr error
	for _, req := range reqs {
		if _, err := Wait(ctx, req, timeout); err != nil && firstErr == nil {
			firstErr = err
			if ctx.Err() != nil {
				break
			}
		}
	}
	return firstErr
}

// Barrier blocks until every rank in members called Barrier with the same seq.
//
// members[0] coordinates: the others announce their arrival to it, and it releases them once all arrived.
// Each wait is bounded by timeout. All members must list the same ranks in the same order, and must include
// the caller.
func Barrier(ctx context.Context, t Transport, members []int, seq int, timeout time.Duration) error {
	rank := t.Rank()
	if !slices.Contains(members, rank) {
		return errors.Errorf("rank %d: Barrier called with members %v not including itself", rank, members)
	}
	if len(members) == 1 {
		return nil
	}
	leader := members[0]
	arriveTag := Tag{Kind: KindBarrier, Seq: seq}
	releaseTag := Tag{Kind: KindRelease, Seq: seq}

	if rank != leader {
		released := t.Irecv(ctx, leader, releaseTag, nil)
		if _, err := Wait(ctx, t.Isend(ctx, leader, arriveTag, nil), timeout); err != nil {
			return errors.WithMessagef(err, "rank %d: barrier #%d arrival", rank, seq)
		}
		if _, err := Wait(ctx, released, timeout); err != nil {
			return errors.WithMessagef(err, "rank %d: barrier #%d release", rank, seq)
		}
		return nil
	}

	arrivals := make([]*Request, 0, len(members)-1)
	for _, member := range members[1:] {
		arrivals = append(arrivals, t.Irecv(ctx, member, arriveTag, nil))
	}
	if err := WaitAll(ctx, arrivals, timeout); err != nil {
		return errors.WithMessagef(err, "rank %d: barrier #%d waiting for arrivals", rank, seq)
	}
	releases := make([]*Request, 0, len(members)-1)
	for _, member := range members[1:] {
		releases = append(releases, t.Isend(ctx, member, releaseTag, nil))
	}
	return errors.WithMessagef(WaitAll(ctx, releases, timeout), "rank %d: barrier #%d releasing members", rank, seq)
}

// AllRanks returns [0, size), the members of a group-wide collective.
func AllRanks(size int) []int {
	ranks := make([]int, size)
	for i := range ranks {
		ranks[i] = i
	}
	return ranks
}
