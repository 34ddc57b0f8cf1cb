// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gomlx/ringmm/pkg/support/xsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func TestMailbox(t *testing.T) {
	t.Run("ReceivePostedFirst", func(t *testing.T) {
		m := NewMailbox(0)
		dst := make([]float64, 3)
		req := m.Post(AnySource, RingTag(1), dst)
		assert.False(t, req.Test())
		m.Deliver(2, RingTag(1), []float64{1, 2, 3}, nil)
		status, err := Wait(context.Background(), req, testTimeout)
		require.NoError(t, err)
		assert.Equal(t, 2, status.Source)
		assert.Equal(t, []float64{1, 2, 3}, dst)
	})

	t.Run("MessageArrivedFirst", func(t *testing.T) {
		m := NewMailbox(0)
		delivered := xsync.NewLatchWithValue[Status]()
		m.Deliver(1, RingTag(3), []float64{4, 5}, delivered)
		assert.False(t, delivered.Test())
		dst := make([]float64, 2)
		_, err := Wait(context.Background(), m.Post(1, RingTag(3), dst), testTimeout)
		require.NoError(t, err)
		assert.Equal(t, []float64{4, 5}, dst)
		_, err = Wait(context.Background(), delivered, testTimeout)
		require.NoError(t, err)
	})

	t.Run("MatchesTagAndSource", func(t *testing.T) {
		m := NewMailbox(0)
		m.Deliver(1, RingTag(2), []float64{2}, nil)
		m.Deliver(1, RingTag(1), []float64{1}, nil)
		m.Deliver(3, Tag{Kind: KindGather}, []float64{3}, nil)

		dst := make([]float64, 1)
		_, err := Wait(context.Background(), m.Post(AnySource, RingTag(1), dst), testTimeout)
		require.NoError(t, err)
		assert.Equal(t, 1.0, dst[0])

		req := m.Post(2, Tag{Kind: KindGather}, dst)
		assert.False(t, req.Test(), "message from rank 3 must not match a receive from rank 2")
		arrived, posted := m.Pending()
		assert.Equal(t, 2, arrived)
		assert.Equal(t, 1, posted)
	})

	t.Run("SizeMismatch", func(t *testing.T) {
		m := NewMailbox(0)
		m.Deliver(1, RingTag(1), []float64{1, 2}, nil)
		_, err := Wait(context.Background(), m.Post(1, RingTag(1), make([]float64, 3)), testTimeout)
		require.ErrorIs(t, err, ErrSizeMismatch)
	})

	t.Run("Close", func(t *testing.T) {
		m := NewMailbox(0)
		req := m.Post(AnySource, RingTag(1), nil)
		delivered := xsync.NewLatchWithValue[Status]()
		m.Deliver(1, RingTag(2), nil, delivered)
		m.Close()
		_, err := Wait(context.Background(), req, testTimeout)
		require.ErrorIs(t, err, ErrClosed)
		_, err = Wait(context.Background(), delivered, testTimeout)
		require.ErrorIs(t, err, ErrClosed)
		_, err = Wait(context.Background(), m.Post(AnySource, RingTag(1), nil), testTimeout)
		require.ErrorIs(t, err, ErrClosed)
	})
}

func TestLocalGroup(t *testing.T) {
	_, err := NewLocalGroup(0)
	require.Error(t, err)

	group, err := NewLocalGroup(3)
	require.NoError(t, err)
	ctx := context.Background()

	// Rendezvous: the send completes only once the receiver posted its buffer.
	data := []float64{7, 8}
	send := group[0].Isend(ctx, 1, RingTag(1), data)
	_, err = Wait(ctx, send, 10*time.Millisecond)
	require.ErrorIs(t, err, xsync.ErrTimeout)
	dst := make([]float64, 2)
	status, err := Wait(ctx, group[1].Irecv(ctx, AnySource, RingTag(1), dst), testTimeout)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Source)
	assert.Equal(t, data, dst)
	_, err = Wait(ctx, send, testTimeout)
	require.NoError(t, err)

	_, err = Wait(ctx, group[0].Isend(ctx, 5, RingTag(1), data), testTimeout)
	require.Error(t, err)
	_, err = Wait(ctx, group[0].Irecv(ctx, 5, RingTag(1), dst), testTimeout)
	require.Error(t, err)
}

func TestBarrier(t *testing.T) {
	const size = 4
	group, err := NewLocalGroup(size)
	require.NoError(t, err)

	type event struct {
		leave bool
		seq   int
	}
	var mu sync.Mutex
	var events []event
	var wg sync.WaitGroup
	for rank := range size {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := range 3 {
				mu.Lock()
				events = append(events, event{seq: seq})
				mu.Unlock()
				assert.NoError(t, Barrier(context.Background(), group[rank], AllRanks(size), seq, testTimeout))
				mu.Lock()
				events = append(events, event{leave: true, seq: seq})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Nobody leaves barrier #seq before every rank arrived at it.
	arrivals := 0
	for _, e := range events {
		if !e.leave {
			arrivals++
			continue
		}
		require.GreaterOrEqual(t, arrivals, size*(e.seq+1))
	}

	// A member that is not in the list is an error, and a lonely leader times out.
	require.Error(t, Barrier(context.Background(), group[0], []int{1, 2}, 9, testTimeout))
	err = Barrier(context.Background(), group[0], []int{0, 1}, 10, 10*time.Millisecond)
	require.ErrorIs(t, err, xsync.ErrTimeout)
}
