// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/enclave-network/ciphernode-core/internal/clock"
	"github.com/enclave-network/ciphernode-core/pkg/event"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T, nodeID uint64) *Bus {
	t.Helper()
	clk := clock.New(nodeID)
	b := New(clk, nil, Config{BloomCapacity: 1000, BloomFalsePosRate: 0.01, QueueDepth: 64})
	t.Cleanup(b.Close)
	return b
}

func TestNoSubscriberSeesDuplicateEvent(t *testing.T) {
	b := newTestBus(t, 1)
	ctx := context.Background()

	var count int
	ch := make(chan struct{}, 8)
	b.Subscribe(event.TypeShutdown, func(event.Event) {
		count++
		ch <- struct{}{}
	})

	data := event.Shutdown{}
	_, err := b.Publish(ctx, data)
	require.NoError(t, err)
	// Publishing semantically-identical data again must be deduplicated by
	// content hash, not delivered twice.
	_, err = b.Publish(ctx, data)
	require.NoError(t, err)

	<-ch
	select {
	case <-ch:
		t.Fatal("subscriber received the same event twice")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 1, count)
}

func TestHistoryTakeFirstN(t *testing.T) {
	b := newTestBus(t, 1)
	h := NewHistory()
	b.SubscribeAll(h.Observe)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		_, _ = b.Publish(context.Background(), event.CiphernodeAdded{Address: "a", Index: 0, NumNodes: 1, ChainID: 1})
		_, _ = b.Publish(context.Background(), event.CiphernodeAdded{Address: "b", Index: 1, NumNodes: 2, ChainID: 1})
	}()

	evts, err := h.TakeFirstN(ctx, 2)
	require.NoError(t, err)
	require.Len(t, evts, 2)
}

// TestHLCPreservesCausalOrderAcrossBuses drives two buses A and B, sharing
// one strictly increasing fake wall clock, forwarding into a third
// collector bus via PublishFromRemote (the
// mechanism internal/netpeer uses for real gossip); after sorting the
// collector's history by timestamp, arrival order must equal publication
// order and every timestamp must be unique.
func TestHLCPreservesCausalOrderAcrossBuses(t *testing.T) {
	withMonotonicWallClock(t)
	a := newTestBus(t, 1)
	b := newTestBus(t, 2)

	collectorClk := clock.New(3)
	collector := New(collectorClk, nil, Config{BloomCapacity: 1000, BloomFalsePosRate: 0.01, QueueDepth: 64})
	defer collector.Close()
	history := NewHistory()
	collector.SubscribeAll(history.Observe)

	relay := func(src *Bus) Subscriber {
		return func(evt event.Event) {
			_, _ = collector.PublishFromRemote(context.Background(), evt.Data, evt.TS)
		}
	}
	a.SubscribeAll(relay(a))
	b.SubscribeAll(relay(b))

	ctx := context.Background()
	_, err := a.Publish(ctx, event.CiphernodeAdded{Address: "one"})
	require.NoError(t, err)
	_, err = b.Publish(ctx, event.CiphernodeAdded{Address: "two"})
	require.NoError(t, err)
	_, err = a.Publish(ctx, event.CiphernodeAdded{Address: "three"})
	require.NoError(t, err)
	_, err = b.Publish(ctx, event.CiphernodeAdded{Address: "four"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(history.All()) == 4
	}, time.Second, time.Millisecond)

	evts := history.All()
	sort.Slice(evts, func(i, j int) bool { return evts[i].TS.Less(evts[j].TS) })

	names := make([]string, len(evts))
	seen := make(map[string]bool)
	for i, e := range evts {
		names[i] = e.Data.(event.CiphernodeAdded).Address
		require.False(t, seen[e.TS.String()], "duplicate timestamp %s", e.TS)
		seen[e.TS.String()] = true
	}
	require.Equal(t, []string{"one", "two", "three", "four"}, names)
}

// withMonotonicWallClock replaces clock.NowMicros with a counter that
// advances on every call, regardless of which node's Clock calls it. This
// keeps physical time strictly increasing across two independently-owned
// buses so HLC tie-breaking by NodeID never has to arbitrate a genuine
// race, letting the test assert a single, unambiguous causal order.
func withMonotonicWallClock(t *testing.T) {
	t.Helper()
	var counter uint64 = 1_000_000
	orig := clock.NowMicros
	clock.NowMicros = func() uint64 { return atomic.AddUint64(&counter, 1000) }
	t.Cleanup(func() { clock.NowMicros = orig })
}
