// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/enclave-network/ciphernode-core/pkg/event"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	Value int `json:"value"`
}

func idFor(label string) event.ID {
	return event.ComputeID([]byte(label))
}

func TestTryMutatePersistsBeforeReplacingInMemoryValue(t *testing.T) {
	repo := NewRepository(newMemDatabase(), "counters")
	p := NewPersistable(repo, counterState{Value: 0})

	next, err := p.TryMutate(EventContext{EventID: idFor("e1")}, func(old counterState) (counterState, error) {
		return counterState{Value: old.Value + 1}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, next.Value)
	require.Equal(t, 1, p.Value().Value)

	snap, err := p.Snapshot(idFor("e1"))
	require.NoError(t, err)
	require.Equal(t, 1, snap.Value)
}

func TestTryMutateLeavesValueUnchangedOnError(t *testing.T) {
	repo := NewRepository(newMemDatabase(), "counters")
	p := NewPersistable(repo, counterState{Value: 5})

	_, err := p.TryMutate(EventContext{EventID: idFor("bad")}, func(counterState) (counterState, error) {
		return counterState{}, errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 5, p.Value().Value)
}

func TestRestoreReloadsMostRecentSnapshot(t *testing.T) {
	db := newMemDatabase()
	repo := NewRepository(db, "counters")
	p := NewPersistable(repo, counterState{Value: 0})

	_, err := p.TryMutate(EventContext{EventID: idFor("e1")}, func(old counterState) (counterState, error) {
		return counterState{Value: old.Value + 1}, nil
	})
	require.NoError(t, err)
	_, err = p.TryMutate(EventContext{EventID: idFor("e2")}, func(old counterState) (counterState, error) {
		return counterState{Value: old.Value + 10}, nil
	})
	require.NoError(t, err)

	fresh := NewPersistable(repo, counterState{Value: -1})
	restored, err := fresh.Restore()
	require.NoError(t, err)
	require.True(t, restored)
	require.Equal(t, 11, fresh.Value().Value)
	require.Equal(t, idFor("e2"), fresh.LastEventID())
}

func TestRestoreReportsFalseWithNoPriorSnapshot(t *testing.T) {
	repo := NewRepository(newMemDatabase(), "counters")
	p := NewPersistable(repo, counterState{Value: 0})

	restored, err := p.Restore()
	require.NoError(t, err)
	require.False(t, restored)
}

// TestTryMutateSerializesConcurrentCallers exercises the "at-most-one
// concurrent state transition" invariant: concurrent TryMutate calls must
// never interleave their read-modify-write, so the final value equals the
// number of successful mutations regardless of goroutine scheduling.
func TestTryMutateSerializesConcurrentCallers(t *testing.T) {
	repo := NewRepository(newMemDatabase(), "counters")
	p := NewPersistable(repo, counterState{Value: 0})

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := p.TryMutate(EventContext{EventID: idFor(string(rune(i)))}, func(old counterState) (counterState, error) {
				return counterState{Value: old.Value + 1}, nil
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Equal(t, n, p.Value().Value)
}

func TestRepositoryNamespacesKeysIndependently(t *testing.T) {
	db := newMemDatabase()
	a := NewRepository(db, "a")
	b := NewRepository(db, "b")

	require.NoError(t, a.Put("x", []byte("from-a")))
	require.NoError(t, b.Put("x", []byte("from-b")))

	va, err := a.Get("x")
	require.NoError(t, err)
	require.Equal(t, "from-a", string(va))

	vb, err := b.Get("x")
	require.NoError(t, err)
	require.Equal(t, "from-b", string(vb))
}
