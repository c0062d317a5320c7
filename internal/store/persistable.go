// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/enclave-network/ciphernode-core/pkg/event"
)

// latestKey is the well-known suffix under which a Persistable records the
// id of the event that produced its current value, so a restarting node
// can find where to resume a replay.
const latestKey = "latest"

// EventContext carries the id of the event causing a mutation. Persistable
// derives the KV key a snapshot is written under from EventID, so replay
// is a fold over the event history in order, keyed by the cause.
type EventContext struct {
	EventID event.ID
}

// Codec (de)serializes a Persistable's value for storage. A Persistable
// uses jsonCodec unless WithCodec swaps in another, such as
// crypt.SealedJSONCodec for snapshots sealed at rest.
type Codec[T any] interface {
	Marshal(T) ([]byte, error)
	Unmarshal([]byte) (T, error)
}

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Marshal(v T) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec[T]) Unmarshal(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}

// Persistable wraps a value of type T with a Repository, enforcing a
// mutation contract: every mutation is serialized through TryMutate,
// which durably snapshots the new value under a key derived from the
// causing event before it becomes visible in memory. Holding mu for the
// duration of TryMutate is the mechanism that gives "at-most-one
// concurrent state transition" per owner.
type Persistable[T any] struct {
	mu    sync.Mutex
	repo  *Repository
	codec Codec[T]
	value T
	last  event.ID
}

// NewPersistable returns a Persistable seeded with initial, backed by repo.
func NewPersistable[T any](repo *Repository, initial T) *Persistable[T] {
	return &Persistable[T]{repo: repo, codec: jsonCodec[T]{}, value: initial}
}

// WithCodec overrides the default JSON codec; must be called before the
// first TryMutate.
func (p *Persistable[T]) WithCodec(c Codec[T]) *Persistable[T] {
	p.codec = c
	return p
}

// Value returns the current in-memory value. Callers must not mutate a
// returned reference type's contents without going through TryMutate.
func (p *Persistable[T]) Value() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// TryMutate invokes f(old) to compute new, persists new under a key
// derived from ctx.EventID, and only then replaces the in-memory value.
// If the write fails, the in-memory value is left unchanged so a failed
// mutation never desyncs memory from disk.
func (p *Persistable[T]) TryMutate(ctx EventContext, f func(old T) (T, error)) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	next, err := f(p.value)
	if err != nil {
		return zero, fmt.Errorf("mutate: %w", err)
	}

	encoded, err := p.codec.Marshal(next)
	if err != nil {
		return zero, fmt.Errorf("mutate: marshal snapshot: %w", err)
	}
	if err := p.repo.Put(ctx.EventID.String(), encoded); err != nil {
		return zero, fmt.Errorf("mutate: persist snapshot: %w", err)
	}
	if err := p.repo.Put(latestKey, []byte(ctx.EventID.String())); err != nil {
		return zero, fmt.Errorf("mutate: persist latest pointer: %w", err)
	}

	p.value = next
	p.last = ctx.EventID
	return next, nil
}

// LastEventID returns the id of the event that produced the current
// in-memory value, or the zero ID if no mutation has happened yet.
func (p *Persistable[T]) LastEventID() event.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Snapshot loads the durable value recorded for a specific event id,
// without disturbing the in-memory value — used to replay or audit
// history independently of the live Persistable.
func (p *Persistable[T]) Snapshot(id event.ID) (T, error) {
	var zero T
	raw, err := p.repo.Get(id.String())
	if err != nil {
		return zero, fmt.Errorf("snapshot %s: %w", id, err)
	}
	return p.codec.Unmarshal(raw)
}

// Restore reloads the Persistable's in-memory value from the most recent
// durable snapshot recorded in repo, if any. It reports whether a
// snapshot existed.
func (p *Persistable[T]) Restore() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	has, err := p.repo.Has(latestKey)
	if err != nil {
		return false, fmt.Errorf("restore: check latest pointer: %w", err)
	}
	if !has {
		return false, nil
	}
	ptr, err := p.repo.Get(latestKey)
	if err != nil {
		return false, fmt.Errorf("restore: read latest pointer: %w", err)
	}
	raw, err := p.repo.Get(string(ptr))
	if err != nil {
		return false, fmt.Errorf("restore: read snapshot %s: %w", ptr, err)
	}
	value, err := p.codec.Unmarshal(raw)
	if err != nil {
		return false, fmt.Errorf("restore: decode snapshot %s: %w", ptr, err)
	}
	idBytes, err := hex.DecodeString(string(ptr))
	if err != nil {
		return false, fmt.Errorf("restore: decode latest pointer %s: %w", ptr, err)
	}
	p.value = value
	copy(p.last[:], idBytes)
	return true, nil
}
