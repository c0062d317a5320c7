// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store implements Persistable state and the Repository pattern:
// a named keyspace over an opaque KV store, where every state-mutating
// event produces a durable snapshot keyed by the event that caused it.
package store

import (
	"fmt"

	"github.com/luxfi/database"
)

// Repository is a named keyspace inside a shared database.Database. Every
// key it reads or writes is namespaced so unrelated Persistable values
// sharing one underlying KV never collide.
type Repository struct {
	db        database.Database
	namespace string
}

// NewRepository returns a Repository scoped to namespace within db.
func NewRepository(db database.Database, namespace string) *Repository {
	return &Repository{db: db, namespace: namespace}
}

// Sub returns a child Repository nested under this one, e.g. a
// per-E3 repository carved out of a package-wide one.
func (r *Repository) Sub(name string) *Repository {
	return &Repository{db: r.db, namespace: r.namespace + "/" + name}
}

func (r *Repository) key(suffix string) []byte {
	return []byte(r.namespace + ":" + suffix)
}

// Put writes value under suffix within this repository's namespace.
func (r *Repository) Put(suffix string, value []byte) error {
	if err := r.db.Put(r.key(suffix), value); err != nil {
		return fmt.Errorf("store: put %s/%s: %w", r.namespace, suffix, err)
	}
	return nil
}

// Get reads the value stored under suffix, or database.ErrNotFound if
// absent.
func (r *Repository) Get(suffix string) ([]byte, error) {
	v, err := r.db.Get(r.key(suffix))
	if err != nil {
		return nil, fmt.Errorf("store: get %s/%s: %w", r.namespace, suffix, err)
	}
	return v, nil
}

// Has reports whether suffix has a stored value.
func (r *Repository) Has(suffix string) (bool, error) {
	ok, err := r.db.Has(r.key(suffix))
	if err != nil {
		return false, fmt.Errorf("store: has %s/%s: %w", r.namespace, suffix, err)
	}
	return ok, nil
}

// Delete removes any value stored under suffix.
func (r *Repository) Delete(suffix string) error {
	if err := r.db.Delete(r.key(suffix)); err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", r.namespace, suffix, err)
	}
	return nil
}
