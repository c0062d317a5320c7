// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crypt encrypts secrets in persisted snapshots under a
// node-local symmetric key. A Key is derived from the operator's
// passphrase via scrypt; Seal/Open wrap golang.org/x/crypto/chacha20poly1305,
// and SealedJSONCodec adapts that into an internal/store.Codec so any
// Persistable carrying SensitiveBytes can opt into encryption at rest
// with a single WithCodec call.
package crypt

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// Key is the 32-byte symmetric key every sealed snapshot on this node is
// encrypted under.
type Key [32]byte

// scrypt cost parameters; N=1<<15 is tuned for an interactive unlock at
// process start rather than a high-throughput path.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// DeriveKey derives a Key from passphrase and salt. salt should be at
// least 16 bytes and stable across restarts (e.g. the node's address),
// so the same passphrase always derives the same key.
func DeriveKey(passphrase, salt []byte) (Key, error) {
	var key Key
	raw, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, len(key))
	if err != nil {
		return Key{}, fmt.Errorf("crypt: derive key: %w", err)
	}
	copy(key[:], raw)
	return key, nil
}

// Seal encrypts plaintext, returning nonce||ciphertext||tag.
func Seal(key Key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypt: new aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypt: read nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func Open(key Key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypt: new aead: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("crypt: sealed value shorter than nonce")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypt: open: %w", err)
	}
	return plaintext, nil
}

// SealedJSONCodec is a store.Codec[T] (duck-typed — internal/store takes
// any type with this shape) that JSON-encodes a value and then seals it
// under key, so Persistable[T] snapshots of T never touch the KV store in
// the clear.
type SealedJSONCodec[T any] struct {
	key Key
}

// NewSealedJSONCodec returns a codec sealing every snapshot under key.
func NewSealedJSONCodec[T any](key Key) *SealedJSONCodec[T] {
	return &SealedJSONCodec[T]{key: key}
}

func (c *SealedJSONCodec[T]) Marshal(v T) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("crypt: marshal: %w", err)
	}
	return Seal(c.key, plain)
}

func (c *SealedJSONCodec[T]) Unmarshal(b []byte) (T, error) {
	var zero T
	plain, err := Open(c.key, b)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(plain, &v); err != nil {
		return zero, fmt.Errorf("crypt: unmarshal: %w", err)
	}
	return v, nil
}
