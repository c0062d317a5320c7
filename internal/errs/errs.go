// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package errs implements the error-kind taxonomy every error that reaches
// the bus carries: a Kind, a human string, and (attached by the caller)
// the HLC timestamp of occurrence. It follows a plain sentinel-error idiom
// — sentinel errors plus fmt.Errorf("%w: …", Err…) wrapping — rather than
// a third-party error stack library; see DESIGN.md.
package errs

import "fmt"

// Kind classifies an error for bus-visible reporting and for callers that
// branch on failure category (e.g. the EVM writer deciding whether to
// resubmit).
type Kind string

const (
	KindEVM            Kind = "evm"
	KindIO             Kind = "io"
	KindCrypto         Kind = "crypto"
	KindZK             Kind = "zk"
	KindSerialization  Kind = "serialization"
	KindComputeRequest Kind = "compute_request"
	KindEVMRevert      Kind = "evm_revert"
	KindInvariant      Kind = "invariant"
)

// Error is the concrete error type carried on the bus and returned by
// internal operations that need to report a Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a Kind and an operation label.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
