// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package logging adapts github.com/luxfi/log's structured Logger into the
// one logger instance threaded through every ciphernode actor's
// constructor, plus a no-op logger for unit tests. Every actor receives a
// Logger already tagged with its component name rather than deriving one
// ad hoc.
package logging

import (
	"github.com/luxfi/log"
	"go.uber.org/zap"
)

// Logger is the structured logger every actor holds.
type Logger = log.Logger

// NewNop returns a Logger that discards everything, for tests and for
// components constructed before a real sink is wired.
func NewNop() Logger {
	return log.NewNoOpLogger()
}

// New returns the named production logger cmd/ciphernode wires at startup.
func New(name string) Logger {
	return log.NewLogger(name)
}

// Named returns l tagged with a "component" field, so every message an
// actor logs can be attributed to it without threading a name string
// through every call site.
func Named(l Logger, name string) Logger {
	if l == nil {
		return NewNop()
	}
	return l.With(zap.String("component", name))
}
