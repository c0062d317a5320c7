// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netpeer

import "context"

// NoopGossip is a Gossip that never delivers anything: it drops every
// published frame and blocks in Next until ctx is cancelled. It is the
// bundled default cmd/ciphernode wires for standalone single-node
// operation, where no real libp2p topic handle has been configured, the
// same role store.MemoryDB plays for the KV store.
type NoopGossip struct{}

func (NoopGossip) Publish(context.Context, []byte) error { return nil }

func (NoopGossip) Next(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
