// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package netpeer implements the network-peer gossip bridge: a libp2p
// gossip subscription that pipes inbound messages into bus and pipes
// outbound bus events out. Transport details (peer dialing, pubsub mesh
// maintenance) are deliberately opaque; Gossip below is the narrow seam
// a real libp2p GossipSub topic handle fills, so this package owns only
// the framing and the local-only filter.
package netpeer

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/enclave-network/ciphernode-core/internal/clock"
	"github.com/enclave-network/ciphernode-core/internal/logging"
	"github.com/enclave-network/ciphernode-core/pkg/event"
	"go.uber.org/zap"
)

// Gossip is the subset of a libp2p pubsub topic handle this peer needs:
// publish a framed message, and receive framed messages off the topic.
// Peer dialing, mesh maintenance, and the wire transport itself are out
// of scope.
type Gossip interface {
	Publish(ctx context.Context, frame []byte) error
	Next(ctx context.Context) ([]byte, error)
}

// Bus is the subset of bus.Bus this peer needs: subscribing to every
// event to decide what to gossip out, and re-publishing what arrives from
// remote peers with their original HLC timestamp preserved.
type Bus interface {
	SubscribeAll(fn func(event.Event))
	PublishFromRemote(ctx context.Context, data event.Data, ts clock.Timestamp) (event.Event, error)
}

// Peer bridges one node's bus to one libp2p gossip topic.
type Peer struct {
	log    logging.Logger
	bus    Bus
	gossip Gossip
}

// New wires peer to bus: every non-local-only event bus delivers is
// framed and published to gossip; every frame gossip delivers is decoded
// and fed back into bus via PublishFromRemote.
func New(bus Bus, gossip Gossip, log logging.Logger) *Peer {
	if log == nil {
		log = logging.NewNop()
	}
	p := &Peer{log: logging.Named(log, "netpeer"), bus: bus, gossip: gossip}
	bus.SubscribeAll(p.onBusEvent)
	return p
}

// onBusEvent is the bus.Subscriber outbound half. E3Requested,
// CiphernodeSelected, CiphernodeAdded, CiphernodeRemoved,
// E3RequestComplete, and Shutdown are excluded from gossip, since those
// originate from the chain reader independently on every node and
// rebroadcasting them would create a feedback loop.
func (p *Peer) onBusEvent(evt event.Event) {
	if event.LocalOnly(evt.Data.Type()) {
		return
	}
	frame, err := EncodeFrame(evt)
	if err != nil {
		p.log.Error("encode gossip frame", zap.Error(err))
		return
	}
	if err := p.gossip.Publish(context.Background(), frame); err != nil {
		p.log.Error("publish gossip frame", zap.Error(err))
	}
}

// Run drains gossip.Next in a loop, feeding every decoded event into bus,
// until ctx is cancelled.
func (p *Peer) Run(ctx context.Context) error {
	for {
		frame, err := p.gossip.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("netpeer: receive frame: %w", err)
		}
		evt, err := DecodeFrame(frame)
		if err != nil {
			p.log.Warn("dropping malformed gossip frame", zap.Error(err))
			continue
		}
		if event.LocalOnly(evt.Data.Type()) {
			p.log.Warn("dropping local-only event received over gossip", zap.String("type", string(evt.Data.Type())))
			continue
		}
		if _, err := p.bus.PublishFromRemote(ctx, evt.Data, evt.TS); err != nil {
			p.log.Error("republish gossip event", zap.Error(err))
		}
	}
}

// EncodeFrame renders evt as a length-prefixed frame: a 4-byte
// big-endian length followed by evt's MarshalBinary payload.
func EncodeFrame(evt event.Event) ([]byte, error) {
	body, err := evt.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("netpeer: marshal event: %w", err)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// DecodeFrame reverses EncodeFrame.
func DecodeFrame(frame []byte) (event.Event, error) {
	if len(frame) < 4 {
		return event.Event{}, fmt.Errorf("netpeer: frame shorter than length prefix")
	}
	n := binary.BigEndian.Uint32(frame[:4])
	if uint32(len(frame)-4) != n {
		return event.Event{}, fmt.Errorf("netpeer: frame length mismatch: header=%d got=%d", n, len(frame)-4)
	}
	return event.UnmarshalEvent(frame[4:])
}
