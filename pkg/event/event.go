// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package event

import (
	"encoding/json"
	"fmt"

	"github.com/enclave-network/ciphernode-core/internal/clock"
)

// Type identifies one of the EnclaveEventData variants carried on the bus.
type Type string

const (
	TypeCiphernodeAdded          Type = "CiphernodeAdded"
	TypeCiphernodeRemoved        Type = "CiphernodeRemoved"
	TypeE3Requested              Type = "E3Requested"
	TypeCiphernodeSelected       Type = "CiphernodeSelected"
	TypeCommitteeFinalized       Type = "CommitteeFinalized"
	TypeCiphertextOutputPub      Type = "CiphertextOutputPublished"
	TypePlaintextOutputPub       Type = "PlaintextOutputPublished"
	TypeTicketBalanceUpdated     Type = "TicketBalanceUpdated"
	TypeOperatorActivationChange Type = "OperatorActivationChanged"
	TypeConfigurationUpdated     Type = "ConfigurationUpdated"

	TypeKeyshareCreated        Type = "KeyshareCreated"
	TypeThresholdShareCreated  Type = "ThresholdShareCreated"
	TypePublicKeyAggregated    Type = "PublicKeyAggregated"
	TypeDecryptionshareCreated Type = "DecryptionshareCreated"
	TypePlaintextAggregated    Type = "PlaintextAggregated"
	TypeE3RequestComplete      Type = "E3RequestComplete"
	TypeShutdown               Type = "Shutdown"

	TypeComputeRequest      Type = "ComputeRequest"
	TypeComputeResponse     Type = "ComputeResponse"
	TypeComputeRequestError Type = "ComputeRequestError"
	TypeErrorEvent          Type = "ErrorEvent"

	TypeHistoricalSyncComplete        Type = "HistoricalSyncComplete"
	TypeE3CommitteeContainsRequest    Type = "E3CommitteeContainsRequest"
	TypeE3CommitteeContainsResponse   Type = "E3CommitteeContainsResponse"
)

// Data is implemented by every concrete event payload. E3ID returns the
// zero value for node-scoped events that are not tied to one E3 run
// (Shutdown, CiphernodeAdded/Removed).
type Data interface {
	Type() Type
	E3ID() (E3ID, bool)
}

// LocalOnly reports whether an event type must never be gossiped to
// peers: these originate from the chain reader independently on every
// node, so rebroadcasting them would create a feedback loop.
func LocalOnly(t Type) bool {
	switch t {
	case TypeE3Requested, TypeCiphernodeSelected, TypeCiphernodeAdded,
		TypeCiphernodeRemoved, TypeE3RequestComplete, TypeShutdown:
		return true
	default:
		return false
	}
}

// Event is the content-addressed envelope carried on the bus.
type Event struct {
	ID   ID
	TS   clock.Timestamp
	Data Data
}

// envelope is the canonical on-disk/on-wire shape used to compute an
// Event's content hash and to (de)serialize it; keeping it separate from
// Event avoids hashing the HLC timestamp non-determinism some transports
// might introduce, so an event's id is a hash of its data alone.
type envelope struct {
	Type Type            `json:"type"`
	Body json.RawMessage `json:"body"`
}

// NewEvent assigns a content hash to data and returns the Event; it does
// NOT assign a timestamp — callers get that from the clock via the bus's
// publish path, so ts is assigned exactly once, at the first publish on
// the originating node.
func NewEvent(data Data) (Event, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event body: %w", err)
	}
	env := envelope{Type: data.Type(), Body: body}
	canon, err := json.Marshal(env)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event envelope: %w", err)
	}
	return Event{ID: ComputeID(canon), Data: data}, nil
}
