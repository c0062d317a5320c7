// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package event

import (
	"encoding/json"
	"fmt"

	"github.com/enclave-network/ciphernode-core/internal/clock"
)

// factory constructs a zero-valued Data for a wire Type so Unmarshal can
// json.Unmarshal straight into the concrete struct; every payload type in
// payloads.go registers itself below except E3CommitteeContainsRequest and
// E3CommitteeContainsResponse, which are not decoded from the wire.
var factory = map[Type]func() Data{
	TypeCiphernodeAdded:          func() Data { return &CiphernodeAdded{} },
	TypeCiphernodeRemoved:        func() Data { return &CiphernodeRemoved{} },
	TypeE3Requested:              func() Data { return &E3Requested{} },
	TypeCiphernodeSelected:       func() Data { return &CiphernodeSelected{} },
	TypeCommitteeFinalized:       func() Data { return &CommitteeFinalized{} },
	TypeCiphertextOutputPub:      func() Data { return &CiphertextOutputPublished{} },
	TypePlaintextOutputPub:       func() Data { return &PlaintextOutputPublished{} },
	TypeTicketBalanceUpdated:     func() Data { return &TicketBalanceUpdated{} },
	TypeOperatorActivationChange: func() Data { return &OperatorActivationChanged{} },
	TypeConfigurationUpdated:     func() Data { return &ConfigurationUpdated{} },
	TypeKeyshareCreated:          func() Data { return &KeyshareCreated{} },
	TypeThresholdShareCreated:    func() Data { return &ThresholdShareCreated{} },
	TypePublicKeyAggregated:      func() Data { return &PublicKeyAggregated{} },
	TypeDecryptionshareCreated:   func() Data { return &DecryptionshareCreated{} },
	TypePlaintextAggregated:      func() Data { return &PlaintextAggregated{} },
	TypeE3RequestComplete:        func() Data { return &E3RequestComplete{} },
	TypeShutdown:                 func() Data { return &Shutdown{} },
	TypeComputeRequest:           func() Data { return &ComputeRequest{} },
	TypeComputeResponse:          func() Data { return &ComputeResponse{} },
	TypeComputeRequestError:      func() Data { return &ComputeRequestError{} },
	TypeErrorEvent:               func() Data { return &ErrorEvent{} },
	TypeHistoricalSyncComplete:   func() Data { return &HistoricalSyncComplete{} },
}

// wireEnvelope is the on-wire shape for a gossiped Event: the content id
// and HLC timestamp the sender assigned at publish, plus the type-tagged
// JSON body. A length-prefixed binary frame wraps this envelope;
// framing lives in internal/netpeer, this struct is the payload that
// gets length-prefixed.
type wireEnvelope struct {
	ID   ID              `json:"id"`
	TS   clock.Timestamp `json:"ts"`
	Type Type            `json:"type"`
	Body json.RawMessage `json:"body"`
}

// MarshalBinary renders e as its JSON wire envelope (id, HLC timestamp,
// type, body); it adds no length prefix, which internal/netpeer applies.
func (e Event) MarshalBinary() ([]byte, error) {
	body, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("event: marshal body: %w", err)
	}
	return json.Marshal(wireEnvelope{ID: e.ID, TS: e.TS, Type: e.Data.Type(), Body: body})
}

// UnmarshalEvent reverses MarshalBinary, reconstructing the concrete Data
// variant from its registered factory.
func UnmarshalEvent(raw []byte) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("event: unmarshal envelope: %w", err)
	}
	ctor, ok := factory[env.Type]
	if !ok {
		return Event{}, fmt.Errorf("event: unknown wire type %q", env.Type)
	}
	data := ctor()
	if err := json.Unmarshal(env.Body, data); err != nil {
		return Event{}, fmt.Errorf("event: unmarshal body for %q: %w", env.Type, err)
	}
	return Event{ID: env.ID, TS: env.TS, Data: unwrapPointer(data)}, nil
}

// unwrapPointer dereferences the pointer factory produced back into the
// value type every Data method set in payloads.go is defined on, so
// Event.Data compares equal to locally-constructed events of the same
// variant.
func unwrapPointer(d Data) Data {
	switch v := d.(type) {
	case *CiphernodeAdded:
		return *v
	case *CiphernodeRemoved:
		return *v
	case *E3Requested:
		return *v
	case *CiphernodeSelected:
		return *v
	case *CommitteeFinalized:
		return *v
	case *CiphertextOutputPublished:
		return *v
	case *PlaintextOutputPublished:
		return *v
	case *TicketBalanceUpdated:
		return *v
	case *OperatorActivationChanged:
		return *v
	case *ConfigurationUpdated:
		return *v
	case *KeyshareCreated:
		return *v
	case *ThresholdShareCreated:
		return *v
	case *PublicKeyAggregated:
		return *v
	case *DecryptionshareCreated:
		return *v
	case *PlaintextAggregated:
		return *v
	case *E3RequestComplete:
		return *v
	case *Shutdown:
		return *v
	case *ComputeRequest:
		return *v
	case *ComputeResponse:
		return *v
	case *ComputeRequestError:
		return *v
	case *ErrorEvent:
		return *v
	case *HistoricalSyncComplete:
		return *v
	default:
		return d
	}
}
