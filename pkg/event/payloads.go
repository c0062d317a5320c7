// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package event

// --- Chain-originated events (Chain -> Node) ---

type CiphernodeAdded struct {
	Address  string `json:"address"`
	Index    uint64 `json:"index"`
	NumNodes uint64 `json:"numNodes"`
	ChainID  uint64 `json:"chainId"`
}

func (CiphernodeAdded) Type() Type             { return TypeCiphernodeAdded }
func (CiphernodeAdded) E3ID() (E3ID, bool)     { return E3ID{}, false }

type CiphernodeRemoved struct {
	Address string `json:"address"`
	Index   uint64 `json:"index"`
	ChainID uint64 `json:"chainId"`
}

func (CiphernodeRemoved) Type() Type         { return TypeCiphernodeRemoved }
func (CiphernodeRemoved) E3ID() (E3ID, bool) { return E3ID{}, false }

type E3Requested struct {
	E3       E3ID    `json:"e3Id"`
	ThresholdM uint32 `json:"thresholdM"`
	ThresholdN uint32 `json:"thresholdN"`
	Seed     Seed    `json:"seed"`
	Params   ArcBytes `json:"params"`
	EsiPerCt uint32  `json:"esiPerCt"`
	ErrorSize uint64 `json:"errorSize"`
}

func (e E3Requested) Type() Type             { return TypeE3Requested }
func (e E3Requested) E3ID() (E3ID, bool)     { return e.E3, true }

type CiphernodeSelected struct {
	E3       E3ID   `json:"e3Id"`
	Node     string `json:"node"`
	PartyID  *uint64 `json:"partyId,omitempty"`
	ThresholdN uint32 `json:"thresholdN"`
	ThresholdM uint32 `json:"thresholdM"`
	Seed     Seed   `json:"seed"`
	Params   ArcBytes `json:"params"`
	EsiPerCt  uint32 `json:"esiPerCt"`
	ErrorSize uint64 `json:"errorSize"`
}

func (e CiphernodeSelected) Type() Type         { return TypeCiphernodeSelected }
func (e CiphernodeSelected) E3ID() (E3ID, bool) { return e.E3, true }

type CommitteeFinalized struct {
	E3        E3ID     `json:"e3Id"`
	Committee []string `json:"committee"`
	ChainID   uint64   `json:"chainId"`
}

func (e CommitteeFinalized) Type() Type         { return TypeCommitteeFinalized }
func (e CommitteeFinalized) E3ID() (E3ID, bool) { return e.E3, true }

type CiphertextOutputPublished struct {
	E3               E3ID       `json:"e3Id"`
	CiphertextOutput []ArcBytes `json:"ciphertextOutput"`
}

func (e CiphertextOutputPublished) Type() Type         { return TypeCiphertextOutputPub }
func (e CiphertextOutputPublished) E3ID() (E3ID, bool) { return e.E3, true }

type PlaintextOutputPublished struct {
	E3        E3ID     `json:"e3Id"`
	Plaintext ArcBytes `json:"plaintext"`
}

func (e PlaintextOutputPublished) Type() Type         { return TypePlaintextOutputPub }
func (e PlaintextOutputPublished) E3ID() (E3ID, bool) { return e.E3, true }

type TicketBalanceUpdated struct {
	Operator   string `json:"operator"`
	ChainID    uint64 `json:"chainId"`
	NewBalance uint64 `json:"newBalance"`
}

func (TicketBalanceUpdated) Type() Type         { return TypeTicketBalanceUpdated }
func (TicketBalanceUpdated) E3ID() (E3ID, bool) { return E3ID{}, false }

type OperatorActivationChanged struct {
	Operator string `json:"operator"`
	Active   bool   `json:"active"`
}

func (OperatorActivationChanged) Type() Type         { return TypeOperatorActivationChange }
func (OperatorActivationChanged) E3ID() (E3ID, bool) { return E3ID{}, false }

type ConfigurationUpdated struct {
	ChainID   uint64 `json:"chainId"`
	Parameter string `json:"parameter"`
	Old       string `json:"old"`
	New       string `json:"new"`
}

func (ConfigurationUpdated) Type() Type         { return TypeConfigurationUpdated }
func (ConfigurationUpdated) E3ID() (E3ID, bool) { return E3ID{}, false }

// --- DKG / decryption protocol events ---

type KeyshareCreated struct {
	E3      E3ID     `json:"e3Id"`
	Node    string   `json:"node"`
	PartyID uint64   `json:"partyId"`
	PkShare ArcBytes `json:"pkShare"`
}

func (e KeyshareCreated) Type() Type         { return TypeKeyshareCreated }
func (e KeyshareCreated) E3ID() (E3ID, bool) { return e.E3, true }

type ThresholdShareCreated struct {
	E3      E3ID             `json:"e3Id"`
	PartyID uint64           `json:"partyId"`
	SkSSS   SensitiveBytes   `json:"skSss"`
	EsiSSS  []SensitiveBytes `json:"esiSss"`
}

func (e ThresholdShareCreated) Type() Type         { return TypeThresholdShareCreated }
func (e ThresholdShareCreated) E3ID() (E3ID, bool) { return e.E3, true }

type PublicKeyAggregated struct {
	E3        E3ID     `json:"e3Id"`
	PublicKey ArcBytes `json:"publicKey"`
	Committee []string `json:"committee"`
}

func (e PublicKeyAggregated) Type() Type         { return TypePublicKeyAggregated }
func (e PublicKeyAggregated) E3ID() (E3ID, bool) { return e.E3, true }

type DecryptionshareCreated struct {
	E3      E3ID     `json:"e3Id"`
	Node    string   `json:"node"`
	PartyID uint64   `json:"partyId"`
	Share   ArcBytes `json:"share"`
}

func (e DecryptionshareCreated) Type() Type         { return TypeDecryptionshareCreated }
func (e DecryptionshareCreated) E3ID() (E3ID, bool) { return e.E3, true }

type PlaintextAggregated struct {
	E3               E3ID     `json:"e3Id"`
	DecryptedOutput  ArcBytes `json:"decryptedOutput"`
}

func (e PlaintextAggregated) Type() Type         { return TypePlaintextAggregated }
func (e PlaintextAggregated) E3ID() (E3ID, bool) { return e.E3, true }

type E3RequestComplete struct {
	E3 E3ID `json:"e3Id"`
}

func (e E3RequestComplete) Type() Type         { return TypeE3RequestComplete }
func (e E3RequestComplete) E3ID() (E3ID, bool) { return e.E3, true }

type Shutdown struct{}

func (Shutdown) Type() Type         { return TypeShutdown }
func (Shutdown) E3ID() (E3ID, bool) { return E3ID{}, false }

// --- Compute dispatcher events ---

type ComputeKind string

const (
	ComputeGenPkShareAndSkSSS       ComputeKind = "GenPkShareAndSkSss"
	ComputeGenEsiSSS                ComputeKind = "GenEsiSss"
	ComputeAggregatePublicKey        ComputeKind = "AggregatePublicKey"
	ComputeCalculateDecryptionKey    ComputeKind = "CalculateDecryptionKey"
	ComputeCalculateDecryptionShare  ComputeKind = "CalculateDecryptionShare"
	ComputeCalculateThresholdDecrypt ComputeKind = "CalculateThresholdDecryption"
	ComputeZKProve                   ComputeKind = "ZkProve"
)

type ComputeRequest struct {
	E3            E3ID          `json:"e3Id"`
	Correlation   CorrelationID `json:"correlationId"`
	Kind          ComputeKind   `json:"kind"`
	Params        ArcBytes      `json:"params"`
	SensitiveArgs []SensitiveBytes `json:"sensitiveArgs,omitempty"`
}

func (e ComputeRequest) Type() Type         { return TypeComputeRequest }
func (e ComputeRequest) E3ID() (E3ID, bool) { return e.E3, true }

type ComputeResponse struct {
	E3          E3ID          `json:"e3Id"`
	Correlation CorrelationID `json:"correlationId"`
	Kind        ComputeKind   `json:"kind"`
	Payload     ArcBytes      `json:"payload"`
	Sensitive   SensitiveBytes `json:"sensitive,omitempty"`
	Duration    int64         `json:"durationNanos"`
}

func (e ComputeResponse) Type() Type         { return TypeComputeResponse }
func (e ComputeResponse) E3ID() (E3ID, bool) { return e.E3, true }

type ComputeRequestError struct {
	E3          E3ID          `json:"e3Id"`
	Correlation CorrelationID `json:"correlationId"`
	Kind        ComputeKind   `json:"kind"`
	Reason      string        `json:"reason"`
}

func (e ComputeRequestError) Type() Type         { return TypeComputeRequestError }
func (e ComputeRequestError) E3ID() (E3ID, bool) { return e.E3, true }

// ErrorEvent is the bus-visible error: an error kind and a message. The
// HLC timestamp of occurrence is the TS of the Event that carries it.
type ErrorEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (ErrorEvent) Type() Type         { return TypeErrorEvent }
func (ErrorEvent) E3ID() (E3ID, bool) { return E3ID{}, false }

// --- EVM reader lifecycle events ---

type HistoricalSyncComplete struct {
	ChainID uint64 `json:"chainId"`
	LastID  uint64 `json:"lastId"`
}

func (HistoricalSyncComplete) Type() Type         { return TypeHistoricalSyncComplete }
func (HistoricalSyncComplete) E3ID() (E3ID, bool) { return E3ID{}, false }

// --- Sortition synchronous queries ---

// E3CommitteeContainsRequest asks Sortition whether node is a member of
// e3's finalized committee; carries the original event verbatim so the
// asking aggregator can re-dispatch it once membership is known.
type E3CommitteeContainsRequest struct {
	E3       E3ID   `json:"e3Id"`
	Node     string `json:"node"`
	Original Data   `json:"-"`
}

func (e E3CommitteeContainsRequest) Type() Type         { return TypeE3CommitteeContainsRequest }
func (e E3CommitteeContainsRequest) E3ID() (E3ID, bool) { return e.E3, true }

type E3CommitteeContainsResponse struct {
	E3       E3ID   `json:"e3Id"`
	Node     string `json:"node"`
	IsMember bool   `json:"isMember"`
	PartyID  uint64 `json:"partyId"`
	Original Data   `json:"-"`
}

func (e E3CommitteeContainsResponse) Type() Type         { return TypeE3CommitteeContainsResponse }
func (e E3CommitteeContainsResponse) E3ID() (E3ID, bool) { return e.E3, true }
