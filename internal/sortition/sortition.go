// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sortition implements the ticket-balance registry and committee
// draw: it tracks which addresses are known and activated, how many
// tickets each holds, and how many E3 jobs each is currently serving,
// then answers every E3Requested with a deterministic, weighted,
// without-replacement committee draw over that registry.
package sortition

import (
	"context"

	"github.com/enclave-network/ciphernode-core/internal/logging"
	"github.com/enclave-network/ciphernode-core/internal/store"
	"github.com/enclave-network/ciphernode-core/pkg/event"
	"go.uber.org/zap"
)

// OperatorRecord is one tracked address's standing within a chain's
// registry.
type OperatorRecord struct {
	Address       string `json:"address"`
	ChainID       uint64 `json:"chainId"`
	TicketBalance uint64 `json:"ticketBalance"`
	ActiveJobs    uint64 `json:"activeJobs"`
	Active        bool   `json:"active"`
}

// Registry is the full persisted state of one Sortition instance: every
// known operator plus every committee drawn so far, keyed by E3ID.String()
// with party_id equal to the index into the slice.
type Registry struct {
	Operators  map[string]*OperatorRecord `json:"operators"`
	Committees map[string][]string        `json:"committees"`
}

func newRegistry() Registry {
	return Registry{Operators: map[string]*OperatorRecord{}, Committees: map[string][]string{}}
}

// Publisher is the subset of bus.Bus Sortition needs.
type Publisher interface {
	Publish(ctx context.Context, data event.Data) (event.Event, error)
}

// Sortition is the bus subscriber implementing the registry and draw.
type Sortition struct {
	log         logging.Logger
	bus         Publisher
	state       *store.Persistable[Registry]
	ticketPrice uint64
}

// New returns a Sortition backed by repo, charging ticketPrice tickets per
// available job slot. A ticketPrice of zero is treated as one.
func New(bus Publisher, repo *store.Repository, ticketPrice uint64, log logging.Logger) *Sortition {
	if log == nil {
		log = logging.NewNop()
	}
	if ticketPrice == 0 {
		ticketPrice = 1
	}
	return &Sortition{
		log:         logging.Named(log, "sortition"),
		bus:         bus,
		state:       store.NewPersistable(repo, newRegistry()),
		ticketPrice: ticketPrice,
	}
}

// Restore reloads the registry from the most recent durable snapshot, if
// any, so a restarting node resumes with the ticket balances and finalized
// committees it had before it went down.
func (s *Sortition) Restore() (bool, error) {
	return s.state.Restore()
}

// Handle is the bus.Subscriber entry point.
func (s *Sortition) Handle(evt event.Event) {
	ctx := context.Background()
	mutCtx := store.EventContext{EventID: evt.ID}

	switch data := evt.Data.(type) {
	case event.CiphernodeAdded:
		if _, err := s.state.TryMutate(mutCtx, func(old Registry) (Registry, error) {
			if _, exists := old.Operators[data.Address]; !exists {
				old.Operators[data.Address] = &OperatorRecord{
					Address: data.Address,
					ChainID: data.ChainID,
					Active:  true,
				}
			}
			return old, nil
		}); err != nil {
			s.log.Error("record ciphernode added", zap.String("address", data.Address), zap.Error(err))
		}

	case event.CiphernodeRemoved:
		if _, err := s.state.TryMutate(mutCtx, func(old Registry) (Registry, error) {
			delete(old.Operators, data.Address)
			return old, nil
		}); err != nil {
			s.log.Error("record ciphernode removed", zap.String("address", data.Address), zap.Error(err))
		}

	case event.TicketBalanceUpdated:
		if _, err := s.state.TryMutate(mutCtx, func(old Registry) (Registry, error) {
			op, ok := old.Operators[data.Operator]
			if !ok {
				op = &OperatorRecord{Address: data.Operator, ChainID: data.ChainID}
				old.Operators[data.Operator] = op
			}
			op.TicketBalance = data.NewBalance
			return old, nil
		}); err != nil {
			s.log.Error("record ticket balance update", zap.String("operator", data.Operator), zap.Error(err))
		}

	case event.OperatorActivationChanged:
		if _, err := s.state.TryMutate(mutCtx, func(old Registry) (Registry, error) {
			op, ok := old.Operators[data.Operator]
			if !ok {
				op = &OperatorRecord{Address: data.Operator}
				old.Operators[data.Operator] = op
			}
			op.Active = data.Active
			return old, nil
		}); err != nil {
			s.log.Error("record operator activation change", zap.String("operator", data.Operator), zap.Error(err))
		}

	case event.PlaintextOutputPublished:
		if _, err := s.state.TryMutate(mutCtx, func(old Registry) (Registry, error) {
			committee := old.Committees[data.E3.String()]
			for _, addr := range committee {
				if op, ok := old.Operators[addr]; ok && op.ActiveJobs > 0 {
					op.ActiveJobs--
				}
			}
			return old, nil
		}); err != nil {
			s.log.Error("release committee job slots", zap.String("e3", data.E3.String()), zap.Error(err))
		}

	case event.E3Requested:
		s.handleE3Requested(ctx, mutCtx, data)

	case event.E3CommitteeContainsRequest:
		s.handleContainsRequest(ctx, data)
	}
}

func (s *Sortition) handleE3Requested(ctx context.Context, mutCtx store.EventContext, req event.E3Requested) {
	reg, err := s.state.TryMutate(mutCtx, func(old Registry) (Registry, error) {
		committee := selectCommittee(req.Seed, old.Operators, s.ticketPrice, int(req.ThresholdN))
		old.Committees[req.E3.String()] = committee
		for _, addr := range committee {
			old.Operators[addr].ActiveJobs++
		}
		return old, nil
	})
	if err != nil {
		s.log.Error("draw committee", zap.String("e3", req.E3.String()), zap.Error(err))
		return
	}

	committee := reg.Committees[req.E3.String()]
	if len(committee) < int(req.ThresholdN) {
		s.log.Warn("insufficient eligible operators for committee draw",
			zap.String("e3", req.E3.String()), zap.Int("selected", len(committee)), zap.Uint32("wanted", req.ThresholdN))
	}

	for i, addr := range committee {
		partyID := uint64(i)
		if _, err := s.bus.Publish(ctx, event.CiphernodeSelected{
			E3:         req.E3,
			Node:       addr,
			PartyID:    &partyID,
			ThresholdN: req.ThresholdN,
			ThresholdM: req.ThresholdM,
			Seed:       req.Seed,
			Params:     req.Params,
			EsiPerCt:   req.EsiPerCt,
			ErrorSize:  req.ErrorSize,
		}); err != nil {
			s.log.Error("publish ciphernode selected", zap.String("node", addr), zap.Error(err))
		}
	}

	if _, err := s.bus.Publish(ctx, event.CommitteeFinalized{
		E3:        req.E3,
		Committee: committee,
		ChainID:   req.E3.ChainID,
	}); err != nil {
		s.log.Error("publish committee finalized", zap.String("e3", req.E3.String()), zap.Error(err))
	}
}

func (s *Sortition) handleContainsRequest(ctx context.Context, req event.E3CommitteeContainsRequest) {
	reg := s.state.Value()
	committee := reg.Committees[req.E3.String()]

	resp := event.E3CommitteeContainsResponse{E3: req.E3, Node: req.Node, Original: req.Original}
	for i, addr := range committee {
		if addr == req.Node {
			resp.IsMember = true
			resp.PartyID = uint64(i)
			break
		}
	}
	if _, err := s.bus.Publish(ctx, resp); err != nil {
		s.log.Error("publish committee contains response", zap.String("e3", req.E3.String()), zap.Error(err))
	}
}
