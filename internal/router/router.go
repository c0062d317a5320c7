// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package router implements the E3 Request Router: the lifecycle manager
// that lazily builds a per-E3 context of actors on the first event naming
// that E3, forwards every subsequent event for that E3 into the context's
// populated actors (buffering events addressed to an actor that doesn't
// exist yet), and tears the context down once PlaintextAggregated closes
// the loop.
package router

import (
	"context"

	"github.com/enclave-network/ciphernode-core/internal/aggregator"
	"github.com/enclave-network/ciphernode-core/internal/bus"
	"github.com/enclave-network/ciphernode-core/internal/crypt"
	"github.com/enclave-network/ciphernode-core/internal/keyshare"
	"github.com/enclave-network/ciphernode-core/internal/logging"
	"github.com/enclave-network/ciphernode-core/internal/store"
	"github.com/enclave-network/ciphernode-core/pkg/event"
	"go.uber.org/zap"
)

// Publisher is the subset of bus.Bus the router needs.
type Publisher interface {
	Publish(ctx context.Context, data event.Data) (event.Event, error)
}

// Target names the three lazily-populated actor slots an e3Context
// holds; each entry is optional and gets populated lazily on the first
// relevant event.
const (
	targetKeyshare  = "keyshare"
	targetPublicKey = "publickey"
	targetPlaintext = "plaintext"
)

// e3Context is the per-E3 arena entry: a slot holding whichever actors
// this E3 has populated so far, plus an EventBuffer for the ones that
// haven't.
type e3Context struct {
	e3         event.E3ID
	repo       *store.Repository
	committee  []string
	thresholdM uint32
	thresholdN uint32
	keyshare   *keyshare.Keyshare
	publickey  *aggregator.PublicKeyAggregator
	plaintext  *aggregator.ThresholdPlaintextAggregator
	pending    *bus.EventBuffer
}

// routerState is the durable record of which E3 ids have already run to
// completion, so a restarting node doesn't resurrect a finished context
// for a replayed event.
type routerState struct {
	Completed map[string]bool `json:"completed"`
}

func newRouterState() routerState {
	return routerState{Completed: map[string]bool{}}
}

// Router owns every in-flight E3Context and the completed-E3 set.
type Router struct {
	log     logging.Logger
	bus     Publisher
	repo    *store.Repository
	node    string
	sealKey *crypt.Key

	contexts map[string]*e3Context
	state    *store.Persistable[routerState]
}

// New returns a Router that forwards events addressed to node. sealKey, if
// non-nil, is passed to every keyshare.Keyshare the router constructs so
// its secret state is sealed at rest.
func New(bus Publisher, repo *store.Repository, node string, sealKey *crypt.Key, log logging.Logger) *Router {
	if log == nil {
		log = logging.NewNop()
	}
	return &Router{
		log:      logging.Named(log, "router"),
		bus:      bus,
		repo:     repo,
		node:     node,
		sealKey:  sealKey,
		contexts: map[string]*e3Context{},
		state:    store.NewPersistable(repo, newRouterState()),
	}
}

// Restore reloads the completed-E3 set from the most recent durable
// snapshot, if any.
func (r *Router) Restore() (bool, error) {
	return r.state.Restore()
}

// Handle is the bus.Subscriber entry point, registered as a wildcard
// subscriber so the router sees every event type.
func (r *Router) Handle(evt event.Event) {
	if _, ok := evt.Data.(event.Shutdown); ok {
		r.broadcastShutdown(evt)
		return
	}

	e3id, ok := evt.Data.E3ID()
	if !ok {
		return // node-scoped event (e.g. CiphernodeAdded); not the router's concern
	}
	key := e3id.String()

	if r.state.Value().Completed[key] {
		r.log.Debug("dropping event for a completed E3", zap.String("e3", key), zap.String("type", string(evt.Data.Type())))
		return
	}

	ctx, exists := r.contexts[key]
	if !exists {
		ctx = &e3Context{e3: e3id, repo: r.repo.Sub(key), pending: bus.NewEventBuffer()}
		r.contexts[key] = ctx
	}

	r.populate(evt, ctx)
	r.forward(evt, ctx)

	if _, ok := evt.Data.(event.PlaintextAggregated); ok {
		if _, err := r.bus.Publish(context.Background(), event.E3RequestComplete{E3: e3id}); err != nil {
			r.log.Error("publish e3 request complete", zap.String("e3", key), zap.Error(err))
		}
	}

	if _, ok := evt.Data.(event.E3RequestComplete); ok {
		r.complete(key, ctx, evt)
	}
}

// populate builds whichever actor this event newly enables, then drains
// any events that had been held waiting for it.
func (r *Router) populate(evt event.Event, ctx *e3Context) {
	switch d := evt.Data.(type) {
	case event.E3Requested:
		ctx.thresholdM = d.ThresholdM
		ctx.thresholdN = d.ThresholdN

	case event.CiphernodeSelected:
		if ctx.keyshare != nil || d.Node != r.node {
			return
		}
		ctx.keyshare = keyshare.New(r.bus, ctx.repo.Sub(targetKeyshare), ctx.e3, r.node, r.sealKey, r.log)
		r.drain(ctx, targetKeyshare, ctx.keyshare.Handle)

	case event.CommitteeFinalized:
		if ctx.publickey != nil {
			return
		}
		ctx.committee = d.Committee
		requiredN := int(ctx.thresholdN)
		if requiredN == 0 {
			requiredN = len(d.Committee) // E3Requested's threshold_n was never observed; fall back to full committee
		}
		requiredM := int(ctx.thresholdM)
		if requiredM == 0 {
			requiredM = len(d.Committee) // E3Requested's threshold_m was never observed; fall back to full committee
		}
		ctx.publickey = aggregator.NewPublicKeyAggregator(r.bus, ctx.repo.Sub(targetPublicKey), ctx.e3, d.Committee, requiredN, r.log)
		ctx.plaintext = aggregator.NewThresholdPlaintextAggregator(r.bus, ctx.repo.Sub(targetPlaintext), ctx.e3, nil, requiredM, r.log)
		r.drain(ctx, targetPublicKey, ctx.publickey.Handle)
		r.drain(ctx, targetPlaintext, ctx.plaintext.Handle)
	}
}

func (r *Router) drain(ctx *e3Context, target string, handle func(event.Event)) {
	for _, held := range ctx.pending.Drain(target) {
		handle(held)
	}
}

// forward delivers evt to every populated actor in ctx, holding it for any
// target that doesn't exist yet.
func (r *Router) forward(evt event.Event, ctx *e3Context) {
	if ctx.keyshare != nil {
		ctx.keyshare.Handle(evt)
	} else {
		ctx.pending.Hold(targetKeyshare, evt)
	}
	if ctx.publickey != nil {
		ctx.publickey.Handle(evt)
	} else {
		ctx.pending.Hold(targetPublicKey, evt)
	}
	if ctx.plaintext != nil {
		ctx.plaintext.Handle(evt)
	} else {
		ctx.pending.Hold(targetPlaintext, evt)
	}
}

func (r *Router) complete(key string, ctx *e3Context, evt event.Event) {
	r.forward(evt, ctx)
	if _, err := r.state.TryMutate(store.EventContext{EventID: evt.ID}, func(old routerState) (routerState, error) {
		old.Completed[key] = true
		return old, nil
	}); err != nil {
		r.log.Error("record completed E3", zap.String("e3", key), zap.Error(err))
	}
	delete(r.contexts, key)
}

// broadcastShutdown forwards Shutdown to every live context's actors so
// each can release resources; it does not tear contexts down itself
// (E3RequestComplete is still the sole completion signal).
func (r *Router) broadcastShutdown(evt event.Event) {
	for _, ctx := range r.contexts {
		if ctx.keyshare != nil {
			ctx.keyshare.Handle(evt)
		}
		if ctx.publickey != nil {
			ctx.publickey.Handle(evt)
		}
		if ctx.plaintext != nil {
			ctx.plaintext.Handle(evt)
		}
	}
}
