// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chainwriter bridges aggregator outputs to the EVM write
// interface's activate(e3Id, publicKey) and
// publishPlaintextOutput(e3Id, plaintext) calls. It is a bus subscriber
// that turns PublicKeyAggregated and PlaintextAggregated into the
// matching internal/evmwrite.Call.
package chainwriter

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/enclave-network/ciphernode-core/internal/evmwrite"
	"github.com/enclave-network/ciphernode-core/internal/logging"
	"github.com/enclave-network/ciphernode-core/pkg/event"
	"go.uber.org/zap"
)

const (
	sigActivate               = "activate(bytes,bytes)"
	sigPublishPlaintextOutput = "publishPlaintextOutput(bytes,bytes)"
)

// Sender is the subset of evmwrite.Writer this package drives.
type Sender interface {
	Send(ctx context.Context, call evmwrite.Call) (receiptBlock uint64, err error)
}

// writerAdapter narrows evmwrite.Writer.Send's *types.Receipt return to
// just the block number chainwriter logs, so tests can supply a stub
// Sender without importing go-ethereum's types package.
type writerAdapter struct{ w *evmwrite.Writer }

func (a writerAdapter) Send(ctx context.Context, call evmwrite.Call) (uint64, error) {
	receipt, err := a.w.Send(ctx, call)
	if err != nil {
		return 0, err
	}
	return receipt.BlockNumber.Uint64(), nil
}

// NewSender adapts a concrete evmwrite.Writer to the Sender interface.
func NewSender(w *evmwrite.Writer) Sender { return writerAdapter{w: w} }

var bytesArgs = abi.Arguments{{Type: mustType("bytes")}, {Type: mustType("bytes")}}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Writer is the bus subscriber publishing aggregator results to chain.
type Writer struct {
	log    logging.Logger
	sender Sender
	to     common.Address
}

// New returns a Writer that submits every PublicKeyAggregated and
// PlaintextAggregated event it observes to the contract at to.
func New(sender Sender, to common.Address, log logging.Logger) *Writer {
	if log == nil {
		log = logging.NewNop()
	}
	return &Writer{log: logging.Named(log, "chainwriter"), sender: sender, to: to}
}

// Handle is the bus.Subscriber entry point; wire it to both
// TypePublicKeyAggregated and TypePlaintextAggregated.
func (w *Writer) Handle(evt event.Event) {
	ctx := context.Background()
	switch data := evt.Data.(type) {
	case event.PublicKeyAggregated:
		packed, err := bytesArgs.Pack(evmwrite.E3IDArcBytes(data.E3), []byte(data.PublicKey))
		if err != nil {
			w.log.Error("pack activate args", zap.Error(err))
			return
		}
		w.send(ctx, evmwrite.Activate(w.to, sigActivate, packed))

	case event.PlaintextAggregated:
		packed, err := bytesArgs.Pack(evmwrite.E3IDArcBytes(data.E3), []byte(data.DecryptedOutput))
		if err != nil {
			w.log.Error("pack publishPlaintextOutput args", zap.Error(err))
			return
		}
		w.send(ctx, evmwrite.PublishPlaintextOutput(w.to, sigPublishPlaintextOutput, packed))
	}
}

func (w *Writer) send(ctx context.Context, call evmwrite.Call) {
	block, err := w.sender.Send(ctx, call)
	if err != nil {
		w.log.Error("chain write failed", zap.String("label", call.Label), zap.Error(err))
		return
	}
	w.log.Info("chain write confirmed", zap.String("label", call.Label), zap.Uint64("block", block))
}
