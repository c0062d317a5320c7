// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package evmwrite implements the EVM Write Interface: every
// chain-writing call serializes behind one process-wide nonce mutex —
// acquire, fetch pending nonce, build+send+await receipt, release — so
// two concurrent writers sharing a signer never race on the same nonce.
// No retry beyond the provider's built-in fillers; the caller decides
// whether to resubmit.
package evmwrite

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/enclave-network/ciphernode-core/internal/errs"
	"github.com/enclave-network/ciphernode-core/internal/evmerr"
	"github.com/enclave-network/ciphernode-core/internal/logging"
	"github.com/enclave-network/ciphernode-core/pkg/event"
	"go.uber.org/zap"
)

// Provider is the subset of ethclient.Client the writer needs.
type Provider interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Call is one chain write's target: contract address, calldata, and a
// human label for logging/metrics.
type Call struct {
	Label string
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Writer serializes every Call behind a single process-wide nonce mutex
// shared by every chain-writing actor that uses the same signer.
type Writer struct {
	log      logging.Logger
	provider Provider
	key      *ecdsa.PrivateKey
	from     common.Address
	errTable *evmerr.Table

	nonceMu sync.Mutex
}

// New returns a Writer signing with key and decoding reverts via table
// (pass evmerr.NewTable() for the built-in defaults).
func New(provider Provider, key *ecdsa.PrivateKey, table *evmerr.Table, log logging.Logger) *Writer {
	if log == nil {
		log = logging.NewNop()
	}
	if table == nil {
		table = evmerr.NewTable()
	}
	from := cryptoPubkeyToAddress(key)
	return &Writer{
		log:      logging.Named(log, "evmwrite"),
		provider: provider,
		key:      key,
		from:     from,
		errTable: table,
	}
}

// Send submits call, holding the nonce mutex for the full
// acquire-fetch-build-send-await sequence, and waits for its receipt.
func (w *Writer) Send(ctx context.Context, call Call) (*types.Receipt, error) {
	w.nonceMu.Lock()
	defer w.nonceMu.Unlock()

	nonce, err := w.provider.PendingNonceAt(ctx, w.from)
	if err != nil {
		return nil, errs.New(errs.KindEVM, "evmwrite.Send/PendingNonceAt", err)
	}
	gasPrice, err := w.provider.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errs.New(errs.KindEVM, "evmwrite.Send/SuggestGasPrice", err)
	}
	chainID, err := w.provider.ChainID(ctx)
	if err != nil {
		return nil, errs.New(errs.KindEVM, "evmwrite.Send/ChainID", err)
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &call.To,
		Value:    value,
		Gas:      3_000_000,
		GasPrice: gasPrice,
		Data:     call.Data,
	})

	signer := types.NewEIP155Signer(chainID)
	signedTx, err := types.SignTx(tx, signer, w.key)
	if err != nil {
		return nil, errs.New(errs.KindEVM, "evmwrite.Send/SignTx", err)
	}

	if err := w.provider.SendTransaction(ctx, signedTx); err != nil {
		if decoded, ok := w.decodeRevert(err); ok {
			return nil, errs.New(errs.KindEVMRevert, "evmwrite.Send/"+call.Label, fmt.Errorf("%s: %w", decoded.String(), err))
		}
		return nil, errs.New(errs.KindEVM, "evmwrite.Send/SendTransaction", err)
	}

	receipt, err := bind.WaitMined(ctx, &waitMinedAdapter{w.provider}, signedTx)
	if err != nil {
		return nil, errs.New(errs.KindEVM, "evmwrite.Send/WaitMined", err)
	}
	w.log.Info("evm write confirmed", zap.String("label", call.Label), zap.Stringer("tx", signedTx.Hash()), zap.Uint64("block", receipt.BlockNumber.Uint64()))
	return receipt, nil
}

// decodeRevert reads hex revert data from err's ErrorData() method, when
// err has one, and decodes it via w.errTable; best-effort only, since
// the Provider interface above doesn't expose raw revert data directly.
func (w *Writer) decodeRevert(err error) (*evmerr.DecodedError, bool) {
	type dataError interface {
		ErrorData() interface{}
	}
	de, ok := err.(dataError)
	if !ok {
		return nil, false
	}
	raw, ok := de.ErrorData().(string)
	if !ok {
		return nil, false
	}
	data, convErr := hexToBytes(raw)
	if convErr != nil {
		return nil, false
	}
	return w.errTable.Decode(data)
}

// waitMinedAdapter narrows Provider to bind.DeployBackend's
// TransactionReceipt method for bind.WaitMined.
type waitMinedAdapter struct {
	Provider
}

func (a *waitMinedAdapter) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return a.Provider.TransactionReceipt(ctx, txHash)
}

func (a *waitMinedAdapter) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return a.Provider.CodeAt(ctx, account, blockNumber)
}

// --- Node -> Chain call builders ---

// RequestE3 builds the calldata for requestE3(...); the caller supplies
// the full Solidity function signature (for selector hashing) and the
// already ABI-packed argument bytes, since the contract ABI itself is out
// of scope for this core.
func RequestE3(to common.Address, sig string, packedArgs []byte) Call {
	return Call{Label: "requestE3", To: to, Data: append(selector(sig), packedArgs...)}
}

// Activate builds the calldata for activate(e3Id, publicKey).
func Activate(to common.Address, sig string, packedArgs []byte) Call {
	return Call{Label: "activate", To: to, Data: append(selector(sig), packedArgs...)}
}

// PublishCiphertextOutput builds the calldata for
// publishCiphertextOutput(e3Id, ciphertext, proof).
func PublishCiphertextOutput(to common.Address, sig string, packedArgs []byte) Call {
	return Call{Label: "publishCiphertextOutput", To: to, Data: append(selector(sig), packedArgs...)}
}

// PublishPlaintextOutput builds the calldata for
// publishPlaintextOutput(e3Id, plaintext).
func PublishPlaintextOutput(to common.Address, sig string, packedArgs []byte) Call {
	return Call{Label: "publishPlaintextOutput", To: to, Data: append(selector(sig), packedArgs...)}
}

// SubmitTicket builds the calldata for submitTicket(e3Id, ticketId).
func SubmitTicket(to common.Address, sig string, packedArgs []byte) Call {
	return Call{Label: "submitTicket", To: to, Data: append(selector(sig), packedArgs...)}
}

// E3IDArcBytes renders an E3ID for inclusion in calldata the caller packs
// itself, as the bytes of e3.String() ("chainID/id"); exported so callers
// building packedArgs share one encoding. internal/evmread does not decode
// this form: its extractors read the id as an on-chain uint256.
func E3IDArcBytes(e3 event.E3ID) []byte {
	return []byte(e3.String())
}
