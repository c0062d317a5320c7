// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package evmread implements the historical-then-live EVM log reader: a
// chunked historical backfill from start_block to the chain tip,
// followed by a live subscription that gap-fills on every reconnect so
// that no block range is ever silently skipped.
package evmread

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/enclave-network/ciphernode-core/internal/errs"
	"github.com/enclave-network/ciphernode-core/internal/logging"
	"github.com/enclave-network/ciphernode-core/internal/store"
	"github.com/enclave-network/ciphernode-core/pkg/config"
	"github.com/enclave-network/ciphernode-core/pkg/event"
	"go.uber.org/zap"
)

// Provider is the subset of ethclient.Client the reader needs, narrowed
// to a small interface so tests can substitute a fake chain.
type Provider interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Publisher is the subset of bus.Bus the reader needs.
type Publisher interface {
	Publish(ctx context.Context, data event.Data) (event.Event, error)
}

// Extractor decodes one raw log into a domain event, reporting false if
// the log's topic0 isn't one this reader recognizes.
type Extractor func(log types.Log, chainID uint64) (event.Data, bool, error)

// readerState is the reader's persisted snapshot: the highest block whose
// logs have been fully processed, and the content-hash set of event ids
// already published, so a restart after a historical+live overlap never
// double-publishes. An exact set is used rather than the bus's own
// probabilistic Bloom dedup (internal/bus.bloomFilter): a false-positive
// here would silently drop a genuine new event, which this reader's
// at-least-once chain read cannot tolerate the way the bus's best-effort
// inter-node dedup can.
type readerState struct {
	LastBlock uint64          `json:"lastBlock"`
	Seen      map[string]bool `json:"seen"`
}

func newReaderState(startBlock uint64) readerState {
	lastBlock := uint64(0)
	if startBlock > 0 {
		lastBlock = startBlock - 1
	}
	return readerState{LastBlock: lastBlock, Seen: map[string]bool{}}
}

// Reader drives one chain's historical-then-live log ingestion into bus.
type Reader struct {
	log        logging.Logger
	bus        Publisher
	provider   Provider
	cfg        config.Config
	addresses  []common.Address
	extractors map[common.Hash]Extractor
	state      *store.Persistable[readerState]
}

// New returns a Reader for cfg's chain/contracts, decoding logs whose
// topic0 matches a key in extractors.
func New(bus Publisher, repo *store.Repository, provider Provider, cfg config.Config, extractors map[common.Hash]Extractor, log logging.Logger) *Reader {
	if log == nil {
		log = logging.NewNop()
	}
	addrs := make([]common.Address, len(cfg.ContractAddresses))
	for i, a := range cfg.ContractAddresses {
		addrs[i] = common.HexToAddress(a)
	}
	return &Reader{
		log:        logging.Named(log, "evmread"),
		bus:        bus,
		provider:   provider,
		cfg:        cfg,
		addresses:  addrs,
		extractors: extractors,
		state:      store.NewPersistable(repo, newReaderState(cfg.StartBlock)),
	}
}

// Run executes the full startup sequence and then blocks serving the live
// subscription until ctx is cancelled, unsubscribing cleanly on exit.
func (r *Reader) Run(ctx context.Context) error {
	if r.cfg.StartBlock == 0 && !r.cfg.IsLocalEndpoint() {
		return errs.New(errs.KindEVM, "evmread.Run", fmt.Errorf("%w", config.ErrInvalidStartBlock))
	}

	if _, err := r.state.Restore(); err != nil {
		return errs.New(errs.KindIO, "evmread.Run", err)
	}

	latest, err := r.provider.BlockNumber(ctx)
	if err != nil {
		return errs.New(errs.KindEVM, "evmread.Run/BlockNumber", err)
	}
	if err := r.backfill(ctx, latest); err != nil {
		return errs.New(errs.KindEVM, "evmread.Run/backfill", err)
	}
	if _, err := r.bus.Publish(ctx, event.HistoricalSyncComplete{ChainID: r.cfg.ChainID, LastID: r.state.Value().LastBlock}); err != nil {
		r.log.Error("publish historical sync complete", zap.Error(err))
	}

	return r.serveLive(ctx)
}

// backfill fetches every log between the last persisted block (exclusive)
// and to, in chunks no larger than BlockRangeCap, publishing as it goes.
func (r *Reader) backfill(ctx context.Context, to uint64) error {
	from := r.state.Value().LastBlock + 1
	for from <= to {
		chunkEnd := to
		if r.cfg.BlockRangeCap > 0 && chunkEnd-from+1 > r.cfg.BlockRangeCap {
			chunkEnd = from + r.cfg.BlockRangeCap - 1
		}
		if err := r.fetchAndPublish(ctx, from, chunkEnd); err != nil {
			return err
		}
		from = chunkEnd + 1
	}
	return nil
}

// serveLive subscribes to new logs and keeps the subscription alive,
// gap-filling from the last processed block on every drop — the sole
// guarantee against a missed event on RPC reconnection.
func (r *Reader) serveLive(ctx context.Context) error {
	backoff := r.cfg.ReconnectBaseDelay
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	maxBackoff := r.cfg.ReconnectMaxDelay
	if maxBackoff <= 0 {
		maxBackoff = 60 * time.Second
	}

	for {
		logCh := make(chan types.Log, 256)
		sub, err := r.provider.SubscribeFilterLogs(ctx, r.liveQuery(), logCh)
		if err != nil {
			r.log.Warn("subscribe filter logs failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			if !r.sleepOrDone(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = r.cfg.ReconnectBaseDelay
		if backoff <= 0 {
			backoff = 2 * time.Second
		}

	drain:
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return nil
			case subErr := <-sub.Err():
				sub.Unsubscribe()
				r.log.Warn("live log subscription dropped, gap-filling before resubscribe", zap.Error(subErr))
				break drain
			case l := <-logCh:
				if err := r.publishLog(ctx, l); err != nil {
					r.log.Error("publish live log", zap.Error(err))
				}
			}
		}

		if !r.sleepOrDone(ctx, backoff) {
			return nil
		}
		latest, err := r.provider.BlockNumber(ctx)
		if err != nil {
			r.log.Error("fetch latest block for gap-fill", zap.Error(err))
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		if err := r.backfill(ctx, latest); err != nil {
			r.log.Error("gap-fill backfill", zap.Error(err))
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

func (r *Reader) sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(cur, ceiling time.Duration) time.Duration {
	next := cur * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

func (r *Reader) liveQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{Addresses: r.addresses, Topics: [][]common.Hash{r.topics()}}
}

func (r *Reader) topics() []common.Hash {
	topics := make([]common.Hash, 0, len(r.extractors))
	for t := range r.extractors {
		topics = append(topics, t)
	}
	return topics
}

func (r *Reader) fetchAndPublish(ctx context.Context, from, to uint64) error {
	logs, err := r.provider.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: r.addresses,
		Topics:    [][]common.Hash{r.topics()},
	})
	if err != nil {
		return fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}
	for _, l := range logs {
		if err := r.publishLog(ctx, l); err != nil {
			return err
		}
	}
	_, err = r.state.TryMutate(store.EventContext{EventID: event.ComputeID([]byte(fmt.Sprintf("backfill/%d/%d", from, to)))}, func(old readerState) (readerState, error) {
		if to > old.LastBlock {
			old.LastBlock = to
		}
		return old, nil
	})
	return err
}

// publishLog decodes l and publishes the resulting domain event, skipping
// logs whose topic0 isn't registered or whose content-hash has already
// been seen.
func (r *Reader) publishLog(ctx context.Context, l types.Log) error {
	if len(l.Topics) == 0 {
		return nil
	}
	extract, ok := r.extractors[l.Topics[0]]
	if !ok {
		return nil
	}
	data, matched, err := extract(l, r.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("decode log at block %d: %w", l.BlockNumber, err)
	}
	if !matched {
		return nil
	}

	id := logContentID(l)
	if r.state.Value().Seen[id] {
		return nil
	}
	if _, err := r.state.TryMutate(store.EventContext{EventID: event.ComputeID([]byte(id))}, func(old readerState) (readerState, error) {
		old.Seen[id] = true
		if l.BlockNumber > old.LastBlock {
			old.LastBlock = l.BlockNumber
		}
		return old, nil
	}); err != nil {
		return err
	}

	_, err = r.bus.Publish(ctx, data)
	return err
}

// logContentID is the content-hashed identity the persisted dedup set
// needs: block + transaction + log index uniquely identify one EVM log
// regardless of how many times a reconnect re-fetches the range
// containing it.
func logContentID(l types.Log) string {
	return strings.Join([]string{
		l.TxHash.Hex(),
		l.BlockHash.Hex(),
		fmt.Sprintf("%d", l.Index),
	}, "/")
}
