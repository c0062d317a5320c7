// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command ciphernode runs one Enclave/E3 ciphernode: it wires the bus,
// task pool, and every coordination actor into one process, reads the
// chain's E3 lifecycle events, drives the threshold protocol locally, and
// writes the resulting public key / plaintext back on chain. Flags use a
// bare flag.FlagSet rather than a cobra multi-command tree, since this
// binary has a single mode of operation.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/enclave-network/ciphernode-core/internal/bus"
	"github.com/enclave-network/ciphernode-core/internal/chainwriter"
	"github.com/enclave-network/ciphernode-core/internal/clock"
	"github.com/enclave-network/ciphernode-core/internal/compute"
	"github.com/enclave-network/ciphernode-core/internal/crypt"
	"github.com/enclave-network/ciphernode-core/internal/evmerr"
	"github.com/enclave-network/ciphernode-core/internal/evmread"
	"github.com/enclave-network/ciphernode-core/internal/evmwrite"
	"github.com/enclave-network/ciphernode-core/internal/healthapi"
	"github.com/enclave-network/ciphernode-core/internal/logging"
	"github.com/enclave-network/ciphernode-core/internal/metrics"
	"github.com/enclave-network/ciphernode-core/internal/netpeer"
	"github.com/enclave-network/ciphernode-core/internal/router"
	"github.com/enclave-network/ciphernode-core/internal/sortition"
	"github.com/enclave-network/ciphernode-core/internal/store"
	"github.com/enclave-network/ciphernode-core/internal/taskpool"
	"github.com/enclave-network/ciphernode-core/internal/trbfv"
	"github.com/enclave-network/ciphernode-core/pkg/config"
	"github.com/enclave-network/ciphernode-core/pkg/event"
)

// decryptionShareLen is the fixed byte length trbfv.Reference gives every
// secret-key and error share it generates.
const decryptionShareLen = 32

func main() {
	configPath := flag.String("config", "", "path to the node's YAML configuration file")
	nodeAddress := flag.String("node-address", "", "this node's EVM address identity, as it appears in the on-chain committee")
	healthAddr := flag.String("health-addr", "", "optional address to serve /healthz and /metrics on, e.g. :8090 (disabled if empty)")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "ciphernode: -config is required")
		os.Exit(1)
	}
	if *nodeAddress == "" {
		fmt.Fprintln(os.Stderr, "ciphernode: -node-address is required")
		os.Exit(1)
	}

	log := logging.New("ciphernode")
	if err := run(*configPath, *nodeAddress, *healthAddr, log); err != nil {
		log.Error("ciphernode exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(configPath, nodeAddress, healthAddr string, log logging.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	clk := clock.New(cfg.NodeID)
	b := bus.New(clk, log, bus.Config{
		BloomCapacity:     cfg.BloomCapacity,
		BloomFalsePosRate: cfg.BloomFalsePosRate,
		QueueDepth:        4096,
	})
	defer b.Close()

	repo := store.NewRepository(store.NewMemoryDB(), fmt.Sprintf("node-%d", cfg.NodeID))

	sealKey, err := deriveSealKey(cfg)
	if err != nil {
		return fmt.Errorf("derive seal key: %w", err)
	}

	rtr := router.New(b, repo, nodeAddress, sealKey, log)
	if _, err := rtr.Restore(); err != nil {
		return fmt.Errorf("restore router state: %w", err)
	}
	b.SubscribeAll(rtr.Handle)

	sortitionRegistry := sortition.New(b, repo, cfg.TicketPrice, log)
	if _, err := sortitionRegistry.Restore(); err != nil {
		return fmt.Errorf("restore sortition state: %w", err)
	}
	b.SubscribeAll(sortitionRegistry.Handle)

	pool := taskpool.New(taskpool.Config{
		Workers:     cfg.TaskPoolWorkers,
		QueueSize:   cfg.TaskPoolQueueSize,
		SoftTimeout: cfg.TaskSoftTimeout,
		HardTimeout: cfg.TaskHardTimeout,
	}, log)

	rng, err := newRng(cfg)
	if err != nil {
		return fmt.Errorf("seed rng: %w", err)
	}
	disp := compute.New(b, pool, trbfv.NewReference(decryptionShareLen), rng, log)
	// A concrete zkproof.Prover (one that actually generates a ZK circuit's
	// witness) is deployment-specific and not wired here; ComputeZKProve
	// requests fail fast until one is attached via WithProver.
	b.Subscribe(event.TypeComputeRequest, disp.Handle)

	chainClient, err := ethclient.DialContext(ctx, cfg.ChainHTTPRPC)
	if err != nil {
		return fmt.Errorf("dial chain http rpc: %w", err)
	}

	reader := evmread.New(b, repo, chainClient, cfg, evmread.DefaultExtractors(), log)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return reader.Run(groupCtx) })

	if signerKey, ok, err := loadSignerKey(cfg.SignerKeyPath); err != nil {
		return fmt.Errorf("load signer key: %w", err)
	} else if ok {
		writer := evmwrite.New(chainClient, signerKey, evmerr.NewTable(), log)
		contract, err := firstContractAddress(cfg)
		if err != nil {
			return err
		}
		cw := chainwriter.New(chainwriter.NewSender(writer), contract, log)
		b.Subscribe(event.TypePublicKeyAggregated, cw.Handle)
		b.Subscribe(event.TypePlaintextAggregated, cw.Handle)
	} else {
		log.Warn("no signer key configured; this node will read chain state but never submit transactions")
	}

	// No concrete libp2p gossip topic is wired here (peer transport is
	// treated as opaque); NoopGossip keeps the node runnable standalone.
	peer := netpeer.New(b, netpeer.NoopGossip{}, log)
	group.Go(func() error { return peer.Run(groupCtx) })

	if healthAddr != "" {
		hs := healthapi.New(healthAddr, b, m, log)
		group.Go(func() error { return hs.Run(groupCtx) })
	}

	log.Info("ciphernode started", zap.Uint64("nodeId", cfg.NodeID), zap.Uint64("chainId", cfg.ChainID), zap.String("address", nodeAddress))

	<-ctx.Done()
	log.Info("shutdown signal received")
	if _, err := b.Publish(context.Background(), event.Shutdown{}); err != nil {
		log.Error("publish shutdown event", zap.Error(err))
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.WaitContext(waitCtx); err != nil {
		log.Warn("task pool did not drain before shutdown deadline", zap.Error(err))
	}

	if err := group.Wait(); err != nil && groupCtx.Err() == nil {
		return fmt.Errorf("actor loop: %w", err)
	}
	return nil
}

// deriveSealKey derives the router/keyshare secret-sealing key from the
// node's passphrase, or returns nil when none is configured (test builds
// using RNGSeed instead, per config.Verify's exception).
func deriveSealKey(cfg config.Config) (*crypt.Key, error) {
	if cfg.NodePassphrase == "" {
		return nil, nil
	}
	salt := make([]byte, 16)
	copy(salt, "ciphernode-node-")
	binary.BigEndian.PutUint64(salt[8:], cfg.NodeID)
	key, err := crypt.DeriveKey([]byte(cfg.NodePassphrase), salt)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// newRng seeds the node's shared trbfv.Rng from cfg.RNGSeed when set (test
// builds wanting reproducible runs), otherwise from crypto/rand so
// production kernel calls are unpredictable. Committee draws do not use
// it: sortition seeds its draw from each E3's Seed.
func newRng(cfg config.Config) (trbfv.Rng, error) {
	if cfg.RNGSeed != nil {
		return trbfv.NewSeededRng(*cfg.RNGSeed), nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, fmt.Errorf("generate rng seed: %w", err)
	}
	return trbfv.NewSeededRng(n.Int64()), nil
}

// loadSignerKey reads an ECDSA private key from path, reporting ok=false
// when path is empty (no signer configured, a read-only node).
func loadSignerKey(path string) (key *ecdsa.PrivateKey, ok bool, err error) {
	if path == "" {
		return nil, false, nil
	}
	k, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, false, fmt.Errorf("load ECDSA key from %s: %w", path, err)
	}
	return k, true, nil
}

func firstContractAddress(cfg config.Config) (common.Address, error) {
	if len(cfg.ContractAddresses) == 0 {
		return common.Address{}, fmt.Errorf("no contract address configured for chain writes")
	}
	return common.HexToAddress(cfg.ContractAddresses[0]), nil
}
