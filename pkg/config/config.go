// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines the ciphernode process configuration: the RPC
// endpoint, chain id, contract addresses, and node identity that make
// up the process environment, plus the ambient sizing knobs the task
// pool, bus, and EVM reader need. It is a plain struct with yaml/json
// tags, a fluent Builder, and a Verify() method that returns one of a
// small set of sentinel errors.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingChainRPC      = errors.New("chain HTTP RPC url is required")
	ErrMissingWSRPC         = errors.New("chain WS RPC url is required")
	ErrNoContractAddresses  = errors.New("at least one contract address is required")
	ErrInvalidTaskPoolSize  = errors.New("task pool size must be >= 1")
	ErrInvalidQueueDepth    = errors.New("task pool queue depth must be >= 1")
	ErrInvalidTimeoutOrder  = errors.New("hard timeout must be >= soft timeout")
	ErrMissingPassphrase    = errors.New("node symmetric passphrase is required outside test builds")
	ErrInvalidStartBlock    = errors.New("start_block must be > 0 unless the RPC endpoint is local")
	ErrInvalidBloomCapacity = errors.New("bloom filter capacity must be >= 1")
)

// Config holds every knob the ciphernode process needs at startup.
type Config struct {
	// Identity
	NodeID  uint64 `json:"nodeId" yaml:"nodeId"`
	ChainID uint64 `json:"chainId" yaml:"chainId"`

	// Chain connectivity
	ChainHTTPRPC       string   `json:"chainHttpRpc" yaml:"chainHttpRpc"`
	ChainWSRPC         string   `json:"chainWsRpc" yaml:"chainWsRpc"`
	ContractAddresses  []string `json:"contractAddresses" yaml:"contractAddresses"`
	StartBlock         uint64   `json:"startBlock" yaml:"startBlock"`
	SignerKeyPath      string   `json:"signerKeyPath" yaml:"signerKeyPath"`
	BlockRangeCap      uint64   `json:"blockRangeCap" yaml:"blockRangeCap"`
	ReconnectBaseDelay time.Duration `json:"reconnectBaseDelay" yaml:"reconnectBaseDelay"`
	ReconnectMaxDelay  time.Duration `json:"reconnectMaxDelay" yaml:"reconnectMaxDelay"`

	// Networking (gossip)
	BootstrapPeers []string `json:"bootstrapPeers" yaml:"bootstrapPeers"`
	QUICPort       int      `json:"quicPort,omitempty" yaml:"quicPort,omitempty"`
	EnableMDNS     bool     `json:"enableMdns,omitempty" yaml:"enableMdns,omitempty"`

	// Secrets
	NodePassphrase string `json:"-" yaml:"-"`
	RNGSeed        *int64 `json:"rngSeed,omitempty" yaml:"rngSeed,omitempty"` // test builds only

	// Task pool sizing
	TaskPoolWorkers   int           `json:"taskPoolWorkers" yaml:"taskPoolWorkers"`
	TaskPoolQueueSize int           `json:"taskPoolQueueSize" yaml:"taskPoolQueueSize"`
	TaskSoftTimeout   time.Duration `json:"taskSoftTimeout" yaml:"taskSoftTimeout"`
	TaskHardTimeout   time.Duration `json:"taskHardTimeout" yaml:"taskHardTimeout"`

	// Bus
	BloomCapacity    uint          `json:"bloomCapacity" yaml:"bloomCapacity"`
	BloomFalsePosRate float64      `json:"bloomFalsePosRate" yaml:"bloomFalsePosRate"`

	// Sortition defaults, overridden per-E3Requested event
	TicketPrice uint64 `json:"ticketPrice" yaml:"ticketPrice"`
}

// IsLocalEndpoint reports whether the chain HTTP or WS RPC points at a
// loopback address, the sole exception to the "start_block must be nonzero" rule.
func (c Config) IsLocalEndpoint() bool {
	return isLocalHost(c.ChainHTTPRPC) || isLocalHost(c.ChainWSRPC)
}

// Verify validates the configuration, returning the first violated
// invariant as one of the sentinel Err* values wrapped with detail.
func (c Config) Verify() error {
	if c.ChainHTTPRPC == "" {
		return ErrMissingChainRPC
	}
	if c.ChainWSRPC == "" {
		return ErrMissingWSRPC
	}
	if len(c.ContractAddresses) == 0 {
		return ErrNoContractAddresses
	}
	if c.StartBlock == 0 && !c.IsLocalEndpoint() {
		return ErrInvalidStartBlock
	}
	if c.TaskPoolWorkers < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidTaskPoolSize, c.TaskPoolWorkers)
	}
	if c.TaskPoolQueueSize < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidQueueDepth, c.TaskPoolQueueSize)
	}
	if c.TaskHardTimeout < c.TaskSoftTimeout {
		return fmt.Errorf("%w: soft=%s hard=%s", ErrInvalidTimeoutOrder, c.TaskSoftTimeout, c.TaskHardTimeout)
	}
	if c.BloomCapacity < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidBloomCapacity, c.BloomCapacity)
	}
	if c.NodePassphrase == "" && c.RNGSeed == nil {
		return ErrMissingPassphrase
	}
	return nil
}

// Default returns a Config populated with reasonable sizing defaults
// (Bloom ≥10^7 items / 0.1% FP, exponential backoff base 2s cap 60s).
func Default() Config {
	return Config{
		BlockRangeCap:      2000,
		ReconnectBaseDelay: 2 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		TaskPoolWorkers:    4,
		TaskPoolQueueSize:  256,
		TaskSoftTimeout:    30 * time.Second,
		TaskHardTimeout:    2 * time.Minute,
		BloomCapacity:      10_000_000,
		BloomFalsePosRate:  0.001,
		TicketPrice:        1,
	}
}

// Builder provides a fluent interface for constructing a Config.
type Builder struct {
	cfg Config
	err error
}

// NewBuilder starts from Default().
func NewBuilder() *Builder {
	return &Builder{cfg: Default()}
}

func (b *Builder) WithChainRPC(http, ws string) *Builder {
	b.cfg.ChainHTTPRPC = http
	b.cfg.ChainWSRPC = ws
	return b
}

func (b *Builder) WithContracts(addrs ...string) *Builder {
	b.cfg.ContractAddresses = addrs
	return b
}

func (b *Builder) WithStartBlock(n uint64) *Builder {
	b.cfg.StartBlock = n
	return b
}

func (b *Builder) WithNodeIdentity(nodeID, chainID uint64) *Builder {
	b.cfg.NodeID = nodeID
	b.cfg.ChainID = chainID
	return b
}

func (b *Builder) WithPassphrase(p string) *Builder {
	b.cfg.NodePassphrase = p
	return b
}

func (b *Builder) WithTaskPool(workers, queueSize int, soft, hard time.Duration) *Builder {
	b.cfg.TaskPoolWorkers = workers
	b.cfg.TaskPoolQueueSize = queueSize
	b.cfg.TaskSoftTimeout = soft
	b.cfg.TaskHardTimeout = hard
	return b
}

// Build returns the assembled Config after running Verify.
func (b *Builder) Build() (Config, error) {
	if b.err != nil {
		return Config{}, b.err
	}
	if err := b.cfg.Verify(); err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}

// Load reads a YAML config file from path and applies Default() for any
// zero-valued sizing field the file omits.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Verify(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func isLocalHost(url string) bool {
	for _, h := range []string{"localhost", "127.0.0.1", "[::1]"} {
		if strings.Contains(url, h) {
			return true
		}
	}
	return false
}
