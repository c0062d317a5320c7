// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wraps github.com/prometheus/client_golang the way the
// teacher's own metrics package does: a thin Registerer holder plus small
// Averager/Counter helpers for the values individual actors want to report
// (task duration, dispatcher latency, aggregator share counts) without
// every actor hand-rolling prometheus collectors.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrMetricNotFound is returned when a metric is not found.
var ErrMetricNotFound = errors.New("metric not found")

// Metrics holds the process-wide prometheus registerer.
type Metrics struct {
	Registry prometheus.Registerer
}

// New creates a Metrics instance. Pass prometheus.NewRegistry() in
// production, or a discarding registerer in tests.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{Registry: reg}
}

// Register registers a prometheus collector, swallowing
// AlreadyRegisteredError the way repeated component construction in tests
// expects.
func (m *Metrics) Register(c prometheus.Collector) error {
	if err := m.Registry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// Averager tracks a running average, e.g. task-pool job duration.
type Averager interface {
	Observe(value float64)
	Read() float64
}

type averager struct {
	mu    sync.RWMutex
	sum   float64
	count int64
}

// NewAverager returns a new in-process Averager.
func NewAverager() Averager { return &averager{} }

func (a *averager) Observe(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sum += value
	a.count++
}

func (a *averager) Read() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

// Counter tracks a monotonically increasing count, e.g. dispatched
// ComputeRequests or dropped gossip messages.
type Counter interface {
	Inc()
	Add(delta int64)
	Read() int64
}

type counter struct {
	mu    sync.Mutex
	value int64
}

// NewCounter returns a new in-process Counter.
func NewCounter() Counter { return &counter{} }

func (c *counter) Inc() { c.Add(1) }

func (c *counter) Add(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += delta
}

func (c *counter) Read() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
