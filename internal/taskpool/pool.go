// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package taskpool implements a bounded worker pool: CPU-heavy
// cryptographic work is dispatched here so it never runs on the
// bus/router's single event-loop goroutine. Concurrency is bounded to a
// fixed worker count; a task that outlives its soft timeout logs a
// warning but keeps running, one that outlives its hard timeout is
// abandoned and reported as a fatal task error to the caller.
package taskpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/enclave-network/ciphernode-core/internal/logging"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by Submit when the pending-task queue is at
// capacity; callers propagate this as a ComputeRequestError.
var ErrQueueFull = errors.New("taskpool: queue full")

// ErrTaskAbandoned is the error carried in a Result once a task's hard
// timeout elapses. The underlying goroutine may still be running; the
// pool stops waiting on it and reports it lost.
var ErrTaskAbandoned = errors.New("taskpool: task abandoned at hard timeout")

// Task is a unit of CPU-bound work. It receives a context carrying the
// soft/hard timeout deadlines so well-behaved kernels can check
// ctx.Err() between steps, but completion is not required to honor
// cancellation — the pool's hard timeout guarantee does not depend on it.
type Task func(ctx context.Context) ([]byte, error)

// Result is delivered exactly once per Submit call.
type Result struct {
	Output   []byte
	Err      error
	Duration time.Duration
}

// Config sizes the pool.
type Config struct {
	Workers     int
	QueueSize   int
	SoftTimeout time.Duration
	HardTimeout time.Duration
}

// Pool bounds concurrent task execution to Workers and the total number
// of admitted tasks, running plus waiting for a free worker, to QueueSize.
type Pool struct {
	log  logging.Logger
	cfg  Config
	sem  chan struct{}
	slot chan struct{}

	wg sync.WaitGroup
}

// New returns a Pool configured per cfg. Workers and QueueSize below 1
// are treated as 1.
func New(cfg Config, log logging.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Pool{
		log:  logging.Named(log, "taskpool"),
		cfg:  cfg,
		sem:  make(chan struct{}, cfg.Workers),
		slot: make(chan struct{}, cfg.QueueSize),
	}
}

// Submit admits task into the pending queue and returns a channel that
// receives its single Result. It returns ErrQueueFull immediately if the
// queue is already at capacity — this is the pool's only form of
// backpressure. ctx governs submission only; the task's own deadline
// comes from cfg.SoftTimeout/HardTimeout, not ctx.
func (p *Pool) Submit(ctx context.Context, name string, task Task) (<-chan Result, error) {
	select {
	case p.slot <- struct{}{}:
	default:
		return nil, fmt.Errorf("%w: task %q", ErrQueueFull, name)
	}

	out := make(chan Result, 1)
	p.wg.Add(1)
	go p.run(ctx, name, task, out)
	return out, nil
}

func (p *Pool) run(ctx context.Context, name string, task Task, out chan<- Result) {
	defer p.wg.Done()
	defer func() { <-p.slot }()

	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	taskCtx, cancel := context.WithTimeout(ctx, p.cfg.HardTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		output, err := task(taskCtx)
		done <- Result{Output: output, Err: err, Duration: time.Since(start)}
	}()

	soft := time.NewTimer(p.cfg.SoftTimeout)
	defer soft.Stop()
	hard := time.NewTimer(p.cfg.HardTimeout)
	defer hard.Stop()

	for {
		select {
		case res := <-done:
			out <- res
			return
		case <-soft.C:
			p.log.Warn("task exceeded soft timeout", zap.String("task", name), zap.Duration("soft_timeout", p.cfg.SoftTimeout))
		case <-hard.C:
			p.log.Error("task exceeded hard timeout, abandoning", zap.String("task", name), zap.Duration("hard_timeout", p.cfg.HardTimeout))
			out <- Result{Err: fmt.Errorf("%w: %s", ErrTaskAbandoned, name), Duration: time.Since(start)}
			return
		}
	}
}

// Wait blocks until every Submit call so far has delivered its Result. It
// does not forcibly stop already-running tasks; callers implement a
// bounded grace period by racing Wait against their own context.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// WaitContext is Wait bounded by ctx, for callers enforcing a grace
// period before treating remaining workers as abandoned.
func (p *Pool) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
