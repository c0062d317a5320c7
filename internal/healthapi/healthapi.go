// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package healthapi implements an optional read-only status endpoint: a
// small net/http server exposing /healthz (liveness, plus bus dedup/publish
// counters) and /metrics (prometheus exposition), rather than introducing
// a web framework this single-binary CLI doesn't otherwise need.
package healthapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/enclave-network/ciphernode-core/internal/logging"
	"github.com/enclave-network/ciphernode-core/internal/metrics"
)

// Checker reports the node's liveness snapshot; internal/bus.Bus
// satisfies this via its Stats method.
type Checker interface {
	Stats() (published, droppedDuplicates int64)
}

// Status is /healthz's JSON body.
type Status struct {
	OK                bool  `json:"ok"`
	Published         int64 `json:"published"`
	DroppedDuplicates int64 `json:"droppedDuplicates"`
}

// Server is the optional status HTTP server.
type Server struct {
	log     logging.Logger
	checker Checker
	metrics *metrics.Metrics
	http    *http.Server
}

// New builds a Server listening on addr; it does not start listening
// until Run is called.
func New(addr string, checker Checker, m *metrics.Metrics, log logging.Logger) *Server {
	if log == nil {
		log = logging.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	s := &Server{log: logging.Named(log, "healthapi"), checker: checker, metrics: m}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	if gatherer, ok := m.Registry.(prometheus.Gatherer); ok {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	s.http = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	published, dropped := s.checker.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Status{OK: true, Published: published, DroppedDuplicates: dropped})
}

// Run starts serving until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
