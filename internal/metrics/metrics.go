package metrics

/*
domlookup — batch DNS and RDAP domain lookups
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus collectors for one run.
// It implements lookup.Observer.
type Metrics struct {
	registry *prometheus.Registry

	LookupsTotal   *prometheus.CounterVec
	LookupDuration *prometheus.HistogramVec
	RateLimitDelay *prometheus.HistogramVec
	BatchDomains   *prometheus.GaugeVec

	mu     sync.Mutex
	server *http.Server
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	buckets := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		LookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domlookup_lookups_total",
				Help: "Total number of domain lookups by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		LookupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "domlookup_lookup_duration_seconds",
				Help:    "Time spent in a single backend lookup",
				Buckets: buckets,
			},
			[]string{"backend"},
		),
		RateLimitDelay: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "domlookup_rate_limit_delay_seconds",
				Help:    "Time spent waiting due to rate limiting",
				Buckets: buckets,
			},
			[]string{"backend"},
		),
		BatchDomains: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "domlookup_batch_domains",
				Help: "Number of domains in the last batch",
			},
			[]string{"backend"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveLookup records one finished lookup. Lookups that never reached the
// backend (elapsed == 0) are counted but not timed.
func (m *Metrics) ObserveLookup(backend, outcome string, elapsed time.Duration) {
	m.LookupsTotal.WithLabelValues(backend, outcome).Inc()
	if elapsed > 0 {
		m.LookupDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	}
}

// ObserveWait records time spent blocked on the rate limiter.
func (m *Metrics) ObserveWait(backend string, waited time.Duration) {
	m.RateLimitDelay.WithLabelValues(backend).Observe(waited.Seconds())
}

// SetBatchSize records how many domains the batch contained.
func (m *Metrics) SetBatchSize(backend string, n int) {
	m.BatchDomains.WithLabelValues(backend).Set(float64(n))
}

// StartServer exposes /metrics on addr for the duration of the run.
// The listener is bound synchronously so address errors surface immediately.
func (m *Metrics) StartServer(addr string, logger *slog.Logger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		return errors.New("metrics server already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", "addr", ln.Addr().String())
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	srv := m.server
	m.server = nil
	m.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// WriteTextfile writes the current metrics in the text exposition format,
// suitable for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("error writing metrics textfile %s: %w", path, err)
	}
	return nil
}
