// Copyright (C) 2025-2026 CartaHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package poolhealth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	utilizationGauge    metric.Float64Gauge
	degradedTransitions metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cartahq/cartanav/internal/poolhealth")

	var err error
	utilizationGauge, err = meter.Float64Gauge(
		"cartanav.poolhealth.utilization",
		metric.WithDescription("Fraction of store connections in use"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create poolhealth.utilization gauge: %w", err))
	}

	degradedTransitions, err = meter.Int64Counter(
		"cartanav.poolhealth.degraded_transitions",
		metric.WithDescription("Times the store was marked degraded"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create poolhealth.degraded_transitions counter: %w", err))
	}
}

// PoolStats is one sample of connection-pool pressure.
type PoolStats struct {
	InUse int32
	Max   int32
}

// StatSource yields pool samples. *pgxpool.Pool is adapted via PoolSource;
// tests supply fakes.
type StatSource interface {
	PoolStats() PoolStats
}

// PoolSource adapts a pgx pool to StatSource.
type PoolSource struct {
	Pool *pgxpool.Pool
}

func (p PoolSource) PoolStats() PoolStats {
	stat := p.Pool.Stat()
	return PoolStats{
		InUse: stat.AcquiredConns(),
		Max:   stat.MaxConns(),
	}
}

// Config tunes the monitor. Zero values take defaults.
type Config struct {
	SampleInterval       time.Duration
	WarnThreshold        float64
	DegradeAfterFailures int
}

// DefaultConfig returns the monitoring defaults.
func DefaultConfig() Config {
	return Config{
		SampleInterval:       10 * time.Second,
		WarnThreshold:        0.80,
		DegradeAfterFailures: 3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SampleInterval <= 0 {
		c.SampleInterval = def.SampleInterval
	}
	if c.WarnThreshold <= 0 || c.WarnThreshold > 1 {
		c.WarnThreshold = def.WarnThreshold
	}
	if c.DegradeAfterFailures <= 0 {
		c.DegradeAfterFailures = def.DegradeAfterFailures
	}
	return c
}

// Monitor samples pool utilization on a fixed interval, decoupled from
// request traffic, and tracks consecutive store failures reported by the
// resolver. It observes and reports only: it never serves queries, blocks
// a request, or denies admission.
type Monitor struct {
	cfg    Config
	source StatSource

	consecutiveFailures atomic.Int32
	degraded            atomic.Bool

	mu        sync.Mutex
	warning   bool
	highWater float64
}

// NewMonitor builds a Monitor over the given stat source.
func NewMonitor(cfg Config, source StatSource) *Monitor {
	return &Monitor{
		cfg:    cfg.withDefaults(),
		source: source,
	}
}

// Run samples until ctx is cancelled. Call it on its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample takes one utilization reading and emits warning or recovery
// events on threshold crossings.
func (m *Monitor) Sample(ctx context.Context) {
	stats := m.source.PoolStats()
	if stats.Max <= 0 {
		return
	}
	utilization := float64(stats.InUse) / float64(stats.Max)
	utilizationGauge.Record(ctx, utilization)

	m.mu.Lock()
	defer m.mu.Unlock()

	if utilization > m.highWater {
		m.highWater = utilization
	}

	crossed := utilization >= m.cfg.WarnThreshold
	switch {
	case crossed && !m.warning:
		m.warning = true
		slog.Warn("store connection pool nearing saturation",
			slog.Float64("utilization", utilization),
			slog.Float64("threshold", m.cfg.WarnThreshold),
			slog.Int("inUse", int(stats.InUse)),
			slog.Int("max", int(stats.Max)))
	case !crossed && m.warning:
		m.warning = false
		slog.Info("store connection pool utilization recovered",
			slog.Float64("utilization", utilization))
	}
}

// ReportStoreFailure records one failed store round trip. Enough
// consecutive failures mark the store degraded, which biases the resolver
// toward stale-but-available projection answers.
func (m *Monitor) ReportStoreFailure(ctx context.Context) {
	failures := m.consecutiveFailures.Add(1)
	if int(failures) >= m.cfg.DegradeAfterFailures && m.degraded.CompareAndSwap(false, true) {
		degradedTransitions.Add(ctx, 1)
		slog.Warn("store marked degraded",
			slog.Int("consecutiveFailures", int(failures)))
	}
}

// ReportStoreSuccess clears the failure streak and any degraded mark.
func (m *Monitor) ReportStoreSuccess() {
	m.consecutiveFailures.Store(0)
	if m.degraded.CompareAndSwap(true, false) {
		slog.Info("store recovered from degraded state")
	}
}

// Degraded reports whether the store is currently considered degraded.
func (m *Monitor) Degraded() bool {
	return m.degraded.Load()
}

// HighWaterMark returns the highest utilization observed so far.
func (m *Monitor) HighWaterMark() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highWater
}
