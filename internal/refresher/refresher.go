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

// Package refresher keeps the entity projection fresh: a cron-scheduled
// full recompute plus an opportunistic recompute whenever enough writes
// have accumulated since the last check.
package refresher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cartahq/cartanav/internal/idgen"
)

var (
	refreshRuns metric.Int64Counter
	refreshRows metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cartahq/cartanav/internal/refresher")

	var err error
	refreshRuns, err = meter.Int64Counter(
		"cartanav.refresher.runs",
		metric.WithDescription("Projection refresh runs by trigger and outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create refresher.runs counter: %w", err))
	}

	refreshRows, err = meter.Int64Counter(
		"cartanav.refresher.rows",
		metric.WithDescription("Projection rows written by refresh runs"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create refresher.rows counter: %w", err))
	}
}

// standard 5-field cron expressions
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ProjectionRefresher is the slice of the resolver the refresher drives.
type ProjectionRefresher interface {
	RefreshProjection(ctx context.Context, scopePath string) (int, error)
	WritesSinceLastCheck() int64
}

// Config tunes refresh triggers. Zero values take defaults.
type Config struct {
	// Schedule is a 5-field cron expression for the full recompute.
	Schedule string
	// WriteThreshold triggers a recompute once this many writes have
	// accumulated. Zero disables write-triggered refresh.
	WriteThreshold int64
	// CheckInterval bounds how often the write counter is sampled.
	CheckInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "*/15 * * * *"
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	return c
}

// Refresher runs the refresh loop. Construct with New, then Run until the
// context is canceled.
type Refresher struct {
	cfg      Config
	resolver ProjectionRefresher
	schedule cron.Schedule
}

func New(cfg Config, resolver ProjectionRefresher) (*Refresher, error) {
	cfg = cfg.withDefaults()
	schedule, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", cfg.Schedule, err)
	}
	return &Refresher{
		cfg:      cfg,
		resolver: resolver,
		schedule: schedule,
	}, nil
}

// Run blocks until ctx is canceled. Scheduled and write-triggered runs
// share one loop, so runs never overlap within a process.
func (r *Refresher) Run(ctx context.Context) error {
	nextRun := r.schedule.Next(time.Now())
	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	slog.Info("Projection refresher started",
		slog.String("schedule", r.cfg.Schedule),
		slog.Int64("writeThreshold", r.cfg.WriteThreshold),
		slog.Time("nextScheduledRun", nextRun))

	for {
		select {
		case <-ctx.Done():
			slog.Info("Projection refresher stopping")
			return nil
		case now := <-ticker.C:
			if !now.Before(nextRun) {
				r.runOnce(ctx, "schedule")
				nextRun = r.schedule.Next(now)
				continue
			}
			if r.cfg.WriteThreshold > 0 {
				if writes := r.resolver.WritesSinceLastCheck(); writes >= r.cfg.WriteThreshold {
					slog.Info("Write threshold reached",
						slog.Int64("writes", writes),
						slog.Int64("threshold", r.cfg.WriteThreshold))
					r.runOnce(ctx, "writes")
				}
			}
		}
	}
}

// RunNow performs one full recompute immediately, outside the loop. Used
// by the sweeper command's --once flag and by seeding.
func (r *Refresher) RunNow(ctx context.Context) error {
	return r.runOnce(ctx, "manual")
}

func (r *Refresher) runOnce(ctx context.Context, trigger string) error {
	runID := idgen.DefaultFlakeGenerator.NextID()
	start := time.Now()
	rows, err := r.resolver.RefreshProjection(ctx, "")
	if err != nil {
		refreshRuns.Add(ctx, 1, metric.WithAttributes(
			attribute.String("trigger", trigger),
			attribute.Bool("success", false)))
		slog.Error("Projection refresh failed",
			slog.Int64("runID", runID),
			slog.String("trigger", trigger),
			slog.Any("error", err))
		return err
	}
	refreshRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.Bool("success", true)))
	refreshRows.Add(ctx, int64(rows), metric.WithAttributes(
		attribute.String("trigger", trigger)))
	slog.Info("Projection refresh complete",
		slog.Int64("runID", runID),
		slog.String("trigger", trigger),
		slog.Int("rows", rows),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}
