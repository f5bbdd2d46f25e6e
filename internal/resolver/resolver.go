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

// Package resolver answers ancestor, descendant, and path queries over the
// entity hierarchy with a four-tier fallback chain: process-local cache,
// distributed cache, the materialized-path store, and the precomputed
// projection. Each lookup walks CACHE_CHECK, PROJECTION_CHECK,
// STORE_FALLBACK, POPULATE_AND_RETURN; only exhaustion of every tier
// surfaces as Unavailable.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/cartahq/cartanav/hierdb"
	"github.com/cartahq/cartanav/internal/tiercache"
)

var (
	resolveDuration metric.Float64Histogram
	tierOutcomes    metric.Int64Counter
	integrityWarns  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cartahq/cartanav/internal/resolver")

	var err error
	resolveDuration, err = meter.Float64Histogram(
		"cartanav.resolver.duration_seconds",
		metric.WithDescription("Resolution latency by operation and source tier"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create resolver.duration_seconds histogram: %w", err))
	}

	tierOutcomes, err = meter.Int64Counter(
		"cartanav.resolver.tier_outcomes",
		metric.WithDescription("Resolutions by operation and source tier"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create resolver.tier_outcomes counter: %w", err))
	}

	integrityWarns, err = meter.Int64Counter(
		"cartanav.resolver.integrity_warnings",
		metric.WithDescription("Path-hash collisions observed during resolution"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create resolver.integrity_warnings counter: %w", err))
	}
}

// Store is the subset of the hierdb surface the resolver drives. *hierdb.Store
// satisfies it; tests use fakes.
type Store interface {
	GetEntity(ctx context.Context, id uuid.UUID) (hierdb.Entity, error)
	GetEntitiesByPathHash(ctx context.Context, pathHash int64) ([]hierdb.Entity, error)
	ListEntitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]hierdb.Entity, error)
	ListEntitiesByPaths(ctx context.Context, paths []string) ([]hierdb.Entity, error)
	ListEntitiesByPathPrefix(ctx context.Context, params hierdb.ListByPrefixParams) ([]hierdb.Entity, error)
	CountDescendants(ctx context.Context, path string) (int64, error)
	InsertEntity(ctx context.Context, params hierdb.InsertEntityParams) (hierdb.Entity, error)
	UpdateEntityName(ctx context.Context, id uuid.UUID, name string) (hierdb.Entity, error)
	GetProjection(ctx context.Context, entityID uuid.UUID) (hierdb.ProjectionRow, error)
	UpsertProjection(ctx context.Context, row hierdb.ProjectionRow) error
	RecomputeProjection(ctx context.Context, scopePath string) (int, error)
}

// HealthReporter is the slice of the pool-health monitor the resolver
// needs: failure streak reporting in, degradation bias out.
type HealthReporter interface {
	ReportStoreFailure(ctx context.Context)
	ReportStoreSuccess()
	Degraded() bool
}

// Config tunes resolution behavior. Zero values take defaults so a
// missing configuration never prevents startup.
type Config struct {
	CacheTTL                 time.Duration
	ProjectionStalenessBound time.Duration
	StoreRetryAttempts       int
	StoreRetryBaseDelay      time.Duration
	DefaultPageLimit         int32
	MaxPageLimit             int32
}

// DefaultConfig returns resolution defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:                 5 * time.Minute,
		ProjectionStalenessBound: 15 * time.Minute,
		StoreRetryAttempts:       3,
		StoreRetryBaseDelay:      50 * time.Millisecond,
		DefaultPageLimit:         100,
		MaxPageLimit:             1000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.ProjectionStalenessBound <= 0 {
		c.ProjectionStalenessBound = def.ProjectionStalenessBound
	}
	if c.StoreRetryAttempts <= 0 {
		c.StoreRetryAttempts = def.StoreRetryAttempts
	}
	if c.StoreRetryBaseDelay <= 0 {
		c.StoreRetryBaseDelay = def.StoreRetryBaseDelay
	}
	if c.DefaultPageLimit <= 0 {
		c.DefaultPageLimit = def.DefaultPageLimit
	}
	if c.MaxPageLimit <= 0 {
		c.MaxPageLimit = def.MaxPageLimit
	}
	return c
}

// Resolver orchestrates the four tiers. Construct one per process with
// NewResolver and inject it; never share implicit global state.
type Resolver struct {
	cfg    Config
	store  Store
	cache  *tiercache.Cache
	health HealthReporter

	group      singleflight.Group
	writeCount atomic.Int64

	now func() time.Time
}

// NewResolver wires a Resolver. health may be nil, in which case the
// resolver never biases toward stale answers.
func NewResolver(cfg Config, store Store, cache *tiercache.Cache, health HealthReporter) *Resolver {
	return &Resolver{
		cfg:    cfg.withDefaults(),
		store:  store,
		cache:  cache,
		health: health,
		now:    time.Now,
	}
}

// WritesSinceLastCheck returns and resets the count of writes routed
// through this resolver, for write-threshold projection refresh.
func (r *Resolver) WritesSinceLastCheck() int64 {
	return r.writeCount.Swap(0)
}

func (r *Resolver) degraded() bool {
	return r.health != nil && r.health.Degraded()
}

func (r *Resolver) reportStoreOutcome(ctx context.Context, err error) {
	if r.health == nil {
		return
	}
	// Absence is an answer from a healthy store, not a connectivity
	// failure.
	if err == nil || errors.Is(err, hierdb.ErrNotFound) {
		r.health.ReportStoreSuccess()
		return
	}
	r.health.ReportStoreFailure(ctx)
}

// storeRetry runs one store round trip with bounded attempts and
// exponential backoff plus jitter, so synchronized retry storms cannot
// form. NotFound is terminal and never retried.
func storeRetry[T any](ctx context.Context, r *Resolver, op func(ctx context.Context) (T, error)) (T, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.StoreRetryBaseDelay

	result, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if errors.Is(err, hierdb.ErrNotFound) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(exp), backoff.WithMaxTries(uint(r.cfg.StoreRetryAttempts)))

	r.reportStoreOutcome(ctx, err)
	return result, err
}

func (r *Resolver) recordOutcome(ctx context.Context, op string, source Source, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("source", string(source)),
	)
	tierOutcomes.Add(ctx, 1, attrs)
	resolveDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

// lookupEntity finds the entity row for an id through the cache tiers,
// falling back to the store, and reports which tier answered. Resolution
// by id is the entry point of every public operation, so its result is
// cached independently of the query caches.
func (r *Resolver) lookupEntity(ctx context.Context, id uuid.UUID) (hierdb.Entity, Source, error) {
	key := entityIDKey(id)
	if e, ok := tiercache.GetTyped[hierdb.Entity](ctx, r.cache, key); ok {
		return e, SourceCache, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		e, err := storeRetry(ctx, r, func(ctx context.Context) (hierdb.Entity, error) {
			return r.store.GetEntity(ctx, id)
		})
		if err != nil {
			return hierdb.Entity{}, err
		}
		_ = tiercache.SetTyped(ctx, r.cache, key, e, r.cfg.CacheTTL)
		return e, nil
	})
	if err != nil {
		if errors.Is(err, hierdb.ErrNotFound) {
			return hierdb.Entity{}, SourceStore, ErrNotFound
		}
		return hierdb.Entity{}, SourceStore, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return v.(hierdb.Entity), SourceStore, nil
}
