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

package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cartahq/cartanav/hierdb"
	"github.com/cartahq/cartanav/internal/tiercache"
)

// Only fresh chains are cached, so a cached hit never needs a staleness
// marker.
type ancestorsValue struct {
	Entities []hierdb.Entity `cbor:"1,keyasint"`
}

// ResolveAncestors returns the ancestor chain of an entity ordered root
// first. A root entity yields a valid empty chain, distinct from NotFound
// and from Unavailable.
func (r *Resolver) ResolveAncestors(ctx context.Context, id uuid.UUID) (Result[[]hierdb.Entity], error) {
	start := r.now()

	entity, _, err := r.lookupEntity(ctx, id)
	if err != nil {
		return Result[[]hierdb.Entity]{}, err
	}
	if entity.Depth <= 1 {
		// Root: nothing above it. Not worth a cache entry.
		r.recordOutcome(ctx, "ancestors", SourceStore, start)
		return Result[[]hierdb.Entity]{Value: []hierdb.Entity{}, Source: SourceStore}, nil
	}

	key := ancestorsKey(entity.Path)
	if v, ok := tiercache.GetTyped[ancestorsValue](ctx, r.cache, key); ok {
		r.recordOutcome(ctx, "ancestors", SourceCache, start)
		return Result[[]hierdb.Entity]{Value: v.Entities, Source: SourceCache}, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.resolveAncestorsUncached(ctx, entity)
	})
	if err != nil {
		return Result[[]hierdb.Entity]{}, err
	}
	res := v.(Result[[]hierdb.Entity])
	r.recordOutcome(ctx, "ancestors", res.Source, start)
	return res, nil
}

func (r *Resolver) resolveAncestorsUncached(ctx context.Context, entity hierdb.Entity) (Result[[]hierdb.Entity], error) {
	// PROJECTION_CHECK: a fresh projection row gives the chain as a
	// primary-key batch fetch, no prefix traversal. A stale row is used
	// only when the store is degraded.
	row, projErr := r.store.GetProjection(ctx, entity.ID)
	if projErr == nil {
		fresh := r.now().Sub(row.ComputedAt) <= r.cfg.ProjectionStalenessBound
		if fresh || r.degraded() {
			if res, ok := r.materializeProjection(ctx, entity, row, !fresh); ok {
				return res, nil
			}
		}
	}

	// STORE_FALLBACK: one prefix query over the path's segment prefixes,
	// ordered root to leaf.
	chain, err := r.ancestorsFromStore(ctx, entity)
	if err == nil {
		r.backfillAncestors(ctx, entity, chain)
		return Result[[]hierdb.Entity]{Value: chain.entities, Source: SourceStore, Warnings: chain.warnings}, nil
	}

	// Last preference before failing hard: a stale projection row we
	// skipped above because the store had not been marked degraded yet.
	if projErr == nil {
		if res, ok := r.materializeProjection(ctx, entity, row, true); ok {
			return res, nil
		}
	}
	return Result[[]hierdb.Entity]{}, fmt.Errorf("%w: %s", ErrUnavailable, err)
}

type ancestorChain struct {
	entities []hierdb.Entity
	warnings []string
}

func (r *Resolver) ancestorsFromStore(ctx context.Context, entity hierdb.Entity) (ancestorChain, error) {
	prefixes := hierdb.PathPrefixes(entity.Path)
	ancestorPaths := prefixes[:len(prefixes)-1]

	entities, err := storeRetry(ctx, r, func(ctx context.Context) ([]hierdb.Entity, error) {
		return r.store.ListEntitiesByPaths(ctx, ancestorPaths)
	})
	if err != nil {
		return ancestorChain{}, err
	}

	warnings := r.checkHashCollisions(ctx, entities)
	return ancestorChain{entities: entities, warnings: warnings}, nil
}

// materializeProjection turns a projection row into entity rows via a
// batch id fetch. Returns ok=false when the row cannot be materialized,
// which sends the caller to the next tier.
func (r *Resolver) materializeProjection(ctx context.Context, entity hierdb.Entity, row hierdb.ProjectionRow, stale bool) (Result[[]hierdb.Entity], bool) {
	if len(row.AncestorIDs) == 0 {
		return Result[[]hierdb.Entity]{Value: []hierdb.Entity{}, Source: SourceProjection, Stale: stale}, true
	}
	entities, err := storeRetry(ctx, r, func(ctx context.Context) ([]hierdb.Entity, error) {
		return r.store.ListEntitiesByIDs(ctx, row.AncestorIDs)
	})
	if err != nil || len(entities) != len(row.AncestorIDs) {
		return Result[[]hierdb.Entity]{}, false
	}
	// A stale chain is served, never cached: a tier-1/2 entry cannot carry
	// the staleness marker forward, and the projection row must keep its
	// original timestamp. Fresh rows backfill tiers 1/2 only.
	if !stale {
		r.cacheAncestors(ctx, entity, ancestorChain{entities: entities})
	}
	return Result[[]hierdb.Entity]{Value: entities, Source: SourceProjection, Stale: stale}, true
}

// cacheAncestors populates tiers 1/2 with a fresh chain.
func (r *Resolver) cacheAncestors(ctx context.Context, entity hierdb.Entity, chain ancestorChain) {
	_ = tiercache.SetTyped(ctx, r.cache, ancestorsKey(entity.Path),
		ancestorsValue{Entities: chain.entities}, r.cfg.CacheTTL)
}

// backfillAncestors populates tiers 1/2 with a chain resolved from the
// store and writes the projection row the lookup found missing or stale.
func (r *Resolver) backfillAncestors(ctx context.Context, entity hierdb.Entity, chain ancestorChain) {
	r.cacheAncestors(ctx, entity, chain)

	ids := make([]uuid.UUID, len(chain.entities))
	for i, e := range chain.entities {
		ids[i] = e.ID
	}
	count, err := r.store.CountDescendants(ctx, entity.Path)
	if err != nil {
		return
	}
	if err := r.store.UpsertProjection(ctx, hierdb.ProjectionRow{
		EntityID:        entity.ID,
		AncestorIDs:     ids,
		DescendantCount: count,
		ComputedAt:      r.now().UTC(),
	}); err != nil {
		slog.Debug("projection backfill failed", slog.String("path", entity.Path), slog.Any("error", err))
	}
}

// checkHashCollisions logs an integrity warning for any path hash shared
// by more than one entity in the chain. Collisions never block; they only
// mark the result.
func (r *Resolver) checkHashCollisions(ctx context.Context, entities []hierdb.Entity) []string {
	byHash := make(map[int64]string, len(entities))
	var warnings []string
	for _, e := range entities {
		if prev, ok := byHash[e.PathHash]; ok && prev != e.Path {
			integrityWarns.Add(ctx, 1)
			w := fmt.Sprintf("path hash collision: %q and %q", prev, e.Path)
			warnings = append(warnings, w)
			slog.Warn("integrity warning: path hash collision",
				slog.String("pathA", prev), slog.String("pathB", e.Path),
				slog.Int64("hash", e.PathHash))
			continue
		}
		byHash[e.PathHash] = e.Path
	}
	return warnings
}
