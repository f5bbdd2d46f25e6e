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

	"github.com/google/uuid"

	"github.com/cartahq/cartanav/hierdb"
	"github.com/cartahq/cartanav/internal/tiercache"
)

// ResolveDescendants returns one page of the subtree under an entity in
// stable path-lexicographic order. cursor resumes a prior scan; the same
// cursor with no intervening writes yields an identical page.
func (r *Resolver) ResolveDescendants(ctx context.Context, id uuid.UUID, limit int32, cursor string) (Result[DescendantPage], error) {
	start := r.now()

	if limit <= 0 {
		limit = r.cfg.DefaultPageLimit
	}
	if limit > r.cfg.MaxPageLimit {
		limit = r.cfg.MaxPageLimit
	}
	afterPath, err := decodeCursor(cursor)
	if err != nil {
		return Result[DescendantPage]{}, err
	}

	entity, _, err := r.lookupEntity(ctx, id)
	if err != nil {
		return Result[DescendantPage]{}, err
	}

	key := descendantsKey(entity.Path, cursor, limit)
	if page, ok := tiercache.GetTyped[DescendantPage](ctx, r.cache, key); ok {
		r.recordOutcome(ctx, "descendants", SourceCache, start)
		return Result[DescendantPage]{Value: page, Source: SourceCache}, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.resolveDescendantsUncached(ctx, entity, afterPath, limit, key)
	})
	if err != nil {
		return Result[DescendantPage]{}, err
	}
	res := v.(Result[DescendantPage])
	r.recordOutcome(ctx, "descendants", res.Source, start)
	return res, nil
}

func (r *Resolver) resolveDescendantsUncached(ctx context.Context, entity hierdb.Entity, afterPath string, limit int32, key string) (Result[DescendantPage], error) {
	// PROJECTION_CHECK: a fresh row that records zero descendants settles
	// an unstarted scan without touching the store.
	if afterPath == "" {
		if row, err := r.store.GetProjection(ctx, entity.ID); err == nil &&
			row.DescendantCount == 0 &&
			r.now().Sub(row.ComputedAt) <= r.cfg.ProjectionStalenessBound {
			page := DescendantPage{Entities: []hierdb.Entity{}}
			_ = tiercache.SetTyped(ctx, r.cache, key, page, r.cfg.CacheTTL)
			return Result[DescendantPage]{Value: page, Source: SourceProjection}, nil
		}
	}

	// STORE_FALLBACK: keyset prefix-range scan.
	entities, err := storeRetry(ctx, r, func(ctx context.Context) ([]hierdb.Entity, error) {
		return r.store.ListEntitiesByPathPrefix(ctx, hierdb.ListByPrefixParams{
			Prefix:    entity.Path,
			AfterPath: afterPath,
			Limit:     limit,
		})
	})
	if err != nil {
		return Result[DescendantPage]{}, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	page := DescendantPage{Entities: entities}
	if page.Entities == nil {
		page.Entities = []hierdb.Entity{}
	}
	if int32(len(entities)) == limit {
		page.Cursor = encodeCursor(entities[len(entities)-1].Path)
	}
	warnings := r.checkHashCollisions(ctx, entities)

	_ = tiercache.SetTyped(ctx, r.cache, key, page, r.cfg.CacheTTL)
	return Result[DescendantPage]{Value: page, Source: SourceStore, Warnings: warnings}, nil
}
