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
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cartahq/cartanav/hierdb"
	"github.com/cartahq/cartanav/internal/tiercache"
)

// GetEntity returns one entity by id, through the cache tiers.
func (r *Resolver) GetEntity(ctx context.Context, id uuid.UUID) (Result[hierdb.Entity], error) {
	start := r.now()
	e, src, err := r.lookupEntity(ctx, id)
	if err != nil {
		return Result[hierdb.Entity]{}, err
	}
	r.recordOutcome(ctx, "entity", src, start)
	return Result[hierdb.Entity]{Value: e, Source: src}, nil
}

// GetEntityByPath resolves a full path to its entity. Candidate rows come
// from the path-hash index; the exact path match wins, and a hash shared
// with another path is surfaced as a warning, never an error.
func (r *Resolver) GetEntityByPath(ctx context.Context, path string) (Result[hierdb.Entity], error) {
	start := r.now()

	if err := hierdb.ValidatePath(path); err != nil {
		return Result[hierdb.Entity]{}, fmt.Errorf("%w: %s", ErrNotFound, err)
	}

	key := entityPathKey(path)
	if e, ok := tiercache.GetTyped[hierdb.Entity](ctx, r.cache, key); ok {
		r.recordOutcome(ctx, "entity_by_path", SourceCache, start)
		return Result[hierdb.Entity]{Value: e, Source: SourceCache}, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.entityByPathUncached(ctx, path, key)
	})
	if err != nil {
		return Result[hierdb.Entity]{}, err
	}
	res := v.(Result[hierdb.Entity])
	r.recordOutcome(ctx, "entity_by_path", res.Source, start)
	return res, nil
}

func (r *Resolver) entityByPathUncached(ctx context.Context, path, key string) (Result[hierdb.Entity], error) {
	hash := hierdb.ComputePathHash(path)
	candidates, err := storeRetry(ctx, r, func(ctx context.Context) ([]hierdb.Entity, error) {
		return r.store.GetEntitiesByPathHash(ctx, hash)
	})
	if err != nil {
		if errors.Is(err, hierdb.ErrNotFound) {
			return Result[hierdb.Entity]{}, ErrNotFound
		}
		return Result[hierdb.Entity]{}, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	var warnings []string
	var match *hierdb.Entity
	for i := range candidates {
		if candidates[i].Path == path {
			match = &candidates[i]
			continue
		}
		integrityWarns.Add(ctx, 1)
		w := fmt.Sprintf("path hash collision: %q and %q", path, candidates[i].Path)
		warnings = append(warnings, w)
		slog.Warn("integrity warning: path hash collision on lookup",
			slog.String("requested", path),
			slog.String("collided", candidates[i].Path),
			slog.Int64("hash", hash))
	}
	if match == nil {
		return Result[hierdb.Entity]{}, ErrNotFound
	}

	_ = tiercache.SetTyped(ctx, r.cache, key, *match, r.cfg.CacheTTL)
	_ = tiercache.SetTyped(ctx, r.cache, entityIDKey(match.ID), *match, r.cfg.CacheTTL)
	return Result[hierdb.Entity]{Value: *match, Source: SourceStore, Warnings: warnings}, nil
}
