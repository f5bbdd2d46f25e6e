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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cartahq/cartanav/hierdb"
)

// CreateEntity inserts a child entity under its parent and synchronously
// invalidates every cache entry the new row can affect. The write is
// durable before invalidation starts; a reader racing the invalidation
// sees at worst the pre-write answer for one TTL.
func (r *Resolver) CreateEntity(ctx context.Context, params hierdb.InsertEntityParams) (hierdb.Entity, error) {
	entity, err := r.store.InsertEntity(ctx, params)
	r.reportStoreOutcome(ctx, ignoreConflict(err))
	if err != nil {
		return hierdb.Entity{}, err
	}

	r.invalidateFor(ctx, entity.ID, entity.Path)
	r.writeCount.Add(1)
	return entity, nil
}

// RenameEntity updates an entity's display name. The path is unchanged,
// so only the entity's own cache entries and the query results embedding
// it need invalidation.
func (r *Resolver) RenameEntity(ctx context.Context, id uuid.UUID, name string) (hierdb.Entity, error) {
	entity, err := r.store.UpdateEntityName(ctx, id, name)
	r.reportStoreOutcome(ctx, err)
	if err != nil {
		if errors.Is(err, hierdb.ErrNotFound) {
			return hierdb.Entity{}, ErrNotFound
		}
		return hierdb.Entity{}, err
	}

	r.invalidateFor(ctx, entity.ID, entity.Path)
	r.writeCount.Add(1)
	return entity, nil
}

// RefreshProjection recomputes projection rows for the subtree rooted at
// scopePath, or the whole tree when scopePath is empty. Returns the number
// of rows written.
func (r *Resolver) RefreshProjection(ctx context.Context, scopePath string) (int, error) {
	start := time.Now()
	n, err := r.store.RecomputeProjection(ctx, scopePath)
	r.reportStoreOutcome(ctx, err)
	if err != nil {
		return 0, fmt.Errorf("recompute projection: %w", err)
	}
	slog.Info("projection refreshed",
		slog.String("scope", scopePath),
		slog.Int("rows", n),
		slog.Duration("elapsed", time.Since(start)))
	return n, nil
}

// invalidateFor drops the cache entries a write at (id, path) can have
// made stale, in both tiers, before the write returns to the caller.
func (r *Resolver) invalidateFor(ctx context.Context, id uuid.UUID, path string) {
	deletes, prefixes := invalidationTargets(id, path)
	for _, key := range deletes {
		r.cache.Delete(ctx, key)
	}
	for _, prefix := range prefixes {
		r.cache.InvalidatePrefix(ctx, prefix)
	}
}

// ignoreConflict keeps expected write conflicts (duplicate child segment,
// missing parent) from counting as store connectivity failures. Class 23
// covers every Postgres integrity violation, unique and foreign-key alike.
func ignoreConflict(err error) error {
	if errors.Is(err, hierdb.ErrNotFound) {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return nil
	}
	return err
}
