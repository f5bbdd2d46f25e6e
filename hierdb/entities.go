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

package hierdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const entityColumns = `id, name, kind, path, depth, path_hash, parent_id, confidence, metadata, created_at, updated_at`

func scanEntity(row pgx.Row) (Entity, error) {
	var e Entity
	err := row.Scan(&e.ID, &e.Name, &e.Kind, &e.Path, &e.Depth, &e.PathHash,
		&e.ParentID, &e.Confidence, &e.Metadata, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	return e, err
}

func collectEntities(rows pgx.Rows) ([]Entity, error) {
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Kind, &e.Path, &e.Depth, &e.PathHash,
			&e.ParentID, &e.Confidence, &e.Metadata, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEntity fetches a single entity by primary key.
func (store *Store) GetEntity(ctx context.Context, id uuid.UUID) (Entity, error) {
	const q = `SELECT ` + entityColumns + ` FROM entity WHERE id = $1`
	return scanEntity(store.db.QueryRow(ctx, q, id))
}

// GetEntityByPath fetches a single entity by the full materialized path.
// Paths are unique across live entities.
func (store *Store) GetEntityByPath(ctx context.Context, path string) (Entity, error) {
	const q = `SELECT ` + entityColumns + ` FROM entity WHERE path = $1`
	return scanEntity(store.db.QueryRow(ctx, q, path))
}

// GetEntitiesByPathHash returns every entity whose path hashes to the given
// digest, ordered by full path. More than one row means a hash collision;
// callers disambiguate by full-path equality.
func (store *Store) GetEntitiesByPathHash(ctx context.Context, pathHash int64) ([]Entity, error) {
	return store.pathHashCache.get(ctx, store, pathHash)
}

func (store *Store) getEntitiesByPathHashUncached(ctx context.Context, pathHash int64) ([]Entity, error) {
	const q = `SELECT ` + entityColumns + ` FROM entity WHERE path_hash = $1 ORDER BY path`
	rows, err := store.db.Query(ctx, q, pathHash)
	if err != nil {
		return nil, err
	}
	return collectEntities(rows)
}

// ListEntitiesByPaths fetches the entities for an exact set of paths in one
// round trip, ordered root to leaf. Used to materialize an ancestor chain
// from path prefixes.
func (store *Store) ListEntitiesByPaths(ctx context.Context, paths []string) ([]Entity, error) {
	const q = `SELECT ` + entityColumns + ` FROM entity WHERE path = ANY($1) ORDER BY depth`
	rows, err := store.db.Query(ctx, q, paths)
	if err != nil {
		return nil, err
	}
	return collectEntities(rows)
}

// ListEntitiesByIDs fetches a batch of entities by primary key, ordered
// root to leaf. Used to materialize projection ancestor chains without
// recursive traversal.
func (store *Store) ListEntitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]Entity, error) {
	const q = `SELECT ` + entityColumns + ` FROM entity WHERE id = ANY($1) ORDER BY depth`
	rows, err := store.db.Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	return collectEntities(rows)
}

// ListByPrefixParams bounds a descendant page scan. AfterPath is the
// exclusive keyset cursor; empty means start at the beginning.
type ListByPrefixParams struct {
	Prefix    string
	AfterPath string
	Limit     int32
}

// ListEntitiesByPathPrefix returns entities strictly under Prefix in stable
// path-lexicographic order, bounded by Limit.
func (store *Store) ListEntitiesByPathPrefix(ctx context.Context, params ListByPrefixParams) ([]Entity, error) {
	const q = `SELECT ` + entityColumns + `
FROM entity
WHERE path LIKE $1 AND path > $2
ORDER BY path
LIMIT $3`
	after := params.AfterPath
	if after == "" {
		// Descendants all sort after the subject's own path.
		after = params.Prefix
	}
	rows, err := store.db.Query(ctx, q, likeEscape(params.Prefix)+PathDelimiter+"%", after, params.Limit)
	if err != nil {
		return nil, err
	}
	return collectEntities(rows)
}

// CountDescendants counts every entity strictly under the given path.
func (store *Store) CountDescendants(ctx context.Context, path string) (int64, error) {
	const q = `SELECT count(*) FROM entity WHERE path LIKE $1`
	var n int64
	err := store.db.QueryRow(ctx, q, likeEscape(path)+PathDelimiter+"%").Scan(&n)
	return n, err
}

// InsertEntity derives the child path from the parent row and the segment,
// validates the path invariant, and inserts the new row in a transaction.
func (store *Store) InsertEntity(ctx context.Context, params InsertEntityParams) (Entity, error) {
	if !ValidSegment(params.Segment) {
		return Entity{}, fmt.Errorf("invalid path segment %q", params.Segment)
	}

	var inserted Entity
	err := store.execTx(ctx, func(s *Store) error {
		parentPath := ""
		var parentDepth int32
		if params.ParentID != nil {
			parent, err := s.GetEntity(ctx, *params.ParentID)
			if err != nil {
				return fmt.Errorf("load parent %s: %w", *params.ParentID, err)
			}
			parentPath = parent.Path
			parentDepth = parent.Depth
		}

		path := ChildPath(parentPath, params.Segment)
		depth := parentDepth + 1
		if err := ValidateChild(path, depth, parentPath, parentDepth); err != nil {
			return err
		}

		const q = `INSERT INTO entity (id, name, kind, path, depth, path_hash, parent_id, confidence, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + entityColumns
		var err error
		inserted, err = scanEntity(s.db.QueryRow(ctx, q,
			params.ID, params.Name, params.Kind, path, depth, ComputePathHash(path),
			params.ParentID, params.Confidence, params.Metadata))
		return err
	})
	if err != nil {
		return Entity{}, err
	}
	store.pathHashCache.forget(inserted.PathHash)
	return inserted, nil
}

// UpdateEntityName updates mutable entity attributes. Paths never change in
// place; moves are modeled as delete plus insert by the ingestion pipeline.
func (store *Store) UpdateEntityName(ctx context.Context, id uuid.UUID, name string) (Entity, error) {
	const q = `UPDATE entity SET name = $2, updated_at = now() WHERE id = $1
RETURNING ` + entityColumns
	e, err := scanEntity(store.db.QueryRow(ctx, q, id, name))
	if err != nil {
		return Entity{}, err
	}
	store.pathHashCache.forget(e.PathHash)
	return e, nil
}

// likeEscape escapes LIKE metacharacters so a materialized path is matched
// literally in prefix patterns.
func likeEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
