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
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetProjection fetches the precomputed ancestor/descendant row for one
// entity. The projection table is joined to the entity table by primary key
// only; any other join key in older data is a data-integrity bug.
func (store *Store) GetProjection(ctx context.Context, entityID uuid.UUID) (ProjectionRow, error) {
	const q = `SELECT entity_id, ancestor_ids, descendant_count, computed_at
FROM entity_projection WHERE entity_id = $1`
	var row ProjectionRow
	err := store.db.QueryRow(ctx, q, entityID).Scan(
		&row.EntityID, &row.AncestorIDs, &row.DescendantCount, &row.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProjectionRow{}, ErrNotFound
	}
	return row, err
}

const upsertProjectionSQL = `INSERT INTO entity_projection (entity_id, ancestor_ids, descendant_count, computed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (entity_id) DO UPDATE SET
	ancestor_ids = EXCLUDED.ancestor_ids,
	descendant_count = EXCLUDED.descendant_count,
	computed_at = EXCLUDED.computed_at`

// UpsertProjection writes one projection row whole. Rows are never
// field-patched.
func (store *Store) UpsertProjection(ctx context.Context, row ProjectionRow) error {
	_, err := store.db.Exec(ctx, upsertProjectionSQL,
		row.EntityID, row.AncestorIDs, row.DescendantCount, row.ComputedAt)
	return err
}

// RecomputeProjection recomputes projection rows for every entity at or
// under scopePath, or for the full tree when scopePath is empty. Rows are
// upserted individually inside a single transaction, so a concurrent
// reader observes each row either fully pre- or fully post-refresh.
// Returns the number of rows written.
func (store *Store) RecomputeProjection(ctx context.Context, scopePath string) (int, error) {
	var written int
	err := store.execTx(ctx, func(s *Store) error {
		subtree, chain, err := s.loadProjectionScope(ctx, scopePath)
		if err != nil {
			return err
		}
		if len(subtree) == 0 {
			return nil
		}

		rows := buildProjectionRows(subtree, chain, time.Now().UTC())

		batch := &pgx.Batch{}
		for _, row := range rows {
			batch.Queue(upsertProjectionSQL,
				row.EntityID, row.AncestorIDs, row.DescendantCount, row.ComputedAt)
		}
		results := s.db.SendBatch(ctx, batch)
		defer results.Close()
		for range rows {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("upsert projection row: %w", err)
			}
		}
		written = len(rows)
		return nil
	})
	return written, err
}

// loadProjectionScope loads the subtree rooted at scopePath (inclusive)
// plus the ancestor chain above it, as (id, path) pairs. An empty scope
// loads the whole tree with an empty chain.
func (store *Store) loadProjectionScope(ctx context.Context, scopePath string) (subtree, chain []Entity, err error) {
	if scopePath == "" {
		const q = `SELECT ` + entityColumns + ` FROM entity ORDER BY path`
		rows, err := store.db.Query(ctx, q)
		if err != nil {
			return nil, nil, err
		}
		subtree, err = collectEntities(rows)
		return subtree, nil, err
	}

	if err := ValidatePath(scopePath); err != nil {
		return nil, nil, err
	}

	const q = `SELECT ` + entityColumns + ` FROM entity WHERE path = $1 OR path LIKE $2 ORDER BY path`
	rows, err := store.db.Query(ctx, q, scopePath, likeEscape(scopePath)+PathDelimiter+"%")
	if err != nil {
		return nil, nil, err
	}
	subtree, err = collectEntities(rows)
	if err != nil {
		return nil, nil, err
	}

	prefixes := PathPrefixes(scopePath)
	if len(prefixes) > 1 {
		chain, err = store.ListEntitiesByPaths(ctx, prefixes[:len(prefixes)-1])
		if err != nil {
			return nil, nil, err
		}
	}
	return subtree, chain, nil
}

// buildProjectionRows derives a projection row for each subtree entity.
// subtree must be sorted by path; chain holds the ancestors above the
// subtree root, if any.
func buildProjectionRows(subtree, chain []Entity, computedAt time.Time) []ProjectionRow {
	idByPath := make(map[string]uuid.UUID, len(subtree)+len(chain))
	for _, e := range chain {
		idByPath[e.Path] = e.ID
	}
	paths := make([]string, len(subtree))
	for i, e := range subtree {
		idByPath[e.Path] = e.ID
		paths[i] = e.Path
	}

	rows := make([]ProjectionRow, 0, len(subtree))
	for _, e := range subtree {
		prefixes := PathPrefixes(e.Path)
		ancestors := make([]uuid.UUID, 0, len(prefixes)-1)
		for _, p := range prefixes[:len(prefixes)-1] {
			if id, ok := idByPath[p]; ok {
				ancestors = append(ancestors, id)
			}
		}
		rows = append(rows, ProjectionRow{
			EntityID:        e.ID,
			AncestorIDs:     ancestors,
			DescendantCount: countWithPathPrefix(paths, e.Path),
			ComputedAt:      computedAt,
		})
	}
	return rows
}

// countWithPathPrefix counts paths strictly under prefix in a sorted slice.
// Descendants of "a.b" sort contiguously between "a.b." and "a.b/" ('/' is
// the byte after the delimiter), so two binary searches bound the range.
func countWithPathPrefix(sortedPaths []string, prefix string) int64 {
	lo := sort.SearchStrings(sortedPaths, prefix+PathDelimiter)
	hi := sort.SearchStrings(sortedPaths, prefix+"/")
	return int64(hi - lo)
}
