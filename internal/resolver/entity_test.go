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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartahq/cartanav/hierdb"
)

func TestGetEntityByPath_ExactMatch(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.add("root")
	fr := store.add("root.fr")

	r := newTestResolver(store, nil)

	res, err := r.GetEntityByPath(ctx, "root.fr")
	require.NoError(t, err)
	assert.Equal(t, fr.ID, res.Value.ID)
	assert.Empty(t, res.Warnings)

	// Second lookup comes from cache.
	hashCalls := store.callCount("GetEntitiesByPathHash")
	res, err = r.GetEntityByPath(ctx, "root.fr")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, hashCalls, store.callCount("GetEntitiesByPathHash"))
}

func TestGetEntityByPath_NotFound(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.add("root")

	r := newTestResolver(store, nil)

	_, err := r.GetEntityByPath(ctx, "root.missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.GetEntityByPath(ctx, "not a path")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetEntityByPath_HashCollisionResolvedByFullPath(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	requested := store.add("root.x")

	// Force a second entity onto the same hash with a different path.
	collided := hierdb.Entity{
		ID:        uuid.New(),
		Name:      "y",
		Kind:      hierdb.EntityKindLocation,
		Path:      "root.y",
		Depth:     2,
		PathHash:  requested.PathHash,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	store.entities[collided.ID] = collided

	r := newTestResolver(store, nil)

	res, err := r.GetEntityByPath(ctx, "root.x")
	require.NoError(t, err)
	assert.Equal(t, requested.ID, res.Value.ID, "exact path wins over the colliding row")
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "collision")
}

func TestGetEntity_CachesById(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	e := store.add("root")

	r := newTestResolver(store, nil)

	res, err := r.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, res.Value.ID)
	assert.Equal(t, SourceStore, res.Source)

	calls := store.callCount("GetEntity")
	res, err = r.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, calls, store.callCount("GetEntity"), "second read served from cache")
	assert.Equal(t, SourceCache, res.Source, "cached read reports its tier")
}
