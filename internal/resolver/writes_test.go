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

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartahq/cartanav/hierdb"
)

func TestCreateEntity_InvalidatesDescendantPages(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	root := store.add("root")
	store.add("root.a")

	r := newTestResolver(store, nil)

	// Warm the descendant page cache.
	before, err := r.ResolveDescendants(ctx, root.ID, 10, "")
	require.NoError(t, err)
	require.Len(t, before.Value.Entities, 1)
	cached, err := r.ResolveDescendants(ctx, root.ID, 10, "")
	require.NoError(t, err)
	require.Equal(t, SourceCache, cached.Source)

	_, err = r.CreateEntity(ctx, hierdb.InsertEntityParams{
		ID:       uuid.New(),
		Name:     "B",
		Kind:     hierdb.EntityKindLocation,
		Segment:  "b",
		ParentID: &root.ID,
	})
	require.NoError(t, err)

	after, err := r.ResolveDescendants(ctx, root.ID, 10, "")
	require.NoError(t, err)
	assert.Equal(t, SourceStore, after.Source, "write dropped the cached page")
	assert.Len(t, after.Value.Entities, 2, "new child visible immediately")
}

func TestCreateEntity_CountsWrites(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	root := store.add("root")

	r := newTestResolver(store, nil)
	assert.Zero(t, r.WritesSinceLastCheck())

	for _, seg := range []string{"a", "b", "c"} {
		_, err := r.CreateEntity(ctx, hierdb.InsertEntityParams{
			ID:       uuid.New(),
			Name:     seg,
			Kind:     hierdb.EntityKindLocation,
			Segment:  seg,
			ParentID: &root.ID,
		})
		require.NoError(t, err)
	}

	assert.EqualValues(t, 3, r.WritesSinceLastCheck())
	assert.Zero(t, r.WritesSinceLastCheck(), "check resets the counter")
}

func TestCreateEntity_DuplicateIsNotAStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	root := store.add("root")

	health := &fakeHealth{}
	r := newTestResolver(store, health)

	params := func() hierdb.InsertEntityParams {
		return hierdb.InsertEntityParams{
			ID:       uuid.New(),
			Name:     "FR",
			Kind:     hierdb.EntityKindLocation,
			Segment:  "fr",
			ParentID: &root.ID,
		}
	}

	_, err := r.CreateEntity(ctx, params())
	require.NoError(t, err)

	// A retrying client re-sending the same create must not push the
	// store toward degraded.
	for i := 0; i < 3; i++ {
		_, err := r.CreateEntity(ctx, params())
		require.Error(t, err)
	}

	assert.Zero(t, health.failures, "unique violations are write conflicts, not connectivity failures")
	assert.Equal(t, 4, health.successes, "each round trip still counts as a healthy store")
}

func TestRenameEntity_InvalidatesEntityCaches(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	e := store.add("root")

	r := newTestResolver(store, nil)

	res, err := r.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, "root", res.Value.Name)

	_, err = r.RenameEntity(ctx, e.ID, "World")
	require.NoError(t, err)

	res, err = r.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "World", res.Value.Name, "rename visible after invalidation")
}

func TestRenameEntity_NotFound(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(newFakeStore(), nil)

	_, err := r.RenameEntity(ctx, uuid.New(), "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshProjection(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.add("root")
	store.add("root.a")

	r := newTestResolver(store, nil)

	rows, err := r.RefreshProjection(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, rows)
	assert.Equal(t, 1, store.callCount("RecomputeProjection"))
}
