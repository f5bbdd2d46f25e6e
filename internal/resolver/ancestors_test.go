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

func TestResolveAncestors_ColdMissFallsToStoreAndBackfills(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	root := store.add("root")
	eu := store.add("root.eu")
	fr := store.add("root.eu.fr")

	r := newTestResolver(store, nil)

	res, err := r.ResolveAncestors(ctx, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, SourceStore, res.Source)
	require.Len(t, res.Value, 2)
	assert.Equal(t, root.ID, res.Value[0].ID, "root first")
	assert.Equal(t, eu.ID, res.Value[1].ID)
	assert.False(t, res.Stale)

	// The resolved chain was backfilled into the projection.
	row, err := store.GetProjection(ctx, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{root.ID, eu.ID}, row.AncestorIDs)
	assert.EqualValues(t, 0, row.DescendantCount)
}

func TestResolveAncestors_RepeatHitServedFromCache(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.add("root")
	store.add("root.eu")
	fr := store.add("root.eu.fr")

	r := newTestResolver(store, nil)

	_, err := r.ResolveAncestors(ctx, fr.ID)
	require.NoError(t, err)
	listCalls := store.callCount("ListEntitiesByPaths")

	res, err := r.ResolveAncestors(ctx, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, listCalls, store.callCount("ListEntitiesByPaths"), "no store round trip on the cached call")
}

func TestResolveAncestors_FreshProjectionServes(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	root := store.add("root")
	eu := store.add("root.eu")
	fr := store.add("root.eu.fr")
	store.projections[fr.ID] = hierdb.ProjectionRow{
		EntityID:    fr.ID,
		AncestorIDs: []uuid.UUID{root.ID, eu.ID},
		ComputedAt:  time.Now().UTC(),
	}

	r := newTestResolver(store, nil)

	res, err := r.ResolveAncestors(ctx, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, SourceProjection, res.Source)
	assert.False(t, res.Stale)
	require.Len(t, res.Value, 2)
	assert.Equal(t, root.ID, res.Value[0].ID)
	assert.Zero(t, store.callCount("ListEntitiesByPaths"), "no prefix traversal")
}

func TestResolveAncestors_StaleProjectionSkippedWhenHealthy(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	root := store.add("root")
	eu := store.add("root.eu")
	fr := store.add("root.eu.fr")
	store.projections[fr.ID] = hierdb.ProjectionRow{
		EntityID:    fr.ID,
		AncestorIDs: []uuid.UUID{root.ID, eu.ID},
		ComputedAt:  time.Now().UTC().Add(-time.Hour),
	}

	health := &fakeHealth{}
	r := newTestResolver(store, health)

	res, err := r.ResolveAncestors(ctx, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, SourceStore, res.Source, "stale row bypassed while the store is healthy")
	assert.False(t, res.Stale)
}

func TestResolveAncestors_DegradedServesStaleProjection(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	root := store.add("root")
	eu := store.add("root.eu")
	fr := store.add("root.eu.fr")
	store.projections[fr.ID] = hierdb.ProjectionRow{
		EntityID:    fr.ID,
		AncestorIDs: []uuid.UUID{root.ID, eu.ID},
		ComputedAt:  time.Now().UTC().Add(-time.Hour),
	}

	health := &fakeHealth{}
	health.setDegraded(true)
	r := newTestResolver(store, health)

	res, err := r.ResolveAncestors(ctx, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, SourceProjection, res.Source)
	assert.True(t, res.Stale, "degraded mode marks the answer stale")
	require.Len(t, res.Value, 2)

	// The stale chain must not linger in tiers 1/2: every degraded read
	// keeps carrying the marker, and recovery serves fresh data at once.
	res, err = r.ResolveAncestors(ctx, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, SourceProjection, res.Source, "stale serve was not cached")
	assert.True(t, res.Stale, "repeat degraded read still reports stale")
}

func TestResolveAncestors_ProjectionHitDoesNotRewriteProjection(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	root := store.add("root")
	eu := store.add("root.eu")
	fr := store.add("root.eu.fr")
	computed := time.Now().UTC().Add(-time.Minute)
	store.projections[fr.ID] = hierdb.ProjectionRow{
		EntityID:    fr.ID,
		AncestorIDs: []uuid.UUID{root.ID, eu.ID},
		ComputedAt:  computed,
	}

	r := newTestResolver(store, nil)

	res, err := r.ResolveAncestors(ctx, fr.ID)
	require.NoError(t, err)
	require.Equal(t, SourceProjection, res.Source)

	assert.Zero(t, store.callCount("UpsertProjection"), "read path leaves the projection row alone")
	assert.Zero(t, store.callCount("CountDescendants"))
	assert.Equal(t, computed, store.projections[fr.ID].ComputedAt)

	cached, err := r.ResolveAncestors(ctx, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, cached.Source, "fresh hit still backfilled tiers 1/2")
}

func TestResolveAncestors_RootIsEmptyNotMissing(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	root := store.add("root")

	r := newTestResolver(store, nil)

	res, err := r.ResolveAncestors(ctx, root.ID)
	require.NoError(t, err)
	assert.NotNil(t, res.Value)
	assert.Empty(t, res.Value, "a root has a valid empty chain")
}

func TestResolveAncestors_UnknownEntityIsNotFound(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(newFakeStore(), nil)

	_, err := r.ResolveAncestors(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveAncestors_AllTiersDownIsUnavailable(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.add("root")
	store.add("root.eu")
	fr := store.add("root.eu.fr")

	r := newTestResolver(store, nil)

	// Warm only the entity lookup, then take the store down.
	_, err := r.GetEntity(ctx, fr.ID)
	require.NoError(t, err)
	store.setFailing(true)

	_, err = r.ResolveAncestors(ctx, fr.ID)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestResolveAncestors_HealthReporting(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.add("root")
	store.add("root.eu")
	fr := store.add("root.eu.fr")

	health := &fakeHealth{}
	r := newTestResolver(store, health)

	_, err := r.ResolveAncestors(ctx, fr.ID)
	require.NoError(t, err)

	health.mu.Lock()
	successes := health.successes
	health.mu.Unlock()
	assert.Positive(t, successes, "successful round trips are reported")
}

func TestCheckHashCollisions_Warns(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store, nil)

	shared := hierdb.ComputePathHash("collide")
	entities := []hierdb.Entity{
		{ID: uuid.New(), Path: "root.a", PathHash: shared},
		{ID: uuid.New(), Path: "root.b", PathHash: shared},
	}

	warnings := r.checkHashCollisions(context.Background(), entities)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "collision")
}
