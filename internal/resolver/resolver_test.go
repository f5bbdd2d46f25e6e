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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cartahq/cartanav/hierdb"
	"github.com/cartahq/cartanav/internal/tiercache"
)

var errStoreDown = errors.New("store down")

// fakeStore is an in-memory Store that counts calls per method, so tests
// can assert which tier answered.
type fakeStore struct {
	mu          sync.Mutex
	entities    map[uuid.UUID]hierdb.Entity
	projections map[uuid.UUID]hierdb.ProjectionRow
	failing     bool
	calls       map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities:    make(map[uuid.UUID]hierdb.Entity),
		projections: make(map[uuid.UUID]hierdb.ProjectionRow),
		calls:       make(map[string]int),
	}
}

// add inserts an entity derived from its path, bypassing InsertEntity.
func (f *fakeStore) add(path string) hierdb.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := hierdb.Entity{
		ID:        uuid.New(),
		Name:      hierdb.LastSegment(path),
		Kind:      hierdb.EntityKindLocation,
		Path:      path,
		Depth:     hierdb.PathDepth(path),
		PathHash:  hierdb.ComputePathHash(path),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if parent := hierdb.ParentPath(path); parent != "" {
		for _, p := range f.entities {
			if p.Path == parent {
				id := p.ID
				e.ParentID = &id
			}
		}
	}
	f.entities[e.ID] = e
	return e
}

func (f *fakeStore) setFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func (f *fakeStore) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeStore) begin(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if f.failing {
		return errStoreDown
	}
	return nil
}

func (f *fakeStore) GetEntity(_ context.Context, id uuid.UUID) (hierdb.Entity, error) {
	if err := f.begin("GetEntity"); err != nil {
		return hierdb.Entity{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[id]
	if !ok {
		return hierdb.Entity{}, hierdb.ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) GetEntitiesByPathHash(_ context.Context, pathHash int64) ([]hierdb.Entity, error) {
	if err := f.begin("GetEntitiesByPathHash"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []hierdb.Entity
	for _, e := range f.entities {
		if e.PathHash == pathHash {
			out = append(out, e)
		}
	}
	sortByPath(out)
	return out, nil
}

func (f *fakeStore) ListEntitiesByIDs(_ context.Context, ids []uuid.UUID) ([]hierdb.Entity, error) {
	if err := f.begin("ListEntitiesByIDs"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []hierdb.Entity
	for _, id := range ids {
		if e, ok := f.entities[id]; ok {
			out = append(out, e)
		}
	}
	sortByDepth(out)
	return out, nil
}

func (f *fakeStore) ListEntitiesByPaths(_ context.Context, paths []string) ([]hierdb.Entity, error) {
	if err := f.begin("ListEntitiesByPaths"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}
	var out []hierdb.Entity
	for _, e := range f.entities {
		if want[e.Path] {
			out = append(out, e)
		}
	}
	sortByDepth(out)
	return out, nil
}

func (f *fakeStore) ListEntitiesByPathPrefix(_ context.Context, params hierdb.ListByPrefixParams) ([]hierdb.Entity, error) {
	if err := f.begin("ListEntitiesByPathPrefix"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []hierdb.Entity
	for _, e := range f.entities {
		if strings.HasPrefix(e.Path, params.Prefix+hierdb.PathDelimiter) && e.Path > params.AfterPath {
			out = append(out, e)
		}
	}
	sortByPath(out)
	if int32(len(out)) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (f *fakeStore) CountDescendants(_ context.Context, path string) (int64, error) {
	if err := f.begin("CountDescendants"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.entities {
		if strings.HasPrefix(e.Path, path+hierdb.PathDelimiter) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) InsertEntity(_ context.Context, params hierdb.InsertEntityParams) (hierdb.Entity, error) {
	if err := f.begin("InsertEntity"); err != nil {
		return hierdb.Entity{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	parentPath := ""
	var parentDepth int32
	if params.ParentID != nil {
		parent, ok := f.entities[*params.ParentID]
		if !ok {
			return hierdb.Entity{}, hierdb.ErrNotFound
		}
		parentPath = parent.Path
		parentDepth = parent.Depth
	}
	path := hierdb.ChildPath(parentPath, params.Segment)
	for _, e := range f.entities {
		if e.Path == path {
			return hierdb.Entity{}, &pgconn.PgError{
				Code:    "23505",
				Message: `duplicate key value violates unique constraint "idx_entity_path"`,
			}
		}
	}
	e := hierdb.Entity{
		ID:        params.ID,
		Name:      params.Name,
		Kind:      params.Kind,
		Path:      path,
		Depth:     parentDepth + 1,
		PathHash:  hierdb.ComputePathHash(path),
		ParentID:  params.ParentID,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	f.entities[e.ID] = e
	return e, nil
}

func (f *fakeStore) UpdateEntityName(_ context.Context, id uuid.UUID, name string) (hierdb.Entity, error) {
	if err := f.begin("UpdateEntityName"); err != nil {
		return hierdb.Entity{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[id]
	if !ok {
		return hierdb.Entity{}, hierdb.ErrNotFound
	}
	e.Name = name
	e.UpdatedAt = time.Now().UTC()
	f.entities[id] = e
	return e, nil
}

func (f *fakeStore) GetProjection(_ context.Context, entityID uuid.UUID) (hierdb.ProjectionRow, error) {
	if err := f.begin("GetProjection"); err != nil {
		return hierdb.ProjectionRow{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.projections[entityID]
	if !ok {
		return hierdb.ProjectionRow{}, hierdb.ErrNotFound
	}
	return row, nil
}

func (f *fakeStore) UpsertProjection(_ context.Context, row hierdb.ProjectionRow) error {
	if err := f.begin("UpsertProjection"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projections[row.EntityID] = row
	return nil
}

func (f *fakeStore) RecomputeProjection(_ context.Context, _ string) (int, error) {
	if err := f.begin("RecomputeProjection"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entities), nil
}

func sortByPath(entities []hierdb.Entity) {
	sort.Slice(entities, func(i, j int) bool { return entities[i].Path < entities[j].Path })
}

func sortByDepth(entities []hierdb.Entity) {
	sort.Slice(entities, func(i, j int) bool { return entities[i].Depth < entities[j].Depth })
}

// fakeHealth is a HealthReporter with a settable degraded bias.
type fakeHealth struct {
	mu                  sync.Mutex
	deg                 bool
	failures, successes int
}

func (h *fakeHealth) ReportStoreFailure(context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
}

func (h *fakeHealth) ReportStoreSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.successes++
}

func (h *fakeHealth) Degraded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deg
}

func (h *fakeHealth) setDegraded(deg bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deg = deg
}

func testResolverConfig() Config {
	return Config{
		CacheTTL:                 time.Minute,
		ProjectionStalenessBound: 15 * time.Minute,
		StoreRetryAttempts:       2,
		StoreRetryBaseDelay:      time.Millisecond,
		DefaultPageLimit:         100,
		MaxPageLimit:             1000,
	}
}

func newTestResolver(store *fakeStore, health HealthReporter) *Resolver {
	cache := tiercache.New(tiercache.Config{
		RetryMaxAttempts: 1,
		RetryBaseDelay:   time.Millisecond,
	}, nil)
	return NewResolver(testResolverConfig(), store, cache, health)
}
