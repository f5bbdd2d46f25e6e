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
	"time"

	"github.com/google/uuid"
)

// EntityKind discriminates the entity types the navigation platform tracks.
type EntityKind string

const (
	EntityKindOrganization EntityKind = "organization"
	EntityKindPerson       EntityKind = "person"
	EntityKindLocation     EntityKind = "location"
	EntityKindScenario     EntityKind = "scenario"
)

// Entity is one row of the materialized-path store. ParentID is a lookup
// key only; the in-memory representation never holds an owning reference to
// the parent row.
type Entity struct {
	ID         uuid.UUID      `cbor:"1,keyasint" json:"id"`
	Name       string         `cbor:"2,keyasint" json:"name"`
	Kind       EntityKind     `cbor:"3,keyasint" json:"kind"`
	Path       string         `cbor:"4,keyasint" json:"path"`
	Depth      int32          `cbor:"5,keyasint" json:"depth"`
	PathHash   int64          `cbor:"6,keyasint" json:"pathHash"`
	ParentID   *uuid.UUID     `cbor:"7,keyasint,omitempty" json:"parentId,omitempty"`
	Confidence *float64       `cbor:"8,keyasint,omitempty" json:"confidence,omitempty"`
	Metadata   map[string]any `cbor:"9,keyasint,omitempty" json:"metadata,omitempty"`
	CreatedAt  time.Time      `cbor:"10,keyasint" json:"createdAt"`
	UpdatedAt  time.Time      `cbor:"11,keyasint" json:"updatedAt"`
}

// ProjectionRow is one row of the precomputed ancestor/descendant
// projection. AncestorIDs is ordered root first. Rows are always written
// whole; ComputedAt bounds how stale the row may be.
type ProjectionRow struct {
	EntityID        uuid.UUID
	AncestorIDs     []uuid.UUID
	DescendantCount int64
	ComputedAt      time.Time
}

// InsertEntityParams carries the caller-supplied fields for a new entity.
// Path, Depth, and PathHash are derived by the store from the parent row
// and the segment.
type InsertEntityParams struct {
	ID         uuid.UUID
	Name       string
	Kind       EntityKind
	Segment    string
	ParentID   *uuid.UUID
	Confidence *float64
	Metadata   map[string]any
}
