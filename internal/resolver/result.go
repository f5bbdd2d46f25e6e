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
	"errors"

	"github.com/cartahq/cartanav/hierdb"
)

var (
	// ErrNotFound means the entity genuinely does not exist. Terminal;
	// retrying will not help.
	ErrNotFound = errors.New("resolver: not found")

	// ErrUnavailable means every tier that could answer was unreachable
	// after bounded retry. The caller may retry later.
	ErrUnavailable = errors.New("resolver: store unavailable")

	// ErrInvalidCursor means a resumption cursor was not produced by this
	// resolver.
	ErrInvalidCursor = errors.New("resolver: invalid cursor")
)

// Source names the tier that produced an answer.
type Source string

const (
	SourceCache      Source = "cache"
	SourceProjection Source = "projection"
	SourceStore      Source = "store"
)

// Result wraps a resolved value with its provenance. Stale marks an answer
// served from a projection row past its freshness bound, which happens
// only when the store is degraded and a stale answer beats a hard failure.
// Warnings carries integrity findings (e.g. path-hash collisions) that
// never block resolution.
type Result[T any] struct {
	Value    T
	Source   Source
	Stale    bool
	Warnings []string
}

// DescendantPage is one stable page of a descendant scan. Cursor is opaque
// and empty when the scan is exhausted.
type DescendantPage struct {
	Entities []hierdb.Entity `cbor:"1,keyasint" json:"entities"`
	Cursor   string          `cbor:"2,keyasint" json:"cursor,omitempty"`
}
