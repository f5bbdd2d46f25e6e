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
	"fmt"

	"github.com/google/uuid"

	"github.com/cartahq/cartanav/hierdb"
)

// Cache keys carry the query kind plus the entity path (or id), so a write
// at one path can invalidate the affected keys by prefix without touching
// siblings. The ":" terminator after paths keeps "root.a" from matching
// keys under "root.ab".

const (
	keyPrefixAncestors   = "hier:anc:"
	keyPrefixDescendants = "hier:desc:"
	keyPrefixEntityID    = "hier:ent:"
	keyPrefixEntityPath  = "hier:path:"
)

func ancestorsKey(path string) string {
	return keyPrefixAncestors + path + ":"
}

func descendantsKey(path, cursor string, limit int32) string {
	return fmt.Sprintf("%s%s:%s:%d", keyPrefixDescendants, path, cursor, limit)
}

// descendantsKeyPrefix matches every cached page under path, regardless of
// cursor or limit.
func descendantsKeyPrefix(path string) string {
	return keyPrefixDescendants + path + ":"
}

func entityIDKey(id uuid.UUID) string {
	return keyPrefixEntityID + id.String()
}

func entityPathKey(path string) string {
	return keyPrefixEntityPath + path + ":"
}

// invalidationTargets lists the key deletions and prefix invalidations a
// write at path requires: the entity's own keys, ancestor queries for the
// entity and everything below it, and descendant pages for the entity and
// every ancestor above it.
func invalidationTargets(id uuid.UUID, path string) (deletes []string, prefixes []string) {
	deletes = []string{
		entityIDKey(id),
		entityPathKey(path),
		ancestorsKey(path),
	}
	prefixes = []string{
		// Descendants' ancestor chains include this entity.
		keyPrefixAncestors + path + hierdb.PathDelimiter,
	}
	for _, p := range hierdb.PathPrefixes(path) {
		prefixes = append(prefixes, descendantsKeyPrefix(p))
	}
	return deletes, prefixes
}
