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
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// PathDelimiter separates segments of a materialized path, e.g.
// "root.region.country".
const PathDelimiter = "."

// SplitPath returns the segments of a materialized path. An empty path
// yields nil.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, PathDelimiter)
}

// PathDepth returns the number of segments in a materialized path.
func PathDepth(path string) int32 {
	if path == "" {
		return 0
	}
	return int32(strings.Count(path, PathDelimiter) + 1)
}

// ParentPath returns the path with the last segment removed, or "" for a
// root-level path.
func ParentPath(path string) string {
	idx := strings.LastIndex(path, PathDelimiter)
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// LastSegment returns the final segment of a materialized path.
func LastSegment(path string) string {
	idx := strings.LastIndex(path, PathDelimiter)
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// ChildPath joins a parent path and a segment. A root entity has an empty
// parent path and its path is just the segment.
func ChildPath(parentPath, segment string) string {
	if parentPath == "" {
		return segment
	}
	return parentPath + PathDelimiter + segment
}

// PathPrefixes returns every prefix of a path ordered root first, including
// the path itself: "root.a.b" yields ["root", "root.a", "root.a.b"].
func PathPrefixes(path string) []string {
	segs := SplitPath(path)
	if segs == nil {
		return nil
	}
	prefixes := make([]string, 0, len(segs))
	var b strings.Builder
	for i, seg := range segs {
		if i > 0 {
			b.WriteString(PathDelimiter)
		}
		b.WriteString(seg)
		prefixes = append(prefixes, b.String())
	}
	return prefixes
}

// ComputePathHash returns the fixed-size digest stored alongside each path.
// It is a speed optimization only; two distinct paths may collide, and
// callers must disambiguate by full path.
func ComputePathHash(path string) int64 {
	return int64(xxhash.Sum64String(path))
}

// ValidSegment reports whether s may be used as a path segment. Segments
// must be non-empty and must not contain the delimiter or whitespace.
func ValidSegment(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, PathDelimiter+" \t\n\r")
}

// ValidatePath checks that every segment of path is well formed.
func ValidatePath(path string) error {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return fmt.Errorf("empty path")
	}
	for _, seg := range segs {
		if !ValidSegment(seg) {
			return fmt.Errorf("invalid path segment %q in %q", seg, path)
		}
	}
	return nil
}

// ValidateChild enforces the path invariant between a child row and its
// parent: the child's path is the parent's path plus one segment, and its
// depth is the parent's depth plus one.
func ValidateChild(childPath string, childDepth int32, parentPath string, parentDepth int32) error {
	if ParentPath(childPath) != parentPath {
		return fmt.Errorf("path %q is not a direct child of %q", childPath, parentPath)
	}
	if childDepth != parentDepth+1 {
		return fmt.Errorf("depth %d for path %q, want %d", childDepth, childPath, parentDepth+1)
	}
	if childDepth != PathDepth(childPath) {
		return fmt.Errorf("depth %d does not match segment count of %q", childDepth, childPath)
	}
	return nil
}
