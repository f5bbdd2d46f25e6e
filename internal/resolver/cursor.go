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
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// The resumption cursor is opaque to callers: a keyset position (the last
// path returned) wrapped in CBOR and base64. Keyset paging keeps page
// contents stable in path order across calls with no intervening writes.

type cursorState struct {
	AfterPath string `cbor:"1,keyasint"`
}

func encodeCursor(afterPath string) string {
	if afterPath == "" {
		return ""
	}
	data, err := cbor.Marshal(cursorState{AfterPath: afterPath})
	if err != nil {
		// cursorState contains one string; this cannot fail.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidCursor, err)
	}
	var state cursorState
	if err := cbor.Unmarshal(data, &state); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidCursor, err)
	}
	return state.AfterPath, nil
}
