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

package tiercache

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Cache values cross the process boundary into tier 2, so they are encoded
// once with CBOR and treated as opaque bytes by both tiers.

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	cborDec, err = cbor.DecOptions{DefaultMapType: nil}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes a typed value for storage in either tier.
func Encode[T any](v T) ([]byte, error) {
	return cborEnc.Marshal(v)
}

// Decode deserializes a value previously produced by Encode.
func Decode[T any](data []byte) (T, error) {
	var v T
	err := cborDec.Unmarshal(data, &v)
	return v, err
}

// GetTyped is a convenience wrapper that decodes a hit. A value that fails
// to decode is treated as a miss and dropped from tier 1 so it can be
// repopulated.
func GetTyped[T any](ctx context.Context, cache *Cache, key string) (T, bool) {
	var zero T
	data, ok := cache.Get(ctx, key)
	if !ok {
		return zero, false
	}
	v, err := Decode[T](data)
	if err != nil {
		cache.l1.Delete(key)
		return zero, false
	}
	return v, true
}

// SetTyped encodes and stores a typed value in both tiers. The only error
// it can return is an encoding failure; cache writes never fail.
func SetTyped[T any](ctx context.Context, cache *Cache, key string, v T, ttl time.Duration) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	cache.Set(ctx, key, data, ttl)
	return nil
}
