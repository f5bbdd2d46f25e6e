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
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultPathHashCacheTTL      = 30 * time.Second
	defaultPathHashCacheCapacity = 100_000
)

type pathHashCacheValue struct {
	entities []Entity
	err      error
}

// pathHashCache is a read-through cache over path-hash lookups. Hash
// lookups are hot (every ancestor resolution starts with one) and the
// result set is tiny, so a short TTL keeps it cheap without risking long
// staleness. Misses are cached too.
type pathHashCache struct {
	cache *ttlcache.Cache[int64, pathHashCacheValue]
}

func newPathHashCache(ttl time.Duration) *pathHashCache {
	c := &pathHashCache{
		cache: ttlcache.New(
			ttlcache.WithTTL[int64, pathHashCacheValue](ttl),
			ttlcache.WithDisableTouchOnHit[int64, pathHashCacheValue](),
			ttlcache.WithCapacity[int64, pathHashCacheValue](defaultPathHashCacheCapacity),
		),
	}
	go c.cache.Start()
	return c
}

func (c *pathHashCache) get(ctx context.Context, store *Store, pathHash int64) ([]Entity, error) {
	loader := ttlcache.LoaderFunc[int64, pathHashCacheValue](
		func(cache *ttlcache.Cache[int64, pathHashCacheValue], key int64) *ttlcache.Item[int64, pathHashCacheValue] {
			entities, err := store.getEntitiesByPathHashUncached(ctx, key)
			return cache.Set(key, pathHashCacheValue{entities: entities, err: err}, ttlcache.DefaultTTL)
		},
	)
	v := c.cache.Get(pathHash, ttlcache.WithLoader(loader))
	if v != nil {
		return v.Value().entities, v.Value().err
	}
	return nil, errors.New("failed to get entities by path hash from cache")
}

func (c *pathHashCache) forget(pathHash int64) {
	c.cache.Delete(pathHash)
}

func (c *pathHashCache) Stop() {
	c.cache.Stop()
}
