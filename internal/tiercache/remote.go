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
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRemoteMiss is returned by Remote.Get when the key is absent. Any
// other error means the remote tier is unhealthy for that call.
var ErrRemoteMiss = errors.New("tiercache: remote miss")

// Remote is the distributed tier. All calls must honor ctx deadlines.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	ScanAndDelete(ctx context.Context, prefix string) (int64, error)
	Ping(ctx context.Context) error
}

// scanBatchSize bounds each SCAN page so pattern invalidation never holds
// the shared store in a long blocking enumeration.
const scanBatchSize = 256

type redisRemote struct {
	client *redis.Client
}

// RedisConfig holds connection settings for the distributed tier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisRemote builds a Remote on a go-redis client.
func NewRedisRemote(cfg RedisConfig) Remote {
	return &redisRemote{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// NewRemoteFromClient wraps an existing client, mainly for tests.
func NewRemoteFromClient(client *redis.Client) Remote {
	return &redisRemote{client: client}
}

func (r *redisRemote) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRemoteMiss
	}
	return val, err
}

func (r *redisRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisRemote) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// ScanAndDelete removes keys matching prefix using incremental SCAN pages,
// never a blocking KEYS enumeration.
func (r *redisRemote) ScanAndDelete(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", scanBatchSize).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			deleted += n
			if err != nil {
				return deleted, err
			}
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
	}
}

func (r *redisRemote) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
