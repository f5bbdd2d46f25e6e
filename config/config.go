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

package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cartahq/cartanav/internal/poolhealth"
	"github.com/cartahq/cartanav/internal/refresher"
	"github.com/cartahq/cartanav/internal/resolver"
	"github.com/cartahq/cartanav/internal/tiercache"
)

// Config aggregates configuration for the application. Each section maps
// onto the owning package's Config; absent or invalid values fall back to
// that package's defaults.
type Config struct {
	Cache      CacheConfig      `mapstructure:"cache"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Projection ProjectionConfig `mapstructure:"projection"`
	PoolHealth PoolHealthConfig `mapstructure:"pool_health"`
}

type CacheConfig struct {
	L1MaxEntries     int           `mapstructure:"l1_max_entries"`
	L1TTL            time.Duration `mapstructure:"l1_ttl"`
	L2TTL            time.Duration `mapstructure:"l2_ttl"`
	RemoteTimeout    time.Duration `mapstructure:"remote_timeout"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	HookTimeout      time.Duration `mapstructure:"hook_timeout"`
}

func (c CacheConfig) TierCache() tiercache.Config {
	return tiercache.Config{
		L1MaxEntries:     c.L1MaxEntries,
		L1TTL:            c.L1TTL,
		L2TTL:            c.L2TTL,
		RemoteTimeout:    c.RemoteTimeout,
		RetryMaxAttempts: c.RetryMaxAttempts,
		RetryBaseDelay:   c.RetryBaseDelay,
		HookTimeout:      c.HookTimeout,
	}
}

// RedisConfig configures the distributed cache tier. An empty Addr runs
// the service with the in-process tier only.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) TierCache() tiercache.RedisConfig {
	return tiercache.RedisConfig{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}
}

type ResolverConfig struct {
	CacheTTL                 time.Duration `mapstructure:"cache_ttl"`
	ProjectionStalenessBound time.Duration `mapstructure:"projection_staleness_bound"`
	StoreRetryAttempts       int           `mapstructure:"store_retry_attempts"`
	StoreRetryBaseDelay      time.Duration `mapstructure:"store_retry_base_delay"`
	DefaultPageLimit         int32         `mapstructure:"default_page_limit"`
	MaxPageLimit             int32         `mapstructure:"max_page_limit"`
}

func (c ResolverConfig) Resolver() resolver.Config {
	return resolver.Config{
		CacheTTL:                 c.CacheTTL,
		ProjectionStalenessBound: c.ProjectionStalenessBound,
		StoreRetryAttempts:       c.StoreRetryAttempts,
		StoreRetryBaseDelay:      c.StoreRetryBaseDelay,
		DefaultPageLimit:         c.DefaultPageLimit,
		MaxPageLimit:             c.MaxPageLimit,
	}
}

type ProjectionConfig struct {
	RefreshSchedule string        `mapstructure:"refresh_schedule"`
	WriteThreshold  int64         `mapstructure:"write_threshold"`
	CheckInterval   time.Duration `mapstructure:"check_interval"`
}

func (c ProjectionConfig) Refresher() refresher.Config {
	return refresher.Config{
		Schedule:       c.RefreshSchedule,
		WriteThreshold: c.WriteThreshold,
		CheckInterval:  c.CheckInterval,
	}
}

type PoolHealthConfig struct {
	SampleInterval       time.Duration `mapstructure:"sample_interval"`
	WarnThreshold        float64       `mapstructure:"warn_threshold"`
	DegradeAfterFailures int           `mapstructure:"degrade_after_failures"`
}

func (c PoolHealthConfig) Monitor() poolhealth.Config {
	return poolhealth.Config{
		SampleInterval:       c.SampleInterval,
		WarnThreshold:        c.WarnThreshold,
		DegradeAfterFailures: c.DegradeAfterFailures,
	}
}

// DefaultConfig seeds every section from the owning package's defaults.
func DefaultConfig() *Config {
	cache := tiercache.DefaultConfig()
	res := resolver.DefaultConfig()
	pool := poolhealth.DefaultConfig()
	return &Config{
		Cache: CacheConfig{
			L1MaxEntries:     cache.L1MaxEntries,
			L1TTL:            cache.L1TTL,
			L2TTL:            cache.L2TTL,
			RemoteTimeout:    cache.RemoteTimeout,
			RetryMaxAttempts: cache.RetryMaxAttempts,
			RetryBaseDelay:   cache.RetryBaseDelay,
			HookTimeout:      cache.HookTimeout,
		},
		Resolver: ResolverConfig{
			CacheTTL:                 res.CacheTTL,
			ProjectionStalenessBound: res.ProjectionStalenessBound,
			StoreRetryAttempts:       res.StoreRetryAttempts,
			StoreRetryBaseDelay:      res.StoreRetryBaseDelay,
			DefaultPageLimit:         res.DefaultPageLimit,
			MaxPageLimit:             res.MaxPageLimit,
		},
		Projection: ProjectionConfig{
			RefreshSchedule: "*/15 * * * *",
			WriteThreshold:  500,
			CheckInterval:   30 * time.Second,
		},
		PoolHealth: PoolHealthConfig{
			SampleInterval:       pool.SampleInterval,
			WarnThreshold:        pool.WarnThreshold,
			DegradeAfterFailures: pool.DegradeAfterFailures,
		},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "CARTANAV" and the dot character
// in keys is replaced by an underscore. For example, "redis.addr" becomes
// "CARTANAV_REDIS_ADDR".
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("CARTANAV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
