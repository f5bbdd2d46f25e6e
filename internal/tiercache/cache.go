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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tierHitCounter        metric.Int64Counter
	tierMissCounter       metric.Int64Counter
	remoteDegradedCounter metric.Int64Counter
	hookFailureCounter    metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cartahq/cartanav/internal/tiercache")

	var err error
	tierHitCounter, err = meter.Int64Counter(
		"cartanav.tiercache.hits",
		metric.WithDescription("Cache hits by tier"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create tiercache.hits counter: %w", err))
	}

	tierMissCounter, err = meter.Int64Counter(
		"cartanav.tiercache.misses",
		metric.WithDescription("Cache misses across both tiers"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create tiercache.misses counter: %w", err))
	}

	remoteDegradedCounter, err = meter.Int64Counter(
		"cartanav.tiercache.remote_degraded",
		metric.WithDescription("Calls that fell back to tier 1 only after remote retry exhaustion"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create tiercache.remote_degraded counter: %w", err))
	}

	hookFailureCounter, err = meter.Int64Counter(
		"cartanav.tiercache.hook_failures",
		metric.WithDescription("Invalidation hooks that errored or timed out"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create tiercache.hook_failures counter: %w", err))
	}
}

// Config tunes the two cache tiers. Zero values are replaced by defaults,
// so an empty Config is always usable.
type Config struct {
	L1MaxEntries     int
	L1TTL            time.Duration
	L2TTL            time.Duration
	RemoteTimeout    time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	HookTimeout      time.Duration
}

// DefaultConfig returns the tuning used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		L1MaxEntries:     10_000,
		L1TTL:            5 * time.Minute,
		L2TTL:            30 * time.Minute,
		RemoteTimeout:    250 * time.Millisecond,
		RetryMaxAttempts: 3,
		RetryBaseDelay:   20 * time.Millisecond,
		HookTimeout:      2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.L1MaxEntries <= 0 {
		c.L1MaxEntries = def.L1MaxEntries
	}
	if c.L1TTL <= 0 {
		c.L1TTL = def.L1TTL
	}
	if c.L2TTL <= 0 {
		c.L2TTL = def.L2TTL
	}
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = def.RemoteTimeout
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	if c.HookTimeout <= 0 {
		c.HookTimeout = def.HookTimeout
	}
	return c
}

// ChangeKind tells invalidation hooks why a key went away.
type ChangeKind string

const (
	ChangeKindDelete     ChangeKind = "delete"
	ChangeKindInvalidate ChangeKind = "invalidate"
)

// InvalidationHook is notified synchronously when a key or pattern is
// removed. Hooks run under a per-hook timeout; failures are logged and
// never reach the writer that triggered the invalidation.
type InvalidationHook func(ctx context.Context, key string, kind ChangeKind) error

// Cache layers a process-local LRU (tier 1) over an optional distributed
// remote (tier 2). Get and Set never return errors: remote trouble
// degrades silently to tier-1-only behavior.
type Cache struct {
	cfg    Config
	l1     *LRU
	remote Remote

	hooksMu sync.RWMutex
	hooks   []InvalidationHook
}

// New builds a Cache. remote may be nil for a tier-1-only cache.
func New(cfg Config, remote Remote) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{
		cfg:    cfg,
		l1:     NewLRU(cfg.L1MaxEntries),
		remote: remote,
	}
}

// RegisterInvalidationHook adds a synchronous invalidation subscriber.
func (c *Cache) RegisterInvalidationHook(hook InvalidationHook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Get looks up key in tier 1, then tier 2. A tier 2 hit is backfilled into
// tier 1 before returning. Returns false on a miss or when only failing
// tiers remain.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if val, ok := c.l1.Get(key); ok {
		tierHitCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", "l1")))
		return val, true
	}

	if c.remote != nil {
		val, err := c.remoteGet(ctx, key)
		switch {
		case err == nil:
			c.l1.Set(key, val, c.cfg.L1TTL)
			tierHitCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", "l2")))
			return val, true
		case !errors.Is(err, ErrRemoteMiss):
			remoteDegradedCounter.Add(ctx, 1)
			slog.Debug("tier 2 get degraded", slog.String("key", key), slog.Any("error", err))
		}
	}

	tierMissCounter.Add(ctx, 1)
	return nil, false
}

// Set writes value to both tiers. The value is serialized once by the
// caller; this layer treats it as opaque bytes. Remote failures are
// absorbed.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	l1TTL := ttl
	if l1TTL <= 0 || l1TTL > c.cfg.L1TTL {
		l1TTL = c.cfg.L1TTL
	}
	c.l1.Set(key, value, l1TTL)

	if c.remote == nil {
		return
	}
	l2TTL := ttl
	if l2TTL <= 0 {
		l2TTL = c.cfg.L2TTL
	}
	if err := c.remoteRetry(ctx, func(callCtx context.Context) error {
		return c.remote.Set(callCtx, key, value, l2TTL)
	}); err != nil {
		remoteDegradedCounter.Add(ctx, 1)
		slog.Debug("tier 2 set degraded", slog.String("key", key), slog.Any("error", err))
	}
}

// Delete removes key from both tiers and notifies hooks.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.l1.Delete(key)
	if c.remote != nil {
		if err := c.remoteRetry(ctx, func(callCtx context.Context) error {
			return c.remote.Del(callCtx, key)
		}); err != nil {
			remoteDegradedCounter.Add(ctx, 1)
			slog.Warn("tier 2 delete degraded", slog.String("key", key), slog.Any("error", err))
		}
	}
	c.fireHooks(ctx, key, ChangeKindDelete)
}

// InvalidatePrefix removes every key starting with prefix from both tiers
// and notifies hooks once with the prefix. The remote removal is an
// incremental scan; invalidating the same prefix twice is a no-op the
// second time.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) {
	c.l1.DeletePrefix(prefix)
	if c.remote != nil {
		if err := c.remoteRetry(ctx, func(callCtx context.Context) error {
			_, err := c.remote.ScanAndDelete(callCtx, prefix)
			return err
		}); err != nil {
			remoteDegradedCounter.Add(ctx, 1)
			slog.Warn("tier 2 pattern invalidation degraded",
				slog.String("prefix", prefix), slog.Any("error", err))
		}
	}
	c.fireHooks(ctx, prefix, ChangeKindInvalidate)
}

// L1Len reports the current tier 1 entry count, for tests and telemetry.
func (c *Cache) L1Len() int {
	return c.l1.Len()
}

func (c *Cache) remoteGet(ctx context.Context, key string) ([]byte, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.RetryBaseDelay

	return backoff.Retry(ctx, func() ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
		defer cancel()
		val, err := c.remote.Get(callCtx, key)
		if errors.Is(err, ErrRemoteMiss) {
			// A miss is an answer, not a failure.
			return nil, backoff.Permanent(err)
		}
		return val, err
	}, backoff.WithBackOff(exp), backoff.WithMaxTries(uint(c.cfg.RetryMaxAttempts)))
}

func (c *Cache) remoteRetry(ctx context.Context, op func(ctx context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.RetryBaseDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
		defer cancel()
		return struct{}{}, op(callCtx)
	}, backoff.WithBackOff(exp), backoff.WithMaxTries(uint(c.cfg.RetryMaxAttempts)))
	return err
}

// fireHooks notifies every registered hook, each under its own timeout. A
// hook that errors or times out is logged and counted; it never aborts its
// siblings or the invalidation path.
func (c *Cache) fireHooks(ctx context.Context, key string, kind ChangeKind) {
	c.hooksMu.RLock()
	hooks := make([]InvalidationHook, len(c.hooks))
	copy(hooks, c.hooks)
	c.hooksMu.RUnlock()

	var errs *multierror.Error
	for _, hook := range hooks {
		if err := c.runHook(ctx, hook, key, kind); err != nil {
			hookFailureCounter.Add(ctx, 1)
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		slog.Warn("invalidation hook failures",
			slog.String("key", key), slog.String("kind", string(kind)), slog.Any("error", err))
	}
}

func (c *Cache) runHook(ctx context.Context, hook InvalidationHook, key string, kind ChangeKind) error {
	hookCtx, cancel := context.WithTimeout(ctx, c.cfg.HookTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- hook(hookCtx, key, kind)
	}()

	select {
	case err := <-done:
		return err
	case <-hookCtx.Done():
		return fmt.Errorf("hook timed out after %s: %w", c.cfg.HookTimeout, hookCtx.Err())
	}
}
