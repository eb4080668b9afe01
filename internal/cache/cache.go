/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cache is a read-through cache for the control plane's
// observability reports (state/freshness/retries summaries), which scan
// the full partition_state table. It is purely an optimization: every
// report remains correct when the cache is disabled or unreachable, and it
// is never used to coordinate pipeline or operator mutations.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache is a thin read-through wrapper over a Redis client. A nil *Cache
// (or one built with an empty addr) is valid and simply bypasses caching,
// so callers never need to branch on whether caching is configured.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New builds a Cache connected to addr. An empty addr disables caching:
// New returns a nil *Cache, which bypasses the cache on every call.
func New(addr string, ttl time.Duration, logger *zap.Logger) *Cache {
	if addr == "" {
		return nil
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		logger: logger,
	}
}

// Close releases the underlying Redis connection. Safe to call on a nil
// Cache.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// GetOrCompute returns the cached value stored under key, decoded into a
// fresh T, if present and reachable. On a cache miss, a disabled cache, or
// any Redis error, it calls compute, stores the result under key with the
// cache's TTL (best effort — a write failure is logged, not returned), and
// returns it. The store itself is always the source of truth; the cache
// only spares it repeated full-table scans for read-only reports.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, compute func(context.Context) (T, error)) (T, error) {
	if c != nil {
		if raw, err := c.client.Get(ctx, key).Result(); err == nil {
			var cached T
			if decodeErr := json.Unmarshal([]byte(raw), &cached); decodeErr == nil {
				return cached, nil
			}
		} else if err != redis.Nil {
			c.logger.Warn("cache read failed, falling back to direct read", zap.String("key", key), zap.Error(err))
		}
	}

	value, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	if c != nil {
		if encoded, marshalErr := json.Marshal(value); marshalErr == nil {
			if setErr := c.client.Set(ctx, key, encoded, c.ttl).Err(); setErr != nil {
				c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(setErr))
			}
		}
	}
	return value, nil
}
