// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kadirpekel/gnosis/pkg/config"
)

// Cache is the fail-open front over the store: every store error is
// logged and treated as a miss (lookup) or a no-op (store). The
// pipeline never fails because of the cache.
type Cache struct {
	store *SQLStore
	cfg   *config.CacheConfig
}

// New creates the cache front.
func New(store *SQLStore, cfg *config.CacheConfig) *Cache {
	return &Cache{store: store, cfg: cfg}
}

// Lookup returns the cached entry for a raw query, or nil. Lookups are
// skipped entirely when the dev disable flag is set; stores still
// happen, so flipping the flag back restores warm entries.
func (c *Cache) Lookup(ctx context.Context, raw string) *Entry {
	if c == nil || c.cfg.Disabled {
		return nil
	}
	entry, err := c.store.Get(ctx, Fingerprint(raw))
	if err != nil {
		slog.Warn("Cache lookup failed, treating as miss", "error", err)
		return nil
	}
	return entry
}

// Store upserts a complete response under the query's fingerprint.
func (c *Cache) Store(ctx context.Context, raw string, plan, sources json.RawMessage, introduction string) {
	if c == nil {
		return
	}
	entry := &Entry{
		QueryHash:       Fingerprint(raw),
		NormalizedQuery: Normalize(raw),
		Plan:            plan,
		Sources:         sources,
		Introduction:    introduction,
		ExpiresAt:       time.Now().Add(c.cfg.TTL),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		slog.Warn("Cache store failed, skipping", "error", err)
	}
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	return c.store.InvalidateAll(ctx)
}

// Count reports live entries, zero on failure.
func (c *Cache) Count(ctx context.Context) int64 {
	n, err := c.store.Count(ctx)
	if err != nil {
		slog.Warn("Cache count failed", "error", err)
		return 0
	}
	return n
}

// Sweep runs one expiry sweep.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	return c.store.SweepExpired(ctx)
}

// RunSweeper loops expiry sweeps until the context is canceled.
func (c *Cache) RunSweeper(ctx context.Context) {
	if c.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := c.Sweep(ctx)
			if err != nil {
				slog.Warn("Cache sweep failed", "error", err)
				continue
			}
			if swept > 0 {
				slog.Info("Swept expired cache entries", "count", swept)
			}
		}
	}
}
