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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const createCacheTableSQL = `
CREATE TABLE IF NOT EXISTS search_cache (
    query_hash VARCHAR(64) PRIMARY KEY,
    normalized_query TEXT NOT NULL,
    plan TEXT NOT NULL,
    sources TEXT NOT NULL,
    introduction TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    hit_count BIGINT NOT NULL DEFAULT 0,
    last_hit_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_search_cache_expires_at ON search_cache(expires_at);
`

// Entry is one cached response row.
type Entry struct {
	QueryHash       string
	NormalizedQuery string
	Plan            json.RawMessage
	Sources         json.RawMessage
	Introduction    string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	HitCount        int64
	LastHitAt       time.Time
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CreatedAt)
}

// SQLStore persists cache entries.
// Supports postgres, mysql and sqlite.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates the store and its schema.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, createCacheTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create search_cache table: %w", err)
	}
	return s, nil
}

// Get returns an unexpired entry and bumps its hit counter, or nil on
// miss.
func (s *SQLStore) Get(ctx context.Context, queryHash string) (*Entry, error) {
	now := time.Now()

	update := `UPDATE search_cache SET hit_count = hit_count + 1, last_hit_at = ? WHERE query_hash = ? AND expires_at > ?`
	if s.dialect == "postgres" {
		update = `UPDATE search_cache SET hit_count = hit_count + 1, last_hit_at = $1 WHERE query_hash = $2 AND expires_at > $3`
	}
	result, err := s.db.ExecContext(ctx, update, now, queryHash, now)
	if err != nil {
		return nil, fmt.Errorf("failed to bump hit count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	query := `SELECT query_hash, normalized_query, plan, sources, introduction, created_at, expires_at, hit_count, last_hit_at
		FROM search_cache WHERE query_hash = ?`
	if s.dialect == "postgres" {
		query = `SELECT query_hash, normalized_query, plan, sources, introduction, created_at, expires_at, hit_count, last_hit_at
		FROM search_cache WHERE query_hash = $1`
	}

	var e Entry
	var plan, sources string
	var lastHit sql.NullTime
	err = s.db.QueryRowContext(ctx, query, queryHash).Scan(
		&e.QueryHash, &e.NormalizedQuery, &plan, &sources, &e.Introduction,
		&e.CreatedAt, &e.ExpiresAt, &e.HitCount, &lastHit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	e.Plan = json.RawMessage(plan)
	e.Sources = json.RawMessage(sources)
	if lastHit.Valid {
		e.LastHitAt = lastHit.Time
	}
	return &e, nil
}

// Put upserts an entry, resetting created_at and the hit counter.
func (s *SQLStore) Put(ctx context.Context, e *Entry) error {
	now := time.Now()
	var query string
	switch s.dialect {
	case "postgres":
		query = `
			INSERT INTO search_cache (query_hash, normalized_query, plan, sources, introduction, created_at, expires_at, hit_count, last_hit_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NULL)
			ON CONFLICT (query_hash)
			DO UPDATE SET normalized_query = EXCLUDED.normalized_query, plan = EXCLUDED.plan, sources = EXCLUDED.sources,
				introduction = EXCLUDED.introduction, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at,
				hit_count = 0, last_hit_at = NULL
		`
	case "mysql":
		query = `
			INSERT INTO search_cache (query_hash, normalized_query, plan, sources, introduction, created_at, expires_at, hit_count, last_hit_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL)
			ON DUPLICATE KEY UPDATE normalized_query = VALUES(normalized_query), plan = VALUES(plan), sources = VALUES(sources),
				introduction = VALUES(introduction), created_at = VALUES(created_at), expires_at = VALUES(expires_at),
				hit_count = 0, last_hit_at = NULL
		`
	default:
		query = `
			INSERT OR REPLACE INTO search_cache (query_hash, normalized_query, plan, sources, introduction, created_at, expires_at, hit_count, last_hit_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL)
		`
	}

	_, err := s.db.ExecContext(ctx, query,
		e.QueryHash, e.NormalizedQuery, string(e.Plan), string(e.Sources),
		e.Introduction, now, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// InvalidateAll drops every entry. Called after library mutation.
func (s *SQLStore) InvalidateAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_cache`); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// SweepExpired deletes expired entries and reports how many went.
func (s *SQLStore) SweepExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM search_cache WHERE expires_at < ?`
	if s.dialect == "postgres" {
		query = `DELETE FROM search_cache WHERE expires_at < $1`
	}
	result, err := s.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired entries: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the live entry count for the stats endpoint.
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM search_cache WHERE expires_at > ?`
	if s.dialect == "postgres" {
		query = `SELECT COUNT(*) FROM search_cache WHERE expires_at > $1`
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, time.Now()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}
