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

package quota

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Store persists per-identity search counters and anonymous sightings.
type Store interface {
	GetCount(ctx context.Context, id string) (int64, error)
	Increment(ctx context.Context, id string) error
	TouchAnonymous(ctx context.Context, id string) error
}

const createQuotaTablesSQL = `
CREATE TABLE IF NOT EXISTS search_counters (
    identity_id VARCHAR(255) PRIMARY KEY,
    search_count BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS anonymous_sightings (
    identity_id VARCHAR(255) PRIMARY KEY,
    first_seen TIMESTAMP NOT NULL,
    last_seen TIMESTAMP NOT NULL
);
`

// SQLStore is the production counter store.
// Supports postgres, mysql and sqlite.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

var _ Store = (*SQLStore)(nil)

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
	if _, err := s.db.ExecContext(ctx, createQuotaTablesSQL); err != nil {
		return nil, fmt.Errorf("failed to create quota tables: %w", err)
	}
	return s, nil
}

// GetCount returns the lifetime search count for an identity.
func (s *SQLStore) GetCount(ctx context.Context, id string) (int64, error) {
	query := `SELECT search_count FROM search_counters WHERE identity_id = ?`
	if s.dialect == "postgres" {
		query = `SELECT search_count FROM search_counters WHERE identity_id = $1`
	}
	var count int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query search count: %w", err)
	}
	return count, nil
}

// Increment adds one to the identity's counter with a single upsert.
func (s *SQLStore) Increment(ctx context.Context, id string) error {
	now := time.Now()
	var query string
	switch s.dialect {
	case "postgres":
		query = `
			INSERT INTO search_counters (identity_id, search_count, updated_at)
			VALUES ($1, 1, $2)
			ON CONFLICT (identity_id)
			DO UPDATE SET search_count = search_counters.search_count + 1, updated_at = EXCLUDED.updated_at
		`
	case "mysql":
		query = `
			INSERT INTO search_counters (identity_id, search_count, updated_at)
			VALUES (?, 1, ?)
			ON DUPLICATE KEY UPDATE search_count = search_count + 1, updated_at = VALUES(updated_at)
		`
	default:
		query = `
			INSERT INTO search_counters (identity_id, search_count, updated_at)
			VALUES (?, 1, ?)
			ON CONFLICT (identity_id)
			DO UPDATE SET search_count = search_count + 1, updated_at = excluded.updated_at
		`
	}
	if _, err := s.db.ExecContext(ctx, query, id, now); err != nil {
		return fmt.Errorf("failed to increment search count: %w", err)
	}
	return nil
}

// TouchAnonymous upserts a sighting row for an anonymous id.
func (s *SQLStore) TouchAnonymous(ctx context.Context, id string) error {
	now := time.Now()
	var query string
	switch s.dialect {
	case "postgres":
		query = `
			INSERT INTO anonymous_sightings (identity_id, first_seen, last_seen)
			VALUES ($1, $2, $3)
			ON CONFLICT (identity_id) DO UPDATE SET last_seen = EXCLUDED.last_seen
		`
	case "mysql":
		query = `
			INSERT INTO anonymous_sightings (identity_id, first_seen, last_seen)
			VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE last_seen = VALUES(last_seen)
		`
	default:
		query = `
			INSERT INTO anonymous_sightings (identity_id, first_seen, last_seen)
			VALUES (?, ?, ?)
			ON CONFLICT (identity_id) DO UPDATE SET last_seen = excluded.last_seen
		`
	}
	if _, err := s.db.ExecContext(ctx, query, id, now, now); err != nil {
		return fmt.Errorf("failed to record sighting: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for tests and dev mode.
type MemoryStore struct {
	mu        sync.Mutex
	counts    map[string]int64
	sightings map[string]time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counts:    make(map[string]int64),
		sightings: make(map[string]time.Time),
	}
}

// GetCount returns the counter for an identity.
func (m *MemoryStore) GetCount(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[id], nil
}

// Increment adds one to the counter.
func (m *MemoryStore) Increment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[id]++
	return nil
}

// TouchAnonymous records a sighting.
func (m *MemoryStore) TouchAnonymous(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sightings[id] = time.Now()
	return nil
}

// SightingCount reports distinct anonymous ids seen.
func (m *MemoryStore) SightingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sightings)
}
