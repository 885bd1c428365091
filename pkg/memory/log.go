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

package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const createMemoryTableSQL = `
CREATE TABLE IF NOT EXISTS memory_entries (
    id VARCHAR(36) PRIMARY KEY,
    identity_id VARCHAR(255) NOT NULL,
    role VARCHAR(16) NOT NULL,
    text TEXT NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_entries_identity ON memory_entries(identity_id, created_at);
`

// Log is the append-only SQL turn log.
// Supports postgres, mysql and sqlite.
type Log struct {
	db      *sql.DB
	dialect string
}

// NewLog creates the log and its schema.
func NewLog(db *sql.DB, dialect string) (*Log, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	l := &Log{db: db, dialect: dialect}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := l.db.ExecContext(ctx, createMemoryTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create memory_entries table: %w", err)
	}
	return l, nil
}

// Append inserts one entry. Entries are never updated or deleted.
func (l *Log) Append(ctx context.Context, e *Entry) error {
	query := `INSERT INTO memory_entries (id, identity_id, role, text, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if l.dialect == "postgres" {
		query = `INSERT INTO memory_entries (id, identity_id, role, text, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	}
	if _, err := l.db.ExecContext(ctx, query, e.ID, e.IdentityID, e.Role, e.Text, e.Metadata, e.CreatedAt); err != nil {
		return fmt.Errorf("failed to append memory entry: %w", err)
	}
	return nil
}

// Recent returns the identity's latest entries, newest first.
func (l *Log) Recent(ctx context.Context, identityID string, limit int) ([]Entry, error) {
	query := `SELECT id, identity_id, role, text, COALESCE(metadata, ''), created_at
		FROM memory_entries WHERE identity_id = ? ORDER BY created_at DESC LIMIT ?`
	if l.dialect == "postgres" {
		query = `SELECT id, identity_id, role, text, COALESCE(metadata, ''), created_at
		FROM memory_entries WHERE identity_id = $1 ORDER BY created_at DESC LIMIT $2`
	}

	rows, err := l.db.QueryContext(ctx, query, identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.IdentityID, &e.Role, &e.Text, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Rekey moves every entry from one identity to another and returns the
// number moved.
func (l *Log) Rekey(ctx context.Context, fromID, toID string) (int64, error) {
	query := `UPDATE memory_entries SET identity_id = ? WHERE identity_id = ?`
	if l.dialect == "postgres" {
		query = `UPDATE memory_entries SET identity_id = $1 WHERE identity_id = $2`
	}
	result, err := l.db.ExecContext(ctx, query, toID, fromID)
	if err != nil {
		return 0, fmt.Errorf("failed to rekey memory entries: %w", err)
	}
	return result.RowsAffected()
}
