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

package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// dialect selects placeholder style and full-text syntax.
// Supported: postgres, mysql, sqlite.
type dialect string

func (d dialect) placeholder(n int) string {
	if d == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

const passageColumns = "id, document_id, paragraph_index, text, title, author, tradition, collection, language, COALESCE(year, 0)"

// SQLStore reads the paragraph store. The store is authoritative and
// owned by the ingestion pipeline; this adapter never writes to it.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

// NewSQLStore wraps an open connection. The passages table must already
// exist; ingestion owns the schema.
func NewSQLStore(db *sql.DB, dialectName string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialectName {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialectName)
	}
	return &SQLStore{db: db, d: dialect(dialectName)}, nil
}

// SearchKeyword runs a full-text query. Postgres uses websearch syntax
// with ts_rank ordering; mysql and sqlite fall back to LIKE term-hit
// scoring.
func (s *SQLStore) SearchKeyword(ctx context.Context, query string, f Filters, limit, offset int) ([]Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty keyword query", ErrBadRequest)
	}
	if limit <= 0 {
		limit = 20
	}

	if s.d == "postgres" {
		return s.searchPostgres(ctx, query, f, limit, offset)
	}
	return s.searchLike(ctx, query, f, limit, offset)
}

func (s *SQLStore) searchPostgres(ctx context.Context, query string, f Filters, limit, offset int) ([]Passage, error) {
	args := []any{query}
	where := []string{"search_vector @@ websearch_to_tsquery('english', $1)"}

	clauses, filterArgs := f.whereClause(s.d, len(args))
	where = append(where, clauses...)
	args = append(args, filterArgs...)

	q := fmt.Sprintf(`
		SELECT %s, ts_rank(search_vector, websearch_to_tsquery('english', $1)) AS rank
		FROM passages
		WHERE %s
		ORDER BY rank DESC, document_id, paragraph_index
		LIMIT $%d OFFSET $%d`,
		passageColumns, strings.Join(where, " AND "), len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: keyword search failed: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	return scanPassages(rows, true)
}

// searchLike scores rows by how many query terms they contain.
func (s *SQLStore) searchLike(ctx context.Context, query string, f Filters, limit, offset int) ([]Passage, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: empty keyword query", ErrBadRequest)
	}

	var args []any
	var scoreParts []string
	var matchParts []string
	for _, t := range terms {
		scoreParts = append(scoreParts, "(CASE WHEN LOWER(text) LIKE ? THEN 1 ELSE 0 END)")
		matchParts = append(matchParts, "LOWER(text) LIKE ?")
		args = append(args, "%"+t+"%")
	}
	// Score args first, then match args.
	for _, t := range terms {
		args = append(args, "%"+t+"%")
	}

	where := []string{"(" + strings.Join(matchParts, " OR ") + ")"}
	clauses, filterArgs := f.whereClause(s.d, len(args))
	where = append(where, clauses...)
	args = append(args, filterArgs...)

	q := fmt.Sprintf(`
		SELECT %s, (%s) AS rank
		FROM passages
		WHERE %s
		ORDER BY rank DESC, document_id, paragraph_index
		LIMIT ? OFFSET ?`,
		passageColumns, strings.Join(scoreParts, " + "), strings.Join(where, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: keyword search failed: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	return scanPassages(rows, true)
}

// FetchByIDs resolves vector hits back to full passages. Missing ids
// are silently absent from the result.
func (s *SQLStore) FetchByIDs(ctx context.Context, ids []string) (map[string]Passage, error) {
	if len(ids) == 0 {
		return map[string]Passage{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = s.d.placeholder(i + 1)
		args[i] = id
	}

	q := fmt.Sprintf("SELECT %s FROM passages WHERE id IN (%s)",
		passageColumns, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: passage fetch failed: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	passages, err := scanPassages(rows, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Passage, len(passages))
	for _, p := range passages {
		out[p.ID] = p
	}
	return out, nil
}

// MatchesFilter re-applies a filter to resolved ids. Used after vector
// search, where year ranges and text-contains terms cannot be pushed
// into the payload filter.
func (s *SQLStore) MatchesFilter(ctx context.Context, ids []string, f Filters) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = s.d.placeholder(i + 1)
		args[i] = id
	}
	where := []string{fmt.Sprintf("id IN (%s)", strings.Join(placeholders, ", "))}

	clauses, filterArgs := f.whereClause(s.d, len(args))
	where = append(where, clauses...)
	args = append(args, filterArgs...)

	q := "SELECT id FROM passages WHERE " + strings.Join(where, " AND ")
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: filter check failed: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// Stats summarizes the indexed corpus.
func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Traditions: make(map[string]int),
		Languages:  make(map[string]int),
	}

	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COUNT(DISTINCT document_id) FROM passages")
	if err := row.Scan(&stats.Passages, &stats.Documents); err != nil {
		return nil, fmt.Errorf("%w: stats query failed: %v", ErrUnavailable, err)
	}

	if err := s.countGroup(ctx, "tradition", stats.Traditions); err != nil {
		return nil, err
	}
	if err := s.countGroup(ctx, "language", stats.Languages); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLStore) countGroup(ctx context.Context, column string, into map[string]int) error {
	q := fmt.Sprintf("SELECT %s, COUNT(DISTINCT document_id) FROM passages WHERE %s <> '' GROUP BY %s", column, column, column)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("%w: stats group query failed: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan stats row: %w", err)
		}
		into[key] = count
	}
	return rows.Err()
}

// Healthy pings the database.
func (s *SQLStore) Healthy(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func scanPassages(rows *sql.Rows, withRank bool) ([]Passage, error) {
	var out []Passage
	for rows.Next() {
		var p Passage
		dest := []any{
			&p.ID, &p.DocumentID, &p.ParagraphIndex, &p.Text, &p.Title,
			&p.Author, &p.Tradition, &p.Collection, &p.Language, &p.Year,
		}
		if withRank {
			var rank float64
			dest = append(dest, &rank)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
