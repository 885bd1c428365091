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
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE passages (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		paragraph_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		tradition TEXT NOT NULL DEFAULT '',
		collection TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		year INTEGER
	)`)
	require.NoError(t, err)

	store, err := NewSQLStore(db, "sqlite")
	require.NoError(t, err)

	seed := []Passage{
		{ID: "gl-1", DocumentID: "gleanings", ParagraphIndex: 0,
			Text: "The best beloved of all things in My sight is justice.",
			Title: "Gleanings", Author: "Bahá'u'lláh", Tradition: "bahai",
			Collection: "Writings", Language: "en", Year: 1935},
		{ID: "gl-2", DocumentID: "gleanings", ParagraphIndex: 1,
			Text: "Justice and mercy are the twin pillars of the world.",
			Title: "Gleanings", Author: "Bahá'u'lláh", Tradition: "bahai",
			Collection: "Writings", Language: "en", Year: 1935},
		{ID: "dh-1", DocumentID: "dhammapada", ParagraphIndex: 0,
			Text: "Mercy toward all beings is the root of merit.",
			Title: "Dhammapada", Author: "", Tradition: "buddhist",
			Collection: "Canon", Language: "en", Year: 0},
	}
	for _, p := range seed {
		_, err = db.Exec(
			`INSERT INTO passages (id, document_id, paragraph_index, text, title, author, tradition, collection, language, year)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.DocumentID, p.ParagraphIndex, p.Text, p.Title, p.Author,
			p.Tradition, p.Collection, p.Language, p.Year)
		require.NoError(t, err)
	}
	return store
}

func TestNewSQLStoreRejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLStore(db, "oracle")
	assert.Error(t, err)
	_, err = NewSQLStore(nil, "sqlite")
	assert.Error(t, err)
}

func TestSearchKeywordRanksByTermCoverage(t *testing.T) {
	store := newTestSQLStore(t)

	// gl-2 contains both terms, gl-1 and dh-1 one each.
	hits, err := store.SearchKeyword(context.Background(), "justice mercy", Filters{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "gl-2", hits[0].ID)
}

func TestSearchKeywordEmptyQuery(t *testing.T) {
	store := newTestSQLStore(t)

	_, err := store.SearchKeyword(context.Background(), "   ", Filters{}, 10, 0)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestSearchKeywordAppliesFilters(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	hits, err := store.SearchKeyword(ctx, "mercy", Filters{Tradition: "buddhist"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "dh-1", hits[0].ID)

	hits, err = store.SearchKeyword(ctx, "mercy", Filters{YearFrom: 1900}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "gl-2", hits[0].ID)
}

func TestFetchByIDsSkipsMissing(t *testing.T) {
	store := newTestSQLStore(t)

	got, err := store.FetchByIDs(context.Background(), []string{"gl-1", "nope", "dh-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Gleanings", got["gl-1"].Title)
	assert.NotContains(t, got, "nope")

	empty, err := store.FetchByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMatchesFilterTextContains(t *testing.T) {
	store := newTestSQLStore(t)
	ids := []string{"gl-1", "gl-2", "dh-1"}

	// A term matches author, collection or title.
	got, err := store.MatchesFilter(context.Background(), ids, Filters{TextContains: []string{"gleanings"}})
	require.NoError(t, err)
	assert.True(t, got["gl-1"])
	assert.True(t, got["gl-2"])
	assert.False(t, got["dh-1"])

	// Multiple terms form a disjunction.
	got, err = store.MatchesFilter(context.Background(), ids, Filters{TextContains: []string{"dhammapada", "canon"}})
	require.NoError(t, err)
	assert.False(t, got["gl-1"])
	assert.True(t, got["dh-1"])

	// Structured predicates stay conjoined with the term disjunction.
	got, err = store.MatchesFilter(context.Background(), ids,
		Filters{YearFrom: 1900, TextContains: []string{"gleanings", "dhammapada"}})
	require.NoError(t, err)
	assert.True(t, got["gl-1"])
	assert.False(t, got["dh-1"])
}

func TestStats(t *testing.T) {
	store := newTestSQLStore(t)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 3, stats.Passages)
	assert.Equal(t, map[string]int{"bahai": 1, "buddhist": 1}, stats.Traditions)
	assert.Equal(t, map[string]int{"en": 2}, stats.Languages)
}

func TestFiltersIsZero(t *testing.T) {
	assert.True(t, Filters{}.IsZero())
	assert.False(t, Filters{Tradition: "bahai"}.IsZero())
	assert.False(t, Filters{TextContains: []string{"x"}}.IsZero())
}
