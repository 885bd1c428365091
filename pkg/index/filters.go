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
	"fmt"
	"strings"
)

// Filters narrows retrieval. Structured fields are conjoined; the
// TextContains terms form a disjunction over author, collection and
// title, conjoined with the structured predicates.
type Filters struct {
	Tradition  string   `json:"tradition,omitempty"`
	Collection string   `json:"collection,omitempty"`
	Language   string   `json:"language,omitempty"`
	DocumentID string   `json:"document_id,omitempty"`
	YearFrom   int      `json:"year_from,omitempty"`
	YearTo     int      `json:"year_to,omitempty"`

	// TextContains holds free-text filter terms extracted from a
	// trailing query parenthetical.
	TextContains []string `json:"text_contains,omitempty"`
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.Tradition == "" && f.Collection == "" && f.Language == "" &&
		f.DocumentID == "" && f.YearFrom == 0 && f.YearTo == 0 &&
		len(f.TextContains) == 0
}

// payload returns the exact-match conditions for the vector index.
// Year ranges and text-contains terms have no keyword-match shape in
// qdrant payloads; those are applied SQL-side after id resolution.
func (f Filters) payload() map[string]any {
	out := make(map[string]any)
	if f.Tradition != "" {
		out["tradition"] = f.Tradition
	}
	if f.Collection != "" {
		out["collection"] = f.Collection
	}
	if f.Language != "" {
		out["language"] = f.Language
	}
	if f.DocumentID != "" {
		out["document_id"] = f.DocumentID
	}
	return out
}

// whereClause renders the filter as SQL. The dialect chooses the
// placeholder style. Returns the clause fragments and bound args;
// fragments are conjoined by the caller.
func (f Filters) whereClause(d dialect, argOffset int) ([]string, []any) {
	var clauses []string
	var args []any

	next := func() string { return d.placeholder(argOffset + len(args) + 1) }

	if f.Tradition != "" {
		clauses = append(clauses, fmt.Sprintf("tradition = %s", next()))
		args = append(args, f.Tradition)
	}
	if f.Collection != "" {
		clauses = append(clauses, fmt.Sprintf("collection = %s", next()))
		args = append(args, f.Collection)
	}
	if f.Language != "" {
		clauses = append(clauses, fmt.Sprintf("language = %s", next()))
		args = append(args, f.Language)
	}
	if f.DocumentID != "" {
		clauses = append(clauses, fmt.Sprintf("document_id = %s", next()))
		args = append(args, f.DocumentID)
	}
	if f.YearFrom != 0 {
		clauses = append(clauses, fmt.Sprintf("year >= %s", next()))
		args = append(args, f.YearFrom)
	}
	if f.YearTo != 0 {
		clauses = append(clauses, fmt.Sprintf("year <= %s", next()))
		args = append(args, f.YearTo)
	}

	if len(f.TextContains) > 0 {
		var terms []string
		for _, t := range f.TextContains {
			pattern := "%" + strings.ToLower(strings.TrimSpace(t)) + "%"
			terms = append(terms, fmt.Sprintf(
				"(LOWER(author) LIKE %s OR LOWER(collection) LIKE %s OR LOWER(title) LIKE %s)",
				next(), d.placeholder(argOffset+len(args)+2), d.placeholder(argOffset+len(args)+3)))
			args = append(args, pattern, pattern, pattern)
		}
		clauses = append(clauses, "("+strings.Join(terms, " OR ")+")")
	}

	return clauses, args
}
