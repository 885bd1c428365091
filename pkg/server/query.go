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

package server

import "strings"

// ExtractFilterTerms splits a trailing parenthetical off the query into
// free-text filter terms: "what is justice (shoghi, pilgrim)" yields
// the clean query "what is justice" and terms ["shoghi", "pilgrim"].
// Queries with filter terms bypass the response cache in both
// directions.
func ExtractFilterTerms(raw string) (clean string, terms []string) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasSuffix(trimmed, ")") {
		return trimmed, nil
	}
	open := strings.LastIndex(trimmed, "(")
	if open < 0 {
		return trimmed, nil
	}

	inner := trimmed[open+1 : len(trimmed)-1]
	for _, part := range strings.Split(inner, ",") {
		term := strings.ToLower(strings.TrimSpace(part))
		if term != "" {
			terms = append(terms, term)
		}
	}
	if len(terms) == 0 {
		return trimmed, nil
	}

	clean = strings.TrimSpace(trimmed[:open])
	if clean == "" {
		// A query that is only a parenthetical stays as-is.
		return trimmed, nil
	}
	return clean, terms
}
