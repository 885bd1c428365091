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

// Package cache persists complete prior responses keyed by a query
// fingerprint, with TTL expiry and hit accounting.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize lowercases a query, collapses internal whitespace to single
// spaces and trims. Two queries with equal normal forms are the same
// cache entry.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// Fingerprint returns the hex SHA-256 of the normalized query.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(Normalize(raw)))
	return hex.EncodeToString(sum[:])
}
