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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "What Is Justice", "what is justice"},
		{"collapse whitespace", "what   is\t justice", "what is justice"},
		{"trim", "  what is justice  ", "what is justice"},
		{"newlines", "what\nis\njustice", "what is justice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestFingerprintEquivalence(t *testing.T) {
	// Queries differing only in case and internal whitespace share a
	// fingerprint.
	a := Fingerprint("What   Is Justice")
	b := Fingerprint("what is justice")
	assert.Equal(t, a, b)

	c := Fingerprint("what is mercy")
	assert.NotEqual(t, a, c)

	assert.Len(t, a, 64)
}
