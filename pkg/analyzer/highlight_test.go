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

package analyzer_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/kadirpekel/gnosis/pkg/analyzer"
)

func stripTags(s string) string {
	r := strings.NewReplacer("<mark>", "", "</mark>", "", "<b>", "", "</b>", "")
	return r.Replace(s)
}

func TestHighlightWrapsKeyPhrase(t *testing.T) {
	text := "The light of justice shineth upon the world of being."
	got := analyzer.Highlight(text, "light of justice", nil)
	assert.Equal(t, "The <mark>light of justice</mark> shineth upon the world of being.", got)
}

func TestHighlightBoldsCoreTerms(t *testing.T) {
	text := "The light of justice shineth upon the world."
	got := analyzer.Highlight(text, "light of justice", []string{"justice"})
	assert.Equal(t, "The <mark>light of <b>justice</b></mark> shineth upon the world.", got)
}

func TestHighlightWhitespaceInsensitive(t *testing.T) {
	text := "The light  of\n justice shineth."
	got := analyzer.Highlight(text, "light of justice", nil)
	assert.Contains(t, got, "<mark>")
	assert.Equal(t, text, stripTags(got))
}

func TestHighlightCaseInsensitive(t *testing.T) {
	text := "JUSTICE is the best beloved of all things."
	got := analyzer.Highlight(text, "justice is the best", []string{"beloved"})
	assert.Contains(t, got, "<mark>JUSTICE is the best</mark>")
}

func TestHighlightFallsBackToPrefix(t *testing.T) {
	text := "Verily the sun of wisdom rises over every horizon of the heart."
	// Phrase matches only on its first five words.
	got := analyzer.Highlight(text, "the sun of wisdom rises gloriously and forever", nil)
	assert.Contains(t, got, "<mark>the sun of wisdom rises</mark>")
	assert.Equal(t, text, stripTags(got))
}

func TestHighlightFailsOpen(t *testing.T) {
	text := "A passage with no matching phrase."
	assert.Equal(t, text, analyzer.Highlight(text, "completely absent words", nil))
	assert.Equal(t, text, analyzer.Highlight(text, "", []string{"passage"}))
}

func TestHighlightStripRoundTrips(t *testing.T) {
	texts := []string{
		"The light of justice shineth upon the world of being.",
		"Justice and  mercy, twin   guardians of the soul.",
		"Uneven\twhitespace\nand lines.",
	}
	for _, text := range texts {
		got := analyzer.Highlight(text, "justice", []string{"justice", "mercy"})
		assert.Equal(t, text, stripTags(got), text)
	}
}

func TestHighlightExtendsOverTrailingPunctuation(t *testing.T) {
	text := "He spoke of the light of justice, and then rested."
	got := analyzer.Highlight(text, "light of justice", []string{"justice"})
	assert.Equal(t, "He spoke of the <mark>light of <b>justice</b>,</mark> and then rested.", got)
	assert.Equal(t, text, stripTags(got))
}

func TestHighlightBoldsAfterWideningRunes(t *testing.T) {
	// Lowercasing U+023A grows it from two bytes to three; bold offsets
	// must land on the original bytes regardless.
	text := "ȺȺȺȺ judgment"
	got := analyzer.Highlight(text, "ȺȺȺȺ judgment", []string{"judgment"})
	assert.Equal(t, "<mark>ȺȺȺȺ <b>judgment</b></mark>", got)
	assert.True(t, utf8.ValidString(got))
}

func TestHighlightBoldsAfterNarrowingRunes(t *testing.T) {
	// Lowercasing U+0130 shrinks it from two bytes to one.
	text := "İİİİ judgment"
	got := analyzer.Highlight(text, "İİİİ judgment", []string{"judgment"})
	assert.Equal(t, "<mark>İİİİ <b>judgment</b></mark>", got)
	assert.True(t, utf8.ValidString(got))
}

func TestHighlightBoldsNonASCIITerm(t *testing.T) {
	text := "the Ⱥrk of justice endures"
	got := analyzer.Highlight(text, "the Ⱥrk of justice", []string{"ⱥrk"})
	assert.Equal(t, "<mark>the <b>Ⱥrk</b> of justice</mark> endures", got)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, text, stripTags(got))
}

func TestHighlightOverlappingTermsNeverNest(t *testing.T) {
	text := "divine justice and divine mercy"
	got := analyzer.Highlight(text, "divine justice and divine mercy",
		[]string{"divine justice", "justice and"})
	assert.Equal(t, text, stripTags(got))
	assert.NotContains(t, got, "<b><b>")
	assert.Equal(t, strings.Count(got, "<b>"), strings.Count(got, "</b>"))
}
