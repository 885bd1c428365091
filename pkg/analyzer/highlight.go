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

package analyzer

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Highlight wraps key_phrase in <mark> and each core_term occurrence
// inside the marked span in <b>. The phrase is located with a
// case/whitespace-insensitive scan, falling back to its first five
// words; if neither matches the raw text is returned unchanged.
func Highlight(text, keyPhrase string, coreTerms []string) string {
	if strings.TrimSpace(keyPhrase) == "" {
		return text
	}

	start, end, ok := locate(text, keyPhrase)
	if !ok {
		words := strings.Fields(keyPhrase)
		if len(words) > 5 {
			start, end, ok = locate(text, strings.Join(words[:5], " "))
		}
	}
	if !ok {
		return text
	}

	// The marked span absorbs punctuation trailing its final word.
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !unicode.IsPunct(r) {
			break
		}
		end += size
	}

	span := text[start:end]
	return text[:start] + "<mark>" + boldTerms(span, coreTerms) + "</mark>" + text[end:]
}

// locate finds phrase in text ignoring case and whitespace runs.
// Returns byte offsets into the original text.
func locate(text, phrase string) (int, int, bool) {
	normText, offsets := normalize(text)
	normPhrase, _ := normalize(phrase)
	if len(normPhrase) == 0 || len(normPhrase) > len(normText) {
		return 0, 0, false
	}

	idx := runeIndex(normText, normPhrase)
	if idx < 0 {
		return 0, 0, false
	}

	start := offsets[idx]
	lastOff := offsets[idx+len(normPhrase)-1]
	end := lastOff + runeLenAt(text, lastOff)
	return start, end, true
}

// normalize lowercases and collapses whitespace runs to single spaces,
// recording the original byte offset of each kept rune.
func normalize(s string) ([]rune, []int) {
	var norm []rune
	var offsets []int
	lastSpace := true
	for i, r := range s {
		if unicode.IsSpace(r) {
			if lastSpace {
				continue
			}
			norm = append(norm, ' ')
			offsets = append(offsets, i)
			lastSpace = true
			continue
		}
		norm = append(norm, unicode.ToLower(r))
		offsets = append(offsets, i)
		lastSpace = false
	}
	if len(norm) > 0 && norm[len(norm)-1] == ' ' {
		norm = norm[:len(norm)-1]
		offsets = offsets[:len(offsets)-1]
	}
	return norm, offsets
}

func runeIndex(haystack, needle []rune) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func runeLenAt(s string, offset int) int {
	for _, r := range s[offset:] {
		return len(string(r))
	}
	return 1
}

// boldTerms wraps each case-insensitive core term occurrence in <b>.
// Overlapping matches are merged so tags never nest. Matching runs on
// a lowered copy of the span; lowering can change a rune's byte width,
// so match boundaries are reprojected onto the original bytes through
// an offset table.
func boldTerms(span string, terms []string) string {
	type interval struct{ start, end int }

	var lowered strings.Builder
	var lowOffs, origOffs []int
	for i, r := range span {
		lowOffs = append(lowOffs, lowered.Len())
		origOffs = append(origOffs, i)
		lowered.WriteRune(unicode.ToLower(r))
	}
	lowOffs = append(lowOffs, lowered.Len())
	origOffs = append(origOffs, len(span))
	lower := lowered.String()

	reproject := func(off int) int {
		return origOffs[sort.SearchInts(lowOffs, off)]
	}

	var matches []interval
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		from := 0
		for {
			idx := strings.Index(lower[from:], t)
			if idx < 0 {
				break
			}
			start := from + idx
			matches = append(matches, interval{reproject(start), reproject(start + len(t))})
			from = start + len(t)
		}
	}
	if len(matches) == 0 {
		return span
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].start < matches[j].start })
	merged := matches[:1]
	for _, m := range matches[1:] {
		last := &merged[len(merged)-1]
		if m.start < last.end {
			if m.end > last.end {
				last.end = m.end
			}
			continue
		}
		merged = append(merged, m)
	}

	var sb strings.Builder
	prev := 0
	for _, m := range merged {
		sb.WriteString(span[prev:m.start])
		sb.WriteString("<b>")
		sb.WriteString(span[m.start:m.end])
		sb.WriteString("</b>")
		prev = m.end
	}
	sb.WriteString(span[prev:])
	return sb.String()
}
