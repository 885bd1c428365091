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
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/gnosis/pkg/model"
)

const batchSystemPrompt = `You are a scholarly search analyst. For each numbered passage, judge its relevance to the query and annotate it.
Respond with a single JSON object, no other text:
{
  "results": [{"batch_index": 0, "key_phrase": "exact substring of the passage", "core_terms": ["up to", "three", "tokens"], "summary": "at most ten words", "score": 0.0}],
  "irrelevant": [1]
}
Scores are 0 to 1. key_phrase must be copied verbatim from the passage. List passages with no bearing on the query in "irrelevant" instead of "results".`

type batchResult struct {
	BatchIndex int      `mapstructure:"batch_index"`
	KeyPhrase  string   `mapstructure:"key_phrase"`
	CoreTerms  []string `mapstructure:"core_terms"`
	Summary    string   `mapstructure:"summary"`
	Score      float64  `mapstructure:"score"`
	Brief      string   `mapstructure:"brief_answer"`
}

type batchDoc struct {
	Results    []batchResult `mapstructure:"results"`
	Irrelevant []int         `mapstructure:"irrelevant"`
}

// analyzeBatch runs one LLM call over a batch and maps the annotations
// back to candidates. Entries the model marks irrelevant are dropped.
func (a *Analyzer) analyzeBatch(ctx context.Context, query string, batch []indexed, researchContext string) ([]Annotated, error) {
	prompt := buildBatchPrompt(query, batch, researchContext)

	temp := 0.0
	resp, err := model.ChatWithRetry(ctx, a.llm, []model.Message{
		{Role: model.RoleSystem, Content: batchSystemPrompt},
		{Role: model.RoleUser, Content: prompt},
	}, model.Options{Temperature: &temp})
	if err != nil {
		return nil, err
	}

	doc, err := parseBatch(resp.Content)
	if err != nil {
		return nil, err
	}

	irrelevant := make(map[int]bool, len(doc.Irrelevant))
	for _, i := range doc.Irrelevant {
		irrelevant[i] = true
	}

	byIndex := make(map[int]batchResult, len(doc.Results))
	for _, r := range doc.Results {
		if r.BatchIndex >= 0 && r.BatchIndex < len(batch) {
			byIndex[r.BatchIndex] = r
		}
	}

	var out []Annotated
	for i, c := range batch {
		if irrelevant[i] {
			continue
		}
		r, ok := byIndex[i]
		if !ok {
			// Neither annotated nor dismissed; keep with neutral score.
			out = append(out, Annotated{
				Passage:         c.passage,
				Score:           neutralScore,
				HighlightedText: c.passage.Text,
				firstSeen:       c.firstSeen,
			})
			continue
		}

		score := r.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		coreTerms := r.CoreTerms
		if len(coreTerms) > 3 {
			coreTerms = coreTerms[:3]
		}

		out = append(out, Annotated{
			Passage:         c.passage,
			Score:           score,
			KeyPhrase:       r.KeyPhrase,
			CoreTerms:       coreTerms,
			Summary:         r.Summary,
			BriefAnswer:     r.Brief,
			HighlightedText: Highlight(c.passage.Text, r.KeyPhrase, coreTerms),
			firstSeen:       c.firstSeen,
		})
	}
	return out, nil
}

func buildBatchPrompt(query string, batch []indexed, researchContext string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Query: %q\n", query))
	if researchContext != "" {
		sb.WriteString("Research context: " + researchContext + "\n")
	}
	sb.WriteString("\nPassages:\n")
	for i, c := range batch {
		sb.WriteString(fmt.Sprintf("\n[%d] (%s, %s)\n%s\n", i, c.passage.Author, c.passage.Title, c.passage.Text))
	}
	return sb.String()
}

func parseBatch(response string) (*batchDoc, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse batch JSON: %w", err)
	}

	var doc batchDoc
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode batch result: %w", err)
	}
	return &doc, nil
}
