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

package planner

import (
	"fmt"
	"strings"
)

const plannerSystemPrompt = `You are a research planner for a scholarly library spanning multiple religious and philosophical traditions.
Given a user query, produce concrete retrieval queries against a full-text and vector index.
If the central query term carries multiple distinct senses, set "semantic_note" to a one-sentence note about the ambiguity.
Respond with a single JSON object, no other text.`

func buildSimplePrompt(query string, memory []string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Query: %q\n\n", query))
	writeMemory(&sb, memory)
	sb.WriteString(`Produce 1-3 sub-queries. Respond with JSON:
{
  "reasoning": "one sentence",
  "sub_queries": [{"text": "...", "mode": "keyword|semantic|hybrid", "rationale": "..."}],
  "semantic_note": ""
}`)
	return sb.String()
}

func buildPass1Prompt(query string, memory []string, maxQueries int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Query: %q\n\n", query))
	writeMemory(&sb, memory)
	sb.WriteString(fmt.Sprintf(`This query needs exhaustive coverage. Produce up to %d sub-queries covering distinct angles (traditions, periods, framings). Respond with JSON:
{
  "reasoning": "one sentence",
  "assumptions": ["..."],
  "traditions_to_cover": ["..."],
  "sub_queries": [{"text": "...", "mode": "keyword|semantic|hybrid", "rationale": "...", "angle": "..."}],
  "semantic_note": ""
}`, maxQueries))
	return sb.String()
}

func buildPass2Prompt(query string, pass1 *Pass, summary PassSummary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Query: %q\n\nFirst-pass sub-queries:\n", query))
	for _, sq := range pass1.SubQueries {
		sb.WriteString(fmt.Sprintf("- [%s] %s (%s)\n", sq.Angle, sq.Text, sq.Mode))
	}
	sb.WriteString(fmt.Sprintf("\nFirst-pass results: %d passages total.\n", summary.TotalHits))
	for angle, count := range summary.PerAngle {
		sb.WriteString(fmt.Sprintf("- %s: %d hits\n", angle, count))
	}
	if len(summary.SampleTitles) > 0 {
		sb.WriteString("Sample titles: " + strings.Join(summary.SampleTitles, "; ") + "\n")
	}
	sb.WriteString(`
Identify coverage gaps and promising directions, then produce a refined second pass. Respond with JSON:
{
  "gaps": ["..."],
  "promising_directions": ["..."],
  "reasoning": "one sentence",
  "sub_queries": [{"text": "...", "mode": "keyword|semantic|hybrid", "rationale": "...", "angle": "..."}]
}`)
	return sb.String()
}

func writeMemory(sb *strings.Builder, memory []string) {
	if len(memory) == 0 {
		return
	}
	sb.WriteString("Prior interactions with this user:\n")
	for _, m := range memory {
		sb.WriteString("- " + m + "\n")
	}
	sb.WriteString("\n")
}
