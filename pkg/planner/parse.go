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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// extractJSON pulls the first JSON object out of an LLM response that
// may carry prose or code fences around it.
func extractJSON(response string) (string, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || start >= end {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return response[start : end+1], nil
}

// decodeLoose unmarshals raw JSON into a map and then decodes it weakly
// typed into out. LLMs frequently return numbers as strings and
// singletons instead of arrays; weak decoding absorbs that.
func decodeLoose(jsonStr string, out any) error {
	var raw map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return fmt.Errorf("failed to parse plan JSON: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode plan: %w", err)
	}
	return nil
}

type planDoc struct {
	Reasoning         string     `mapstructure:"reasoning"`
	SubQueries        []SubQuery `mapstructure:"sub_queries"`
	Assumptions       []string   `mapstructure:"assumptions"`
	TraditionsToCover []string   `mapstructure:"traditions_to_cover"`
	FollowUpHints     []string   `mapstructure:"follow_up_hints"`
	SemanticNote      string     `mapstructure:"semantic_note"`
}

func parsePlan(response string) (*Plan, error) {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return nil, err
	}

	var doc planDoc
	if err := decodeLoose(jsonStr, &doc); err != nil {
		return nil, err
	}
	if len(doc.SubQueries) == 0 {
		return nil, fmt.Errorf("plan has no sub_queries")
	}

	return &Plan{
		Reasoning:         doc.Reasoning,
		SubQueries:        doc.SubQueries,
		Assumptions:       doc.Assumptions,
		TraditionsToCover: doc.TraditionsToCover,
		FollowUpHints:     doc.FollowUpHints,
		SemanticNote:      doc.SemanticNote,
	}, nil
}

func parsePass(response string) (*Pass, error) {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return nil, err
	}

	var pass Pass
	if err := decodeLoose(jsonStr, &pass); err != nil {
		return nil, err
	}
	if len(pass.SubQueries) == 0 {
		return nil, fmt.Errorf("pass has no sub_queries")
	}
	return &pass, nil
}
