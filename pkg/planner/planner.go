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

// Package planner turns one user query into a retrieval plan.
//
// Classification is a deterministic heuristic; the plan itself comes
// from an LLM call returning JSON. Planning never blocks a request: any
// failure degrades to a single-query hybrid fallback plan.
package planner

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kadirpekel/gnosis/pkg/config"
	"github.com/kadirpekel/gnosis/pkg/index"
	"github.com/kadirpekel/gnosis/pkg/model"
)

// Plan strategies.
const (
	StrategySimple     = "simple"
	StrategyExhaustive = "exhaustive"
)

// SubQuery is one concrete retrieval to execute.
type SubQuery struct {
	Text      string        `json:"text" mapstructure:"text"`
	Mode      string        `json:"mode" mapstructure:"mode"`
	Filters   index.Filters `json:"filters,omitempty" mapstructure:"filters"`
	Rationale string        `json:"rationale,omitempty" mapstructure:"rationale"`
	Angle     string        `json:"angle,omitempty" mapstructure:"angle"`
}

// Pass is one planning round of an exhaustive plan.
type Pass struct {
	Reasoning           string     `json:"reasoning,omitempty" mapstructure:"reasoning"`
	SubQueries          []SubQuery `json:"subQueries" mapstructure:"sub_queries"`
	Gaps                []string   `json:"gaps,omitempty" mapstructure:"gaps"`
	PromisingDirections []string   `json:"promisingDirections,omitempty" mapstructure:"promising_directions"`
}

// Plan is the planner output. For exhaustive strategy SubQueries holds
// the union of queries actually executed across both passes.
type Plan struct {
	Strategy          string     `json:"strategy"`
	Reasoning         string     `json:"reasoning,omitempty"`
	SubQueries        []SubQuery `json:"subQueries"`
	Assumptions       []string   `json:"assumptions,omitempty"`
	TraditionsToCover []string   `json:"traditionsToCover,omitempty"`
	FollowUpHints     []string   `json:"followUpHints,omitempty"`

	// SemanticNote flags a query term carrying multiple distinct senses.
	SemanticNote string `json:"semanticNote,omitempty"`

	TwoPass bool  `json:"twoPass,omitempty"`
	Pass1   *Pass `json:"pass1,omitempty"`
	Pass2   *Pass `json:"pass2,omitempty"`

	// FilterTerms records free-text terms extracted from the query's
	// trailing parenthetical.
	FilterTerms []string `json:"filterTerms,omitempty"`

	// Cached marks a plan replayed from the cache store.
	Cached bool `json:"cached,omitempty"`

	// Fallback marks a plan produced without the LLM.
	Fallback bool `json:"fallback,omitempty"`
}

// PassSummary is the light result digest shown to the pass-2 planner.
type PassSummary struct {
	TotalHits    int            `json:"totalHits"`
	PerAngle     map[string]int `json:"perAngle,omitempty"`
	SampleTitles []string       `json:"sampleTitles,omitempty"`
}

// Planner builds retrieval plans with an LLM.
type Planner struct {
	llm model.LLM
	cfg *config.PlannerConfig
}

// New creates a planner.
func New(llm model.LLM, cfg *config.PlannerConfig) *Planner {
	return &Planner{llm: llm, cfg: cfg}
}

// Classify decides simple vs exhaustive with a deterministic heuristic.
func (p *Planner) Classify(query string) string {
	lower := strings.ToLower(query)
	for _, kw := range p.cfg.ExhaustiveKeywords {
		if strings.Contains(lower, kw) {
			return StrategyExhaustive
		}
	}
	if len(strings.Fields(query)) >= p.cfg.ExhaustiveMinWords {
		return StrategyExhaustive
	}
	return StrategySimple
}

// PlanSimple produces a 1-3 subquery plan. Never fails: a planner error
// yields the fallback plan.
func (p *Planner) PlanSimple(ctx context.Context, query string, memory []string) *Plan {
	prompt := buildSimplePrompt(query, memory)
	raw, err := p.complete(ctx, prompt)
	if err != nil {
		slog.Warn("Planner LLM failed, using fallback plan", "error", err)
		return FallbackPlan(query)
	}

	plan, err := parsePlan(raw)
	if err != nil {
		slog.Warn("Planner returned unparseable plan, using fallback", "error", err)
		return FallbackPlan(query)
	}

	plan.Strategy = StrategySimple
	p.sanitize(plan, query, 3)
	return plan
}

// PlanPass1 produces the broad first pass of an exhaustive plan.
func (p *Planner) PlanPass1(ctx context.Context, query string, memory []string) *Plan {
	prompt := buildPass1Prompt(query, memory, p.cfg.MaxSubQueries)
	raw, err := p.complete(ctx, prompt)
	if err != nil {
		slog.Warn("Exhaustive planner pass 1 failed, using fallback plan", "error", err)
		plan := FallbackPlan(query)
		plan.Strategy = StrategyExhaustive
		return plan
	}

	plan, err := parsePlan(raw)
	if err != nil {
		slog.Warn("Exhaustive pass 1 unparseable, using fallback", "error", err)
		plan = FallbackPlan(query)
	}

	plan.Strategy = StrategyExhaustive
	plan.TwoPass = true
	p.sanitize(plan, query, p.cfg.MaxSubQueries)
	plan.Pass1 = &Pass{Reasoning: plan.Reasoning, SubQueries: plan.SubQueries}
	return plan
}

// PlanPass2 refines an exhaustive plan from a pass-1 result summary.
// Returns nil when refinement fails; the caller proceeds with pass 1.
func (p *Planner) PlanPass2(ctx context.Context, query string, pass1 *Pass, summary PassSummary) *Pass {
	prompt := buildPass2Prompt(query, pass1, summary)
	raw, err := p.complete(ctx, prompt)
	if err != nil {
		slog.Warn("Exhaustive planner pass 2 failed, keeping pass 1 results", "error", err)
		return nil
	}

	pass, err := parsePass(raw)
	if err != nil {
		slog.Warn("Exhaustive pass 2 unparseable, keeping pass 1 results", "error", err)
		return nil
	}

	valid := pass.SubQueries[:0]
	for _, sq := range pass.SubQueries {
		if strings.TrimSpace(sq.Text) == "" {
			continue
		}
		if sq.Mode == "" {
			sq.Mode = index.ModeHybrid
		}
		valid = append(valid, sq)
	}
	pass.SubQueries = valid
	if len(pass.SubQueries) > p.cfg.MaxSubQueries {
		pass.SubQueries = pass.SubQueries[:p.cfg.MaxSubQueries]
	}
	if len(pass.SubQueries) == 0 {
		return nil
	}
	return pass
}

// FallbackPlan is the degraded single-query plan used when the LLM is
// unreachable or unparseable.
func FallbackPlan(query string) *Plan {
	return &Plan{
		Strategy: StrategySimple,
		SubQueries: []SubQuery{
			{Text: query, Mode: index.ModeHybrid, Rationale: "fallback"},
		},
		Fallback: true,
	}
}

func (p *Planner) complete(ctx context.Context, prompt string) (string, error) {
	temp := 0.0
	resp, err := model.ChatWithRetry(ctx, p.llm, []model.Message{
		{Role: model.RoleSystem, Content: plannerSystemPrompt},
		{Role: model.RoleUser, Content: prompt},
	}, model.Options{Temperature: &temp})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// sanitize enforces plan invariants: non-empty subqueries, a mode on
// every entry, and the subquery cap.
func (p *Planner) sanitize(plan *Plan, query string, maxQueries int) {
	valid := plan.SubQueries[:0]
	for _, sq := range plan.SubQueries {
		if strings.TrimSpace(sq.Text) == "" {
			continue
		}
		switch sq.Mode {
		case index.ModeKeyword, index.ModeSemantic, index.ModeHybrid:
		default:
			sq.Mode = index.ModeHybrid
		}
		valid = append(valid, sq)
	}
	plan.SubQueries = valid

	if len(plan.SubQueries) == 0 {
		plan.SubQueries = FallbackPlan(query).SubQueries
		plan.Fallback = true
	}
	if len(plan.SubQueries) > maxQueries {
		plan.SubQueries = plan.SubQueries[:maxQueries]
	}
}
