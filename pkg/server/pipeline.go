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

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/gnosis/pkg/index"
	"github.com/kadirpekel/gnosis/pkg/planner"
)

// searchOutcome is the planner + executor half of a request, shared by
// the buffered and streaming handlers.
type searchOutcome struct {
	Plan       *planner.Plan
	Candidates []index.Passage
	ToReturn   int
	Timing     timing
}

// planAndExecute builds the plan and runs the fan-out. emit is nil for
// buffered requests; when set it receives the plan and progress events.
func (s *Server) planAndExecute(ctx context.Context, clean string, terms []string, caller index.Filters, memories []string, exhaustive bool, emit func(any) error) (*searchOutcome, error) {
	out := &searchOutcome{}
	caller.TextContains = append(caller.TextContains, terms...)

	if exhaustive {
		return s.executeExhaustive(ctx, out, clean, terms, caller, memories, emit)
	}

	planStart := time.Now()
	out.Plan = s.planner.PlanSimple(ctx, clean, memories)
	out.Plan.FilterTerms = terms
	out.Timing.PlanMs = time.Since(planStart).Milliseconds()

	if emit != nil {
		if err := emit(planEvent{Type: "plan", Plan: out.Plan}); err != nil {
			return nil, err
		}
	}

	retrievalStart := time.Now()
	result, err := s.executor.Execute(ctx, out.Plan.SubQueries, caller, s.cfg.Executor.HardCap)
	if err != nil {
		return nil, err
	}
	out.Timing.RetrievalMs = time.Since(retrievalStart).Milliseconds()
	out.Candidates = result.Candidates
	out.ToReturn = s.cfg.Analyzer.SimpleReturn
	s.metrics.RecordRetrieval(ctx, len(out.Plan.SubQueries), len(out.Candidates), result.Timing)
	return out, nil
}

// executeExhaustive runs the two-pass flow: broad plan, first fan-out,
// refinement from a result digest, second fan-out, merged union.
func (s *Server) executeExhaustive(ctx context.Context, out *searchOutcome, clean string, terms []string, caller index.Filters, memories []string, emit func(any) error) (*searchOutcome, error) {
	planStart := time.Now()
	out.Plan = s.planner.PlanPass1(ctx, clean, memories)
	out.Plan.FilterTerms = terms
	out.Timing.PlanMs = time.Since(planStart).Milliseconds()

	if emit != nil {
		if err := emit(planEvent{Type: "plan", Plan: out.Plan}); err != nil {
			return nil, err
		}
		if err := emit(progressEvent{
			Type:    "progress",
			Phase:   "pass1",
			Message: fmt.Sprintf("Running %d searches across the library...", len(out.Plan.SubQueries)),
		}); err != nil {
			return nil, err
		}
	}

	pass1Start := time.Now()
	res1, err := s.executor.Execute(ctx, out.Plan.SubQueries, caller, s.cfg.Executor.HardCap)
	if err != nil {
		return nil, err
	}
	out.Timing.Pass1Ms = time.Since(pass1Start).Milliseconds()
	out.Candidates = res1.Candidates

	summary := buildPassSummary(out.Plan.Pass1, res1.Candidates, res1.HitCounts)

	if emit != nil {
		if err := emit(progressEvent{
			Type:    "progress",
			Phase:   "pass2",
			Message: fmt.Sprintf("Found %d passages so far, refining the search...", summary.TotalHits),
		}); err != nil {
			return nil, err
		}
	}

	pass2Start := time.Now()
	if pass2 := s.planner.PlanPass2(ctx, clean, out.Plan.Pass1, summary); pass2 != nil {
		out.Plan.Pass2 = pass2
		res2, err := s.executor.Execute(ctx, pass2.SubQueries, caller, s.cfg.Executor.HardCap)
		if err != nil {
			return nil, err
		}
		out.Candidates = mergeUnion(res1.Candidates, res2.Candidates, s.cfg.Executor.HardCap)
		out.Plan.SubQueries = append(out.Plan.SubQueries, pass2.SubQueries...)
	}
	out.Timing.Pass2Ms = time.Since(pass2Start).Milliseconds()

	out.Timing.RetrievalMs = out.Timing.Pass1Ms + out.Timing.Pass2Ms
	out.ToReturn = s.cfg.Analyzer.ExhaustiveReturn
	s.metrics.RecordRetrieval(ctx, len(out.Plan.SubQueries), len(out.Candidates), time.Duration(out.Timing.RetrievalMs)*time.Millisecond)
	return out, nil
}

// buildPassSummary digests pass-1 results for the refinement prompt.
func buildPassSummary(pass *planner.Pass, candidates []index.Passage, hitCounts []int) planner.PassSummary {
	summary := planner.PassSummary{
		TotalHits: len(candidates),
		PerAngle:  make(map[string]int),
	}
	if pass != nil {
		for i, sq := range pass.SubQueries {
			if i >= len(hitCounts) {
				break
			}
			angle := sq.Angle
			if angle == "" {
				angle = sq.Text
			}
			summary.PerAngle[angle] += hitCounts[i]
		}
	}

	seen := make(map[string]bool)
	for _, c := range candidates {
		if c.Title == "" || seen[c.Title] {
			continue
		}
		seen[c.Title] = true
		summary.SampleTitles = append(summary.SampleTitles, c.Title)
		if len(summary.SampleTitles) == 5 {
			break
		}
	}
	return summary
}

// mergeUnion joins two candidate lists, first list first, first seen
// wins, capped.
func mergeUnion(a, b []index.Passage, limit int) []index.Passage {
	seen := make(map[string]bool, len(a))
	merged := make([]index.Passage, 0, len(a))
	for _, lists := range [][]index.Passage{a, b} {
		for _, p := range lists {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			if len(merged) < limit {
				merged = append(merged, p)
			}
		}
	}
	return merged
}

// remainingAfter reports the budget left once this request's increment
// lands. Unlimited and unmetered budgets are unchanged.
func remainingAfter(remaining int64, metered bool) int64 {
	if remaining < 0 || !metered {
		return remaining
	}
	if remaining > 0 {
		return remaining - 1
	}
	return 0
}
