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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kadirpekel/gnosis/pkg/analyzer"
	"github.com/kadirpekel/gnosis/pkg/cache"
	"github.com/kadirpekel/gnosis/pkg/memory"
	"github.com/kadirpekel/gnosis/pkg/model"
	"github.com/kadirpekel/gnosis/pkg/planner"
	"github.com/kadirpekel/gnosis/pkg/quota"
)

type streamRequest struct {
	Query         string        `json:"query"`
	Limit         int           `json:"limit,omitempty"`
	Mode          string        `json:"mode,omitempty"`
	UseResearcher bool          `json:"useResearcher,omitempty"`
	Filters       filterPayload `json:"filters,omitempty"`
}

// handleAnalyzeStream is the SSE assembler. Event order for a miss:
// thinking (exhaustive only), plan, progress*, sources, chunk+,
// complete. Cache hits replay plan/sources/one chunk/complete. Denied
// quota emits a single error event on a 402.
func (s *Server) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	ident := s.resolveIdentity(r)
	clean, terms := ExtractFilterTerms(req.Query)

	decision, err := s.gate.Check(r.Context(), ident)
	if err != nil {
		http.Error(w, "quota check failed", http.StatusInternalServerError)
		return
	}
	if !decision.Allowed {
		s.metrics.RecordQuotaDenial(r.Context(), decision.Reason)
		sw, err := newStreamWriter(w, http.StatusPaymentRequired)
		if err != nil {
			return
		}
		_ = sw.send(errorEvent{Type: "error", Error: "query_limit_exceeded"})
		return
	}
	s.gate.TouchAnonymous(r.Context(), ident)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Pipeline.RequestTimeout)
	defer cancel()

	sw, err := newStreamWriter(w, http.StatusOK)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	start := time.Now()
	bypassCache := len(terms) > 0

	if !bypassCache {
		if entry := s.cache.Lookup(ctx, clean); entry != nil {
			s.metrics.RecordCacheLookup(ctx, true)
			s.replayCached(ctx, sw, entry, ident, decision)
			s.metrics.RecordSearch(ctx, "cached", true, time.Since(start))
			return
		}
		s.metrics.RecordCacheLookup(ctx, false)
	}

	var memories []string
	if ident.Metered() {
		memories = s.memory.Recall(ctx, ident.ID, clean)
	}

	exhaustive := req.UseResearcher || s.planner.Classify(clean) == planner.StrategyExhaustive
	if exhaustive {
		if err := sw.send(thinkingEvent{
			Type:         "thinking",
			Message:      s.thinkingMessage(ctx, clean),
			IsExhaustive: true,
		}); err != nil {
			return
		}
	}

	outcome, err := s.planAndExecute(ctx, clean, terms, req.Filters.toFilters(), memories, exhaustive, sw.send)
	if err != nil {
		// Nothing useful was gathered; the stream has no sources yet.
		slog.Warn("Search pipeline failed before sources", "error", err)
		_ = sw.send(errorEvent{Type: "error", Error: "search_failed"})
		return
	}

	if req.Limit > 0 && req.Limit < outcome.ToReturn {
		outcome.ToReturn = req.Limit
	}

	analysisStart := time.Now()
	result, err := s.analyzer.Analyze(ctx, clean, outcome.Candidates, analyzer.Options{
		ResearchContext: outcome.Plan.Reasoning,
		SemanticNote:    outcome.Plan.SemanticNote,
		ToReturn:        outcome.ToReturn,
		SkipIntro:       true,
	})
	if err != nil {
		slog.Warn("Analyzer failed before sources", "error", err)
		_ = sw.send(errorEvent{Type: "error", Error: "search_failed"})
		return
	}
	outcome.Timing.AnalysisMs = time.Since(analysisStart).Milliseconds()
	if result.Degraded {
		s.metrics.RecordBatchFailure(ctx)
	}

	sourcesJSON, err := json.Marshal(sourceList(result.Sources))
	if err != nil {
		_ = sw.send(errorEvent{Type: "error", Error: "search_failed"})
		return
	}
	if err := sw.send(sourcesEvent{Type: "sources", Sources: sourcesJSON}); err != nil {
		return
	}

	// Sources are out; from here every failure degrades to an apology
	// chunk, never an error event.
	intro := s.streamIntro(ctx, sw, clean, result, outcome.Plan.SemanticNote)

	outcome.Timing.TotalMs = time.Since(start).Milliseconds()
	_ = sw.send(completeEvent{
		Type:   "complete",
		Timing: outcome.Timing,
		QueryLimit: queryLimit{
			Remaining:       remainingAfter(decision.Remaining, ident.Metered()),
			Limit:           decision.Limit,
			IsAuthenticated: ident.Authenticated,
		},
	})

	if ctx.Err() != nil {
		// Client gone or deadline hit: nothing persists.
		return
	}
	s.commitSideEffects(ident, clean, outcome.Plan, sourcesJSON, intro, !bypassCache && !result.Degraded)
	s.metrics.RecordSearch(ctx, outcome.Plan.Strategy, false, time.Since(start))
}

// streamIntro emits chunk events for the introduction and returns the
// assembled text. Degraded analyses carry a canned intro already.
func (s *Server) streamIntro(ctx context.Context, sw *streamWriter, clean string, result *analyzer.Result, semanticNote string) string {
	if result.Degraded {
		_ = sw.send(chunkEvent{Type: "chunk", Text: result.Introduction})
		return result.Introduction
	}

	intro := ""
	for delta := range s.analyzer.StreamIntroduction(ctx, clean, result.Sources, semanticNote) {
		if err := sw.send(chunkEvent{Type: "chunk", Text: delta}); err != nil {
			break
		}
		intro += delta
	}
	if intro == "" {
		intro = fmt.Sprintf("Found %d passages matching your query.", len(result.Sources))
		_ = sw.send(chunkEvent{Type: "chunk", Text: intro})
	}
	return intro
}

// replayCached emits the stored response as a four-event stream.
func (s *Server) replayCached(ctx context.Context, sw *streamWriter, entry *cache.Entry, ident quota.Identity, decision quota.Decision) {
	var plan planner.Plan
	if err := json.Unmarshal(entry.Plan, &plan); err != nil {
		slog.Warn("Cached plan unreadable, replaying minimal plan", "error", err)
		plan = *planner.FallbackPlan(entry.NormalizedQuery)
	}
	plan.Cached = true

	if err := sw.send(planEvent{Type: "plan", Plan: &plan}); err != nil {
		return
	}
	if err := sw.send(sourcesEvent{Type: "sources", Sources: entry.Sources}); err != nil {
		return
	}
	if err := sw.send(chunkEvent{Type: "chunk", Text: entry.Introduction}); err != nil {
		return
	}
	_ = sw.send(completeEvent{
		Type:     "complete",
		Timing:   timing{},
		Cached:   true,
		CacheAge: int64(entry.Age().Seconds()),
		QueryLimit: queryLimit{
			Remaining:       remainingAfter(decision.Remaining, ident.Metered()),
			Limit:           decision.Limit,
			IsAuthenticated: ident.Authenticated,
		},
	})

	if ctx.Err() != nil {
		return
	}
	// Cache hits still count against the budget and still land in
	// memory; the stored entry is untouched.
	detached, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.gate.Commit(detached, ident)
	s.memory.Append(detached, ident.ID, memory.RoleUser, entry.NormalizedQuery, "")
	s.memory.Append(detached, ident.ID, memory.RoleAssistant, entry.Introduction, "")
}

// commitSideEffects runs the post-completion writes in order: quota
// increment, cache write, memory append. All are non-blocking for the
// stream, which has already closed its event sequence.
func (s *Server) commitSideEffects(ident quota.Identity, clean string, plan *planner.Plan, sourcesJSON json.RawMessage, intro string, cacheable bool) {
	detached, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.gate.Commit(detached, ident)

	if cacheable {
		planJSON, err := json.Marshal(plan)
		if err != nil {
			slog.Warn("Failed to marshal plan for cache", "error", err)
		} else {
			s.cache.Store(detached, clean, planJSON, sourcesJSON, intro)
		}
	}

	s.memory.Append(detached, ident.ID, memory.RoleUser, clean, "")
	s.memory.Append(detached, ident.ID, memory.RoleAssistant, intro, "")
}

// thinkingMessage asks the intro model for a one-line acknowledgment
// under a tight deadline, falling back to a canned line. It buys time
// against exhaustive-planner latency.
func (s *Server) thinkingMessage(ctx context.Context, clean string) string {
	canned := "This is a broad question. Planning a multi-angle search across the library..."

	quick, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp, err := s.introModel.Chat(quick, []model.Message{
		{Role: model.RoleSystem, Content: "Write one short sentence acknowledging a research question and saying a thorough multi-angle library search is starting. No preamble."},
		{Role: model.RoleUser, Content: clean},
	}, model.Options{MaxTokens: 60})
	if err != nil || resp.Content == "" {
		return canned
	}
	return resp.Content
}

// sourceList never marshals as JSON null.
func sourceList(sources []analyzer.Annotated) []analyzer.Annotated {
	if sources == nil {
		return []analyzer.Annotated{}
	}
	return sources
}
