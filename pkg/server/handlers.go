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
	"errors"
	"net/http"
	"time"

	"github.com/kadirpekel/gnosis/pkg/analyzer"
	"github.com/kadirpekel/gnosis/pkg/cache"
	"github.com/kadirpekel/gnosis/pkg/index"
	"github.com/kadirpekel/gnosis/pkg/memory"
	"github.com/kadirpekel/gnosis/pkg/quota"
)

// filterPayload is the wire shape of caller-supplied filters.
type filterPayload struct {
	Tradition  string `json:"tradition,omitempty"`
	Collection string `json:"collection,omitempty"`
	Language   string `json:"language,omitempty"`
	DocumentID string `json:"documentId,omitempty"`
	YearFrom   int    `json:"yearFrom,omitempty"`
	YearTo     int    `json:"yearTo,omitempty"`
}

func (f filterPayload) toFilters() index.Filters {
	return index.Filters{
		Tradition:  f.Tradition,
		Collection: f.Collection,
		Language:   f.Language,
		DocumentID: f.DocumentID,
		YearFrom:   f.YearFrom,
		YearTo:     f.YearTo,
	}
}

type searchRequest struct {
	Query         string        `json:"query"`
	Limit         int           `json:"limit,omitempty"`
	Offset        int           `json:"offset,omitempty"`
	Mode          string        `json:"mode,omitempty"`
	SemanticRatio float64       `json:"semanticRatio,omitempty"`
	Filters       filterPayload `json:"filters,omitempty"`
}

// handleSearch is the non-AI endpoint: one direct retrieval call.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = index.ModeHybrid
	}

	clean, terms := ExtractFilterTerms(req.Query)
	filters := req.Filters.toFilters()
	filters.TextContains = append(filters.TextContains, terms...)

	start := time.Now()
	result, err := s.provider.Retrieve(r.Context(), index.Request{
		Mode:          mode,
		Query:         clean,
		Filters:       filters,
		Limit:         req.Limit,
		Offset:        req.Offset,
		SemanticRatio: req.SemanticRatio,
	})
	if err != nil {
		if errors.Is(err, index.ErrBadRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "search unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hits":             result.Hits,
		"mode":             mode,
		"filters":          filters,
		"processingTimeMs": time.Since(start).Milliseconds(),
	})
}

type analyzeRequest struct {
	Query   string        `json:"query"`
	Limit   int           `json:"limit,omitempty"`
	Mode    string        `json:"mode,omitempty"`
	Filters filterPayload `json:"filters,omitempty"`
}

// handleAnalyze is the buffered AI path: same pipeline as the stream,
// one JSON response.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
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
		writeJSON(w, http.StatusPaymentRequired, map[string]any{"error": "query_limit_exceeded"})
		return
	}
	s.gate.TouchAnonymous(r.Context(), ident)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Pipeline.RequestTimeout)
	defer cancel()
	start := time.Now()

	bypassCache := len(terms) > 0
	if !bypassCache {
		if entry := s.cache.Lookup(ctx, clean); entry != nil {
			s.metrics.RecordCacheLookup(ctx, true)
			var sources []analyzer.Annotated
			if err := json.Unmarshal(entry.Sources, &sources); err == nil {
				s.commitCachedHit(ident, entry)
				writeJSON(w, http.StatusOK, map[string]any{
					"analysis":         entry.Introduction,
					"sources":          sources,
					"query":            clean,
					"model":            s.cfg.Pipeline.AnalyzerModel,
					"cached":           true,
					"processingTimeMs": time.Since(start).Milliseconds(),
				})
				return
			}
		}
		s.metrics.RecordCacheLookup(ctx, false)
	}

	var memories []string
	if ident.Metered() {
		memories = s.memory.Recall(ctx, ident.ID, clean)
	}

	outcome, err := s.planAndExecute(ctx, clean, terms, req.Filters.toFilters(), memories, false, nil)
	if err != nil {
		http.Error(w, "search failed", http.StatusServiceUnavailable)
		return
	}
	if req.Limit > 0 && req.Limit < outcome.ToReturn {
		outcome.ToReturn = req.Limit
	}

	result, err := s.analyzer.Analyze(ctx, clean, outcome.Candidates, analyzer.Options{
		ResearchContext: outcome.Plan.Reasoning,
		SemanticNote:    outcome.Plan.SemanticNote,
		ToReturn:        outcome.ToReturn,
	})
	if err != nil {
		http.Error(w, "analysis failed", http.StatusServiceUnavailable)
		return
	}
	if result.Degraded {
		s.metrics.RecordBatchFailure(ctx)
	}

	sourcesJSON, err := json.Marshal(sourceList(result.Sources))
	if err != nil {
		http.Error(w, "analysis failed", http.StatusServiceUnavailable)
		return
	}

	if ctx.Err() == nil {
		s.commitSideEffects(ident, clean, outcome.Plan, sourcesJSON, result.Introduction, !bypassCache && !result.Degraded)
	}
	s.metrics.RecordSearch(ctx, outcome.Plan.Strategy, false, time.Since(start))

	writeJSON(w, http.StatusOK, map[string]any{
		"analysis":         result.Introduction,
		"sources":          sourceList(result.Sources),
		"query":            clean,
		"model":            s.cfg.Pipeline.AnalyzerModel,
		"processingTimeMs": time.Since(start).Milliseconds(),
	})
}

func (s *Server) commitCachedHit(ident quota.Identity, entry *cache.Entry) {
	detached, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.gate.Commit(detached, ident)
	s.memory.Append(detached, ident.ID, memory.RoleUser, entry.NormalizedQuery, "")
	s.memory.Append(detached, ident.ID, memory.RoleAssistant, entry.Introduction, "")
}

// handleStats reports index, cache and version information.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.provider.Stats(r.Context())
	if err != nil {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"index":         stats,
		"cacheEntries":  s.cache.Count(r.Context()),
		"serverVersion": s.version,
	})
}

// handleHealth checks the retrieval backends. Models are reported as
// configured; they are not probed on the health path.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	overall := "ok"
	status := http.StatusOK

	if err := s.provider.Healthy(r.Context()); err != nil {
		checks["index"] = err.Error()
		overall = "degraded"
		status = http.StatusServiceUnavailable
	} else {
		checks["index"] = "ok"
	}
	checks["models"] = "configured"

	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": checks,
		"models": s.models.Names(),
	})
}

type unifyRequest struct {
	AnonymousID string `json:"anonymousId"`
}

// handleMemoryUnify rekeys an anonymous identity's memory onto the
// authenticated subject. Safe to call repeatedly; a stale anonymous id
// simply moves zero rows.
func (s *Server) handleMemoryUnify(w http.ResponseWriter, r *http.Request) {
	ident := s.resolveIdentity(r)
	if !ident.Authenticated {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req unifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !quota.ValidAnonymousID(req.AnonymousID) {
		http.Error(w, "a valid anonymousId is required", http.StatusBadRequest)
		return
	}

	if err := s.memory.Unify(r.Context(), req.AnonymousID, ident.ID); err != nil {
		http.Error(w, "unification failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unified": true, "subject": ident.ID})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
