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

// Package executor fans a retrieval plan out over the index and merges
// the results into a deduplicated candidate list.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/gnosis/pkg/config"
	"github.com/kadirpekel/gnosis/pkg/index"
	"github.com/kadirpekel/gnosis/pkg/planner"
)

// Executor runs plan subqueries concurrently against the retrieval
// adapter.
type Executor struct {
	provider index.Provider
	cfg      *config.ExecutorConfig
}

// Result is the merged candidate set plus per-subquery hit counts keyed
// by plan position.
type Result struct {
	Candidates []index.Passage
	HitCounts  []int
	Timing     time.Duration
}

// New creates an executor.
func New(provider index.Provider, cfg *config.ExecutorConfig) *Executor {
	return &Executor{provider: provider, cfg: cfg}
}

// Execute runs every subquery with bounded concurrency and merges hits
// in plan order with first-seen dedupe. A single failing subquery
// degrades to an empty list; the call fails only when the context dies.
func (e *Executor) Execute(ctx context.Context, subQueries []planner.SubQuery, caller index.Filters, maxResults int) (*Result, error) {
	start := time.Now()

	perQuery := make([][]index.Passage, len(subQueries))
	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, sq := range subQueries {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		wg.Add(1)

		go func(i int, sq planner.SubQuery) {
			defer func() {
				<-sem
				wg.Done()
			}()
			perQuery[i] = e.runSubQuery(ctx, sq, caller)
		}(i, sq)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := e.cfg.HardCap
	if maxResults > 0 && maxResults < limit {
		limit = maxResults
	}

	// Merge in plan order; the first subquery that surfaced an id wins.
	seen := make(map[string]bool)
	var merged []index.Passage
	hitCounts := make([]int, len(subQueries))
	for i, hits := range perQuery {
		hitCounts[i] = len(hits)
		for _, p := range hits {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			if len(merged) < limit {
				merged = append(merged, p)
			}
		}
	}

	return &Result{
		Candidates: merged,
		HitCounts:  hitCounts,
		Timing:     time.Since(start),
	}, nil
}

// runSubQuery retrieves one subquery, retrying once on a transient
// index failure. Failures return an empty list.
func (e *Executor) runSubQuery(ctx context.Context, sq planner.SubQuery, caller index.Filters) []index.Passage {
	req := index.Request{
		Mode:    sq.Mode,
		Query:   sq.Text,
		Filters: intersect(sq.Filters, caller),
		Limit:   e.cfg.PerQueryLimit,
	}

	result, err := e.provider.Retrieve(ctx, req)
	if err != nil && errors.Is(err, index.ErrUnavailable) && ctx.Err() == nil {
		slog.Debug("Retrieval unavailable, retrying subquery once", "query", sq.Text)
		result, err = e.provider.Retrieve(ctx, req)
	}
	if err != nil {
		slog.Warn("Subquery failed, degrading to empty result",
			"query", sq.Text, "mode", sq.Mode, "error", err)
		return nil
	}
	return result.Hits
}

// intersect composes plan-level filters with the caller's. The caller
// wins on scalar conflicts narrowing to their own scope; text-contains
// terms accumulate.
func intersect(plan, caller index.Filters) index.Filters {
	out := plan
	if caller.Tradition != "" {
		out.Tradition = caller.Tradition
	}
	if caller.Collection != "" {
		out.Collection = caller.Collection
	}
	if caller.Language != "" {
		out.Language = caller.Language
	}
	if caller.DocumentID != "" {
		out.DocumentID = caller.DocumentID
	}
	if caller.YearFrom != 0 && (out.YearFrom == 0 || caller.YearFrom > out.YearFrom) {
		out.YearFrom = caller.YearFrom
	}
	if caller.YearTo != 0 && (out.YearTo == 0 || caller.YearTo < out.YearTo) {
		out.YearTo = caller.YearTo
	}
	out.TextContains = append(append([]string{}, plan.TextContains...), caller.TextContains...)
	return out
}
