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

// Package analyzer is the second AI pass: it partitions merged
// candidates into batches, scores and annotates them concurrently,
// re-ranks globally, and derives highlight markup server-side.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kadirpekel/gnosis/pkg/config"
	"github.com/kadirpekel/gnosis/pkg/index"
	"github.com/kadirpekel/gnosis/pkg/model"
)

const neutralScore = 0.5

// Annotated is the analyzer output for one candidate.
type Annotated struct {
	Passage index.Passage `json:"passage"`

	Score           float64  `json:"score"`
	KeyPhrase       string   `json:"keyPhrase,omitempty"`
	CoreTerms       []string `json:"coreTerms,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	BriefAnswer     string   `json:"briefAnswer,omitempty"`
	HighlightedText string   `json:"highlightedText"`

	// firstSeen is the candidate's index in the merged list, the
	// tiebreaker for equal scores.
	firstSeen int
}

// Result is a full analyzer run.
type Result struct {
	Sources      []Annotated
	Introduction string
	Timing       time.Duration

	// Degraded is set when every batch failed and the sources are raw
	// candidates in first-seen order.
	Degraded bool
}

// Options tunes one analyze call.
type Options struct {
	// ResearchContext carries the plan reasoning into batch prompts.
	ResearchContext string

	// SemanticNote from the planner, appended to the introduction.
	SemanticNote string

	// ToReturn caps the final source list. Zero means the configured
	// simple-strategy cap.
	ToReturn int

	// SkipIntro suppresses the buffered introduction; the caller streams
	// it separately. The degraded canned intro is still produced.
	SkipIntro bool
}

// Analyzer scores and annotates candidates with an LLM.
type Analyzer struct {
	llm      model.LLM
	introLLM model.LLM
	cfg      *config.AnalyzerConfig
}

// New creates an analyzer. introLLM may equal llm.
func New(llm, introLLM model.LLM, cfg *config.AnalyzerConfig) *Analyzer {
	return &Analyzer{llm: llm, introLLM: introLLM, cfg: cfg}
}

// Analyze runs the batch fan-out and global merge.
func (a *Analyzer) Analyze(ctx context.Context, query string, candidates []index.Passage, opts Options) (*Result, error) {
	start := time.Now()

	if len(candidates) == 0 {
		return &Result{
			Introduction: "Found 0 passages matching your query.",
			Timing:       time.Since(start),
		}, nil
	}

	toReturn := opts.ToReturn
	if toReturn <= 0 {
		toReturn = a.cfg.SimpleReturn
	}

	batches := partition(candidates, a.cfg.BatchSize)
	outcomes := make([][]Annotated, len(batches))
	failures := make([]bool, len(batches))

	sem := make(chan struct{}, a.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for i, batch := range batches {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		wg.Add(1)
		go func(i int, batch []indexed) {
			defer func() {
				<-sem
				wg.Done()
			}()
			annotated, err := a.analyzeBatch(ctx, query, batch, opts.ResearchContext)
			if err != nil {
				slog.Warn("Analyzer batch failed, keeping passages with neutral score",
					"batch", i, "error", err)
				failures[i] = true
				annotated = neutralBatch(batch)
			}
			outcomes[i] = annotated
		}(i, batch)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allFailed := true
	for _, f := range failures {
		if !f {
			allFailed = false
			break
		}
	}

	var merged []Annotated
	for _, batch := range outcomes {
		merged = append(merged, batch...)
	}

	if allFailed {
		// Raw candidates in first-seen order with a canned intro.
		sort.Slice(merged, func(i, j int) bool { return merged[i].firstSeen < merged[j].firstSeen })
		if len(merged) > toReturn {
			merged = merged[:toReturn]
		}
		return &Result{
			Sources:      merged,
			Introduction: fmt.Sprintf("Found %d passages matching your query.", len(candidates)),
			Timing:       time.Since(start),
			Degraded:     true,
		}, nil
	}

	// Global re-rank: score descending, first-seen breaks ties.
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].firstSeen < merged[j].firstSeen
	})
	if len(merged) > toReturn {
		merged = merged[:toReturn]
	}

	var intro string
	if !opts.SkipIntro {
		intro = a.introduce(ctx, query, merged)
		if opts.SemanticNote != "" {
			intro = intro + " " + opts.SemanticNote
		}
	}

	return &Result{
		Sources:      merged,
		Introduction: intro,
		Timing:       time.Since(start),
	}, nil
}

// indexed pairs a candidate with its merged-list position.
type indexed struct {
	passage   index.Passage
	firstSeen int
}

func partition(candidates []index.Passage, batchSize int) [][]indexed {
	if batchSize <= 0 {
		batchSize = 2
	}
	var batches [][]indexed
	for i := 0; i < len(candidates); i += batchSize {
		end := i + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := make([]indexed, 0, end-i)
		for j := i; j < end; j++ {
			batch = append(batch, indexed{passage: candidates[j], firstSeen: j})
		}
		batches = append(batches, batch)
	}
	return batches
}

func neutralBatch(batch []indexed) []Annotated {
	out := make([]Annotated, len(batch))
	for i, c := range batch {
		out[i] = Annotated{
			Passage:         c.passage,
			Score:           neutralScore,
			HighlightedText: c.passage.Text,
			firstSeen:       c.firstSeen,
		}
	}
	return out
}

// introduce produces the one-sentence introduction from the top
// summaries. Falls back to the canned form on any failure.
func (a *Analyzer) introduce(ctx context.Context, query string, sources []Annotated) string {
	canned := fmt.Sprintf("Found %d passages matching your query.", len(sources))

	topN := len(sources)
	if topN > 5 {
		topN = 5
	}
	var summaries []string
	for _, s := range sources[:topN] {
		if s.Summary != "" {
			summaries = append(summaries, s.Summary)
		}
	}
	if len(summaries) == 0 {
		return canned
	}

	resp, err := model.ChatWithRetry(ctx, a.introLLM, []model.Message{
		{Role: model.RoleSystem, Content: "You write one short introductory sentence for a set of scholarly search results. No preamble, one sentence only."},
		{Role: model.RoleUser, Content: fmt.Sprintf("Query: %q\nTop findings: %s", query, joinSummaries(summaries))},
	}, model.Options{MaxTokens: 80})
	if err != nil || resp.Content == "" {
		slog.Debug("Introduction generation failed, using canned intro", "error", err)
		return canned
	}
	return resp.Content
}

// StreamIntroduction streams the introduction as text deltas over the
// returned channel, which closes when the sentence is done. Falls back
// to a single canned chunk on any failure; the channel always yields at
// least one chunk.
func (a *Analyzer) StreamIntroduction(ctx context.Context, query string, sources []Annotated, semanticNote string) <-chan string {
	out := make(chan string, 8)

	canned := fmt.Sprintf("Found %d passages matching your query.", len(sources))
	topN := len(sources)
	if topN > 5 {
		topN = 5
	}
	var summaries []string
	for _, s := range sources[:topN] {
		if s.Summary != "" {
			summaries = append(summaries, s.Summary)
		}
	}

	go func() {
		defer close(out)
		if len(summaries) == 0 {
			out <- canned
			emitNote(out, semanticNote)
			return
		}

		chunks, errs := a.introLLM.ChatStream(ctx, []model.Message{
			{Role: model.RoleSystem, Content: "You write one short introductory sentence for a set of scholarly search results. No preamble, one sentence only."},
			{Role: model.RoleUser, Content: fmt.Sprintf("Query: %q\nTop findings: %s", query, joinSummaries(summaries))},
		}, model.Options{MaxTokens: 80})

		sent := false
		for chunk := range chunks {
			if chunk.Text == "" {
				continue
			}
			out <- chunk.Text
			sent = true
		}
		if err := <-errs; err != nil && !sent {
			slog.Debug("Introduction stream failed, using canned intro", "error", err)
			out <- canned
		}
		emitNote(out, semanticNote)
	}()
	return out
}

func emitNote(out chan<- string, note string) {
	if note != "" {
		out <- " " + note
	}
}

func joinSummaries(summaries []string) string {
	out := ""
	for i, s := range summaries {
		if i > 0 {
			out += "; "
		}
		out += s
	}
	return out
}
