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

package index

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/gnosis/pkg/embedder"
)

// rrfK is the reciprocal rank fusion constant. Standard value from the
// literature; larger values flatten the rank contribution curve.
const rrfK = 60

// Retriever implements Provider over the SQL paragraph store and the
// Qdrant vector index.
type Retriever struct {
	store        *SQLStore
	vectors      *QdrantIndex
	embed        embedder.Embedder
	defaultRatio float64
}

var _ Provider = (*Retriever)(nil)

// NewRetriever wires the two backends together.
func NewRetriever(store *SQLStore, vectors *QdrantIndex, embed embedder.Embedder, defaultRatio float64) *Retriever {
	return &Retriever{
		store:        store,
		vectors:      vectors,
		embed:        embed,
		defaultRatio: defaultRatio,
	}
}

// Retrieve dispatches on mode.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}

	var hits []Passage
	var err error
	switch req.Mode {
	case ModeKeyword:
		hits, err = r.store.SearchKeyword(ctx, req.Query, req.Filters, req.Limit, req.Offset)
	case ModeSemantic:
		hits, err = r.semantic(ctx, req)
	case ModeHybrid:
		hits, err = r.hybrid(ctx, req)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrBadRequest, req.Mode)
	}
	if err != nil {
		return nil, err
	}

	for i := range hits {
		hits[i].ProvenanceQuery = req.Query
	}

	return &Result{
		Hits:           hits,
		TotalEstimated: len(hits),
		Timing:         time.Since(start),
	}, nil
}

func (r *Retriever) semantic(ctx context.Context, req Request) ([]Passage, error) {
	vector := req.Embedding
	if vector == nil {
		var err error
		vector, err = r.embed.Embed(ctx, req.Query)
		if err != nil {
			return nil, fmt.Errorf("%w: query embedding failed: %v", ErrUnavailable, err)
		}
	}

	// Over-fetch to survive SQL-side re-filtering and offsets.
	topK := (req.Limit + req.Offset) * 2
	vecHits, err := r.vectors.Search(ctx, vector, topK, req.Filters)
	if err != nil {
		return nil, err
	}
	if len(vecHits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(vecHits))
	for i, h := range vecHits {
		ids[i] = h.ID
	}
	passages, err := r.store.FetchByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Year ranges and text-contains terms cannot ride in the payload
	// filter, so re-check SQL-side.
	allowed := map[string]bool(nil)
	if req.Filters.YearFrom != 0 || req.Filters.YearTo != 0 || len(req.Filters.TextContains) > 0 {
		allowed, err = r.store.MatchesFilter(ctx, ids, req.Filters)
		if err != nil {
			return nil, err
		}
	}

	var out []Passage
	for _, h := range vecHits {
		p, ok := passages[h.ID]
		if !ok {
			continue
		}
		if allowed != nil && !allowed[h.ID] {
			continue
		}
		out = append(out, p)
	}
	out = page(out, req.Offset, req.Limit)
	return out, nil
}

// hybrid runs keyword and semantic retrieval concurrently and fuses the
// rankings with reciprocal rank fusion weighted by the semantic ratio.
func (r *Retriever) hybrid(ctx context.Context, req Request) ([]Passage, error) {
	ratio := req.SemanticRatio
	if ratio == 0 {
		ratio = r.defaultRatio
	}

	fetch := req.Limit + req.Offset
	var kwHits, semHits []Passage

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.store.SearchKeyword(gctx, req.Query, req.Filters, fetch*2, 0)
		if err != nil {
			return err
		}
		kwHits = hits
		return nil
	})
	g.Go(func() error {
		semReq := req
		semReq.Mode = ModeSemantic
		semReq.Limit = fetch * 2
		semReq.Offset = 0
		hits, err := r.semantic(gctx, semReq)
		if err != nil {
			return err
		}
		semHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return page(fuseRankings(kwHits, semHits, ratio), req.Offset, req.Limit), nil
}

// fuseRankings merges two rankings with reciprocal rank fusion. ratio
// weights the semantic side; ties break on (document, paragraph) so the
// order is deterministic.
func fuseRankings(kwHits, semHits []Passage, ratio float64) []Passage {
	type fused struct {
		passage Passage
		score   float64
	}
	byID := make(map[string]*fused)

	for rank, p := range kwHits {
		byID[p.ID] = &fused{passage: p, score: (1 - ratio) / float64(rrfK+rank+1)}
	}
	for rank, p := range semHits {
		contribution := ratio / float64(rrfK+rank+1)
		if f, ok := byID[p.ID]; ok {
			f.score += contribution
		} else {
			byID[p.ID] = &fused{passage: p, score: contribution}
		}
	}

	all := make([]fused, 0, len(byID))
	for _, f := range byID {
		all = append(all, *f)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if all[i].passage.DocumentID != all[j].passage.DocumentID {
			return all[i].passage.DocumentID < all[j].passage.DocumentID
		}
		return all[i].passage.ParagraphIndex < all[j].passage.ParagraphIndex
	})

	out := make([]Passage, len(all))
	for i, f := range all {
		out[i] = f.passage
	}
	return out
}

// Stats reads corpus statistics from the paragraph store.
func (r *Retriever) Stats(ctx context.Context) (*Stats, error) {
	return r.store.Stats(ctx)
}

// Healthy checks both backends.
func (r *Retriever) Healthy(ctx context.Context) error {
	if err := r.store.Healthy(ctx); err != nil {
		return fmt.Errorf("paragraph store: %w", err)
	}
	if err := r.vectors.Healthy(ctx); err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	return nil
}

// Close closes the vector client. The SQL connection is shared and
// closed by its owner.
func (r *Retriever) Close() error {
	return r.vectors.Close()
}

func page(hits []Passage, offset, limit int) []Passage {
	if offset >= len(hits) {
		return nil
	}
	hits = hits[offset:]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
