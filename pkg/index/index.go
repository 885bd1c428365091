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

// Package index is the retrieval adapter: a typed facade over the
// paragraph store (SQL full-text) and the vector index (Qdrant) with
// keyword, semantic and hybrid modes.
package index

import (
	"context"
	"errors"
	"time"
)

// Retrieval modes.
const (
	ModeKeyword  = "keyword"
	ModeSemantic = "semantic"
	ModeHybrid   = "hybrid"
)

// Sentinel errors. ErrUnavailable marks transient backend failures that
// the executor may retry once; ErrBadRequest marks caller mistakes that
// must not be retried.
var (
	ErrUnavailable = errors.New("index unavailable")
	ErrBadRequest  = errors.New("bad retrieval request")
)

// Passage is a paragraph-sized chunk with provenance metadata.
// (DocumentID, ParagraphIndex) is unique and orderable; ID is identity.
type Passage struct {
	ID             string `json:"id"`
	DocumentID     string `json:"document_id"`
	ParagraphIndex int    `json:"paragraph_index"`
	Text           string `json:"text"`
	Title          string `json:"title"`
	Author         string `json:"author"`
	Tradition      string `json:"tradition"`
	Collection     string `json:"collection"`
	Language       string `json:"language"`
	Year           int    `json:"year,omitempty"`

	// ProvenanceQuery records which subquery surfaced this passage.
	ProvenanceQuery string `json:"provenance_query,omitempty"`
}

// Request is one retrieval call.
type Request struct {
	Mode  string
	Query string

	Filters Filters
	Limit   int
	Offset  int

	// SemanticRatio blends keyword and semantic rankings in hybrid
	// mode. Zero means use the configured default.
	SemanticRatio float64

	// Embedding, when set, skips the embedder for semantic retrieval.
	Embedding []float32
}

// Result is the outcome of one retrieval call.
type Result struct {
	Hits           []Passage
	TotalEstimated int
	Timing         time.Duration
}

// Stats summarizes the indexed corpus for the stats endpoint.
type Stats struct {
	Documents  int            `json:"documents"`
	Passages   int            `json:"passages"`
	Traditions map[string]int `json:"traditions"`
	Languages  map[string]int `json:"languages"`
}

// Provider retrieves passages. Implementations must honor the context
// deadline and classify failures with the package sentinels.
type Provider interface {
	Retrieve(ctx context.Context, req Request) (*Result, error)
	Stats(ctx context.Context) (*Stats, error)
	Healthy(ctx context.Context) error
	Close() error
}
