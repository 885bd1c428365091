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

package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics records search pipeline measurements. The zero value
// is a valid no-op recorder; every method nil-guards its instrument.
type PipelineMetrics struct {
	searchDuration     metric.Float64Histogram
	searchesTotal      metric.Int64Counter
	cacheHitsTotal     metric.Int64Counter
	quotaDenialsTotal  metric.Int64Counter
	retrievalDuration  metric.Float64Histogram
	llmDuration        metric.Float64Histogram
	llmTokensTotal     metric.Int64Counter
	httpDuration       metric.Float64Histogram
	batchFailuresTotal metric.Int64Counter
}

// Enabled reports whether instruments were registered.
func (m *PipelineMetrics) Enabled() bool {
	return m != nil && m.searchesTotal != nil
}

// RecordSearch records one completed search with its strategy and
// total duration.
func (m *PipelineMetrics) RecordSearch(ctx context.Context, strategy string, cached bool, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.Bool("cached", cached),
	)
	if m.searchesTotal != nil {
		m.searchesTotal.Add(ctx, 1, attrs)
	}
	if m.searchDuration != nil {
		m.searchDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordCacheLookup records a cache hit or miss.
func (m *PipelineMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil || m.cacheHitsTotal == nil {
		return
	}
	m.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

// RecordQuotaDenial records a request rejected by the quota gate.
func (m *PipelineMetrics) RecordQuotaDenial(ctx context.Context, reason string) {
	if m == nil || m.quotaDenialsTotal == nil {
		return
	}
	m.quotaDenialsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRetrieval records one fan-out retrieval round.
func (m *PipelineMetrics) RecordRetrieval(ctx context.Context, subQueries, candidates int, duration time.Duration) {
	if m == nil || m.retrievalDuration == nil {
		return
	}
	m.retrievalDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Int("sub_queries", subQueries),
		attribute.Int("candidates", candidates),
	))
}

// RecordLLMRequest records one model call with token usage.
func (m *PipelineMetrics) RecordLLMRequest(ctx context.Context, model, stage string, duration time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("stage", stage),
	}
	if m.llmDuration != nil {
		m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if m.llmTokensTotal != nil {
		m.llmTokensTotal.Add(ctx, int64(promptTokens),
			metric.WithAttributes(append(attrs, attribute.String("direction", "prompt"))...))
		m.llmTokensTotal.Add(ctx, int64(completionTokens),
			metric.WithAttributes(append(attrs, attribute.String("direction", "completion"))...))
	}
}

// RecordBatchFailure records an analyzer batch that fell back to
// neutral scoring.
func (m *PipelineMetrics) RecordBatchFailure(ctx context.Context) {
	if m == nil || m.batchFailuresTotal == nil {
		return
	}
	m.batchFailuresTotal.Add(ctx, 1)
}
