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

// Package observability wires pipeline metrics through OpenTelemetry
// with a Prometheus exporter.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics builds the meter provider and instruments. Returns a
// no-op recorder when disabled.
func InitMetrics(enabled bool) (*PipelineMetrics, error) {
	if !enabled {
		return &PipelineMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("gnosis")

	m := &PipelineMetrics{}

	m.searchDuration, err = meter.Float64Histogram(
		"gnosis_search_duration_seconds",
		metric.WithDescription("End-to-end search duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search duration histogram: %w", err)
	}

	m.searchesTotal, err = meter.Int64Counter(
		"gnosis_searches_total",
		metric.WithDescription("Total search requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create searches counter: %w", err)
	}

	m.cacheHitsTotal, err = meter.Int64Counter(
		"gnosis_cache_hits_total",
		metric.WithDescription("Total cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.quotaDenialsTotal, err = meter.Int64Counter(
		"gnosis_quota_denials_total",
		metric.WithDescription("Total requests denied by the quota gate"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota denials counter: %w", err)
	}

	m.retrievalDuration, err = meter.Float64Histogram(
		"gnosis_retrieval_duration_seconds",
		metric.WithDescription("Fan-out retrieval duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieval duration histogram: %w", err)
	}

	m.llmDuration, err = meter.Float64Histogram(
		"gnosis_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	m.llmTokensTotal, err = meter.Int64Counter(
		"gnosis_llm_tokens_total",
		metric.WithDescription("Total tokens exchanged with LLM providers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm tokens counter: %w", err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		"gnosis_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.batchFailuresTotal, err = meter.Int64Counter(
		"gnosis_analyzer_batch_failures_total",
		metric.WithDescription("Total analyzer batches that fell back to neutral scoring"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch failures counter: %w", err)
	}

	return m, nil
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
