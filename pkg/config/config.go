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

// Package config defines the Gnosis configuration tree.
//
// Every section follows the same contract: yaml tags for decoding,
// SetDefaults to fill zero values, and Validate to reject impossible
// combinations before anything is wired.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Gnosis service.
type Config struct {
	Server   ServerConfig           `yaml:"server"`
	Logging  LoggingConfig          `yaml:"logging"`
	Models   map[string]ModelConfig `yaml:"models"`
	Pipeline PipelineConfig         `yaml:"pipeline"`
	Embedder EmbedderConfig         `yaml:"embedder"`
	Index    IndexConfig            `yaml:"index"`
	Planner  PlannerConfig          `yaml:"planner"`
	Executor ExecutorConfig         `yaml:"executor"`
	Analyzer AnalyzerConfig         `yaml:"analyzer"`
	Cache    CacheConfig            `yaml:"cache"`
	Quota    QuotaConfig            `yaml:"quota"`
	Memory   MemoryConfig           `yaml:"memory"`
	Auth     AuthConfig             `yaml:"auth"`
	Metrics  MetricsConfig          `yaml:"metrics"`

	// Version is stamped by the build, not the config file.
	Version string `yaml:"-"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// WriteTimeout must exceed the per-request pipeline deadline or
	// streams are cut short.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Address returns the host:port listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SetDefaults fills zero values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 120 * time.Second
	}
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SetDefaults fills zero values.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// Validate rejects unknown levels and formats.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Format)
	}
	return nil
}

// ModelConfig configures a single chat LLM provider.
type ModelConfig struct {
	// Type selects the provider implementation: openai, anthropic, gemini.
	Type string `yaml:"type"`

	// Model is the provider model name.
	Model string `yaml:"model"`

	// APIKey for the provider. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key"`

	// Host overrides the provider base URL (proxies, local servers).
	Host string `yaml:"host,omitempty"`

	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SetDefaults fills zero values.
func (c *ModelConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate rejects unknown provider types.
func (c *ModelConfig) Validate() error {
	switch c.Type {
	case "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("unsupported model type: %s", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("model name is required")
	}
	return nil
}

// PipelineConfig binds pipeline roles to named models and bounds the
// whole request.
type PipelineConfig struct {
	// PlannerModel, AnalyzerModel and IntroModel are keys into Models.
	// They may all name the same entry.
	PlannerModel  string `yaml:"planner_model"`
	AnalyzerModel string `yaml:"analyzer_model"`
	IntroModel    string `yaml:"intro_model"`

	// RequestTimeout bounds a single search request end to end.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SetDefaults fills zero values.
func (c *PipelineConfig) SetDefaults() {
	if c.PlannerModel == "" {
		c.PlannerModel = "default"
	}
	if c.AnalyzerModel == "" {
		c.AnalyzerModel = c.PlannerModel
	}
	if c.IntroModel == "" {
		c.IntroModel = c.AnalyzerModel
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	// Type selects the implementation: openai, hash.
	Type      string        `yaml:"type"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	Host      string        `yaml:"host,omitempty"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SetDefaults fills zero values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// IndexConfig configures the retrieval index: qdrant for dense vectors,
// a SQL paragraph store for keyword search and provenance metadata.
type IndexConfig struct {
	Qdrant QdrantConfig `yaml:"qdrant"`
	SQL    SQLConfig    `yaml:"sql"`

	// Collection is the qdrant collection holding paragraph vectors.
	Collection string `yaml:"collection"`

	// SemanticRatio is the default hybrid blend (0 = keyword only,
	// 1 = semantic only).
	SemanticRatio float64 `yaml:"semantic_ratio"`
}

// SetDefaults fills zero values.
func (c *IndexConfig) SetDefaults() {
	c.Qdrant.SetDefaults()
	c.SQL.SetDefaults()
	if c.Collection == "" {
		c.Collection = "passages"
	}
	if c.SemanticRatio == 0 {
		c.SemanticRatio = 0.5
	}
}

// Validate checks the blend ratio and the SQL section.
func (c *IndexConfig) Validate() error {
	if c.SemanticRatio < 0 || c.SemanticRatio > 1 {
		return fmt.Errorf("semantic_ratio must be in [0,1], got %v", c.SemanticRatio)
	}
	return c.SQL.Validate()
}

// QdrantConfig configures the qdrant gRPC client.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty"`
}

// SetDefaults fills zero values.
func (c *QdrantConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
}

// SQLConfig configures a SQL database connection.
// Supported dialects: postgres, mysql, sqlite.
type SQLConfig struct {
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
}

// SetDefaults fills zero values.
func (c *SQLConfig) SetDefaults() {
	if c.Dialect == "" {
		c.Dialect = "sqlite"
	}
	if c.DSN == "" && c.Dialect == "sqlite" {
		c.DSN = "gnosis.db"
	}
}

// Validate rejects unsupported dialects.
func (c *SQLConfig) Validate() error {
	switch c.Dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported SQL dialect: %s", c.Dialect)
	}
	if c.DSN == "" {
		return fmt.Errorf("sql dsn is required")
	}
	return nil
}

// PlannerConfig tunes the exhaustive-query classifier and pass sizes.
type PlannerConfig struct {
	// ExhaustiveKeywords trigger the exhaustive strategy when present.
	ExhaustiveKeywords []string `yaml:"exhaustive_keywords"`

	// ExhaustiveMinWords triggers exhaustive when the query is at least
	// this many words long.
	ExhaustiveMinWords int `yaml:"exhaustive_min_words"`

	// MaxSubQueries caps a single plan pass.
	MaxSubQueries int `yaml:"max_sub_queries"`
}

// SetDefaults fills zero values.
func (c *PlannerConfig) SetDefaults() {
	if len(c.ExhaustiveKeywords) == 0 {
		c.ExhaustiveKeywords = []string{
			"all", "every", "comprehensive", "compare across",
			"exhaustive", "complete survey",
		}
	}
	if c.ExhaustiveMinWords == 0 {
		c.ExhaustiveMinWords = 14
	}
	if c.MaxSubQueries == 0 {
		c.MaxSubQueries = 5
	}
}

// ExecutorConfig tunes the retrieval fan-out.
type ExecutorConfig struct {
	// Concurrency caps simultaneous subquery retrievals.
	Concurrency int `yaml:"concurrency"`

	// HardCap bounds the merged candidate set regardless of plan.
	HardCap int `yaml:"hard_cap"`

	// PerQueryLimit is passed to each retrieval call.
	PerQueryLimit int `yaml:"per_query_limit"`
}

// SetDefaults fills zero values.
func (c *ExecutorConfig) SetDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 5
	}
	if c.HardCap == 0 {
		c.HardCap = 60
	}
	if c.PerQueryLimit == 0 {
		c.PerQueryLimit = 20
	}
}

// AnalyzerConfig tunes the second AI pass.
type AnalyzerConfig struct {
	BatchSize     int `yaml:"batch_size"`
	MaxConcurrent int `yaml:"max_concurrent"`

	// SimpleReturn and ExhaustiveReturn cap the final source list per
	// plan strategy.
	SimpleReturn     int `yaml:"simple_return"`
	ExhaustiveReturn int `yaml:"exhaustive_return"`
}

// SetDefaults fills zero values.
func (c *AnalyzerConfig) SetDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 2
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 10
	}
	if c.SimpleReturn == 0 {
		c.SimpleReturn = 10
	}
	if c.ExhaustiveReturn == 0 {
		c.ExhaustiveReturn = 25
	}
}

// CacheConfig configures the query response cache.
type CacheConfig struct {
	// TTL for cached responses.
	TTL time.Duration `yaml:"ttl"`

	// SweepInterval between expired-entry sweeps. Zero disables the loop.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Disabled turns off cache lookups globally (dev mode). Stores still
	// happen so flipping the flag back restores warm entries.
	Disabled bool `yaml:"disabled"`
}

// SetDefaults fills zero values.
func (c *CacheConfig) SetDefaults() {
	if c.TTL == 0 {
		c.TTL = 6 * time.Hour
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Hour
	}
}

// QuotaConfig sets per-tier search budgets.
type QuotaConfig struct {
	// AuthenticatedLimit is the lifetime budget for verified users.
	AuthenticatedLimit int `yaml:"authenticated_limit"`

	// AnonymousLimit is the budget for anonymous callers that present
	// an id header.
	AnonymousLimit int `yaml:"anonymous_limit"`
}

// SetDefaults fills zero values.
func (c *QuotaConfig) SetDefaults() {
	if c.AuthenticatedLimit == 0 {
		c.AuthenticatedLimit = 20
	}
	if c.AnonymousLimit == 0 {
		c.AnonymousLimit = 10
	}
}

// MemoryConfig configures conversational memory.
type MemoryConfig struct {
	// TopK prior turns fetched during planning.
	TopK int `yaml:"top_k"`

	// Collection is the chromem collection for semantic recall.
	Collection string `yaml:"collection"`

	// PersistPath stores the chromem collection on disk. Empty keeps it
	// in memory only.
	PersistPath string `yaml:"persist_path,omitempty"`
}

// SetDefaults fills zero values.
func (c *MemoryConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.Collection == "" {
		c.Collection = "memory"
	}
}

// AuthConfig configures optional bearer-token validation.
type AuthConfig struct {
	// JWKSURL enables JWT validation when set.
	JWKSURL  string `yaml:"jwks_url,omitempty"`
	Issuer   string `yaml:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty"`
}

// Enabled reports whether bearer tokens should be validated.
func (c *AuthConfig) Enabled() bool {
	return c.JWKSURL != ""
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// SetDefaults fills zero values.
func (c *MetricsConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "/metrics"
	}
}

// SetDefaults walks the tree.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Logging.SetDefaults()
	if c.Models == nil {
		c.Models = map[string]ModelConfig{}
	}
	for name, m := range c.Models {
		m.SetDefaults()
		c.Models[name] = m
	}
	c.Pipeline.SetDefaults()
	c.Embedder.SetDefaults()
	c.Index.SetDefaults()
	c.Planner.SetDefaults()
	c.Executor.SetDefaults()
	c.Analyzer.SetDefaults()
	c.Cache.SetDefaults()
	c.Quota.SetDefaults()
	c.Memory.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate walks the tree.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	for name, m := range c.Models {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("model %q: %w", name, err)
		}
	}
	for role, key := range map[string]string{
		"planner_model":  c.Pipeline.PlannerModel,
		"analyzer_model": c.Pipeline.AnalyzerModel,
		"intro_model":    c.Pipeline.IntroModel,
	} {
		if _, ok := c.Models[key]; !ok {
			return fmt.Errorf("pipeline %s references unknown model %q", role, key)
		}
	}
	return c.Index.Validate()
}
