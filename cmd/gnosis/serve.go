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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirpekel/gnosis/pkg/analyzer"
	"github.com/kadirpekel/gnosis/pkg/auth"
	"github.com/kadirpekel/gnosis/pkg/cache"
	"github.com/kadirpekel/gnosis/pkg/config"
	"github.com/kadirpekel/gnosis/pkg/embedder"
	"github.com/kadirpekel/gnosis/pkg/executor"
	"github.com/kadirpekel/gnosis/pkg/index"
	"github.com/kadirpekel/gnosis/pkg/memory"
	"github.com/kadirpekel/gnosis/pkg/model"
	"github.com/kadirpekel/gnosis/pkg/observability"
	"github.com/kadirpekel/gnosis/pkg/planner"
	"github.com/kadirpekel/gnosis/pkg/quota"
	"github.com/kadirpekel/gnosis/pkg/server"
)

// ServeCmd starts the search service.
type ServeCmd struct {
	Host  string `help:"Listen host override."`
	Port  int    `help:"Listen port override."`
	Watch bool   `help:"Watch the config file for changes." default:"true"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, loader, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	initLogger(&cfg.Logging, cli.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics, err := observability.InitMetrics(cfg.Metrics.Enabled)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	registry, err := model.NewRegistry(cfg.Models)
	if err != nil {
		return fmt.Errorf("failed to build model registry: %w", err)
	}
	defer registry.Close()

	plannerLLM, err := registry.Get(cfg.Pipeline.PlannerModel)
	if err != nil {
		return fmt.Errorf("planner model: %w", err)
	}
	analyzerLLM, err := registry.Get(cfg.Pipeline.AnalyzerModel)
	if err != nil {
		return fmt.Errorf("analyzer model: %w", err)
	}
	introLLM, err := registry.Get(cfg.Pipeline.IntroModel)
	if err != nil {
		return fmt.Errorf("intro model: %w", err)
	}
	if metrics.Enabled() {
		plannerLLM = instrumentLLM(plannerLLM, metrics, "planner")
		analyzerLLM = instrumentLLM(analyzerLLM, metrics, "analyzer")
		introLLM = instrumentLLM(introLLM, metrics, "intro")
	}

	embed, err := embedder.New(&cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	db, err := config.OpenDB(&cfg.Index.SQL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	dialect := cfg.Index.SQL.Dialect

	paragraphs, err := index.NewSQLStore(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to create paragraph store: %w", err)
	}
	vectors, err := index.NewQdrantIndex(&cfg.Index.Qdrant, cfg.Index.Collection)
	if err != nil {
		return fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	provider := index.NewRetriever(paragraphs, vectors, embed, cfg.Index.SemanticRatio)
	defer provider.Close()

	cacheStore, err := cache.NewSQLStore(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to create cache store: %w", err)
	}
	responseCache := cache.New(cacheStore, &cfg.Cache)
	go responseCache.RunSweeper(ctx)

	quotaStore, err := quota.NewSQLStore(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to create quota store: %w", err)
	}
	gate := quota.NewGate(quotaStore, &cfg.Quota)

	var validator *auth.Validator
	if cfg.Auth.Enabled() {
		validator, err = auth.NewValidator(&cfg.Auth)
		if err != nil {
			return fmt.Errorf("failed to create token validator: %w", err)
		}
	}

	memLog, err := memory.NewLog(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to create memory log: %w", err)
	}
	mem, err := memory.New(memLog, embed, &cfg.Memory)
	if err != nil {
		return fmt.Errorf("failed to create memory adapter: %w", err)
	}

	srv, err := server.New(cfg, server.Deps{
		Models:    registry,
		Planner:   planner.New(plannerLLM, &cfg.Planner),
		Executor:  executor.New(provider, &cfg.Executor),
		Analyzer:  analyzer.New(analyzerLLM, introLLM, &cfg.Analyzer),
		Provider:  provider,
		Cache:     responseCache,
		Gate:      gate,
		Validator: validator,
		Memory:    mem,
		Metrics:   metrics,
		Version:   cfg.Version,
		Intro:     introLLM,
	})
	if err != nil {
		return err
	}

	if c.Watch {
		go func() {
			err := loader.Watch(func(updated *config.Config) {
				// Hot-reloadable settings only: the dev cache flag and
				// the log level. Everything else needs a restart.
				cfg.Cache.Disabled = updated.Cache.Disabled
				logLevel.Set(parseLevel(updated.Logging.Level))
				slog.Info("Config reloaded",
					"cache_disabled", updated.Cache.Disabled, "log_level", updated.Logging.Level)
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		cancel()
	}()

	return srv.Start()
}

// instrumentLLM wraps an LLM with latency and token metrics. A missing
// token encoding degrades to length estimates.
func instrumentLLM(llm model.LLM, metrics *observability.PipelineMetrics, stage string) model.LLM {
	counter, err := model.NewTokenCounter(llm.Model())
	if err != nil {
		slog.Warn("Token encoding unavailable, using length estimates",
			"model", llm.Model(), "error", err)
	}
	return model.Instrument(llm, metrics, stage, counter)
}
