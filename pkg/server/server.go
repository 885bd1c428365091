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

// Package server is the HTTP surface: chi routing, identity
// resolution, the buffered search endpoints, and the SSE assembler.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/gnosis/pkg/analyzer"
	"github.com/kadirpekel/gnosis/pkg/auth"
	"github.com/kadirpekel/gnosis/pkg/cache"
	"github.com/kadirpekel/gnosis/pkg/config"
	"github.com/kadirpekel/gnosis/pkg/executor"
	"github.com/kadirpekel/gnosis/pkg/index"
	"github.com/kadirpekel/gnosis/pkg/memory"
	"github.com/kadirpekel/gnosis/pkg/model"
	"github.com/kadirpekel/gnosis/pkg/observability"
	"github.com/kadirpekel/gnosis/pkg/planner"
	"github.com/kadirpekel/gnosis/pkg/quota"
)

// Deps bundles the wired pipeline components.
type Deps struct {
	Models    *model.Registry
	Planner   *planner.Planner
	Executor  *executor.Executor
	Analyzer  *analyzer.Analyzer
	Provider  index.Provider
	Cache     *cache.Cache
	Gate      *quota.Gate
	Validator *auth.Validator // nil disables bearer auth
	Memory    *memory.Memory  // nil disables memory
	Metrics   *observability.PipelineMetrics
	Version   string

	// Intro overrides the registry lookup for the intro model, letting
	// the caller hand in an instrumented instance.
	Intro model.LLM
}

// Server is the HTTP service.
type Server struct {
	cfg        *config.Config
	models     *model.Registry
	introModel model.LLM
	planner    *planner.Planner
	executor   *executor.Executor
	analyzer   *analyzer.Analyzer
	provider   index.Provider
	cache      *cache.Cache
	gate       *quota.Gate
	validator  *auth.Validator
	memory     *memory.Memory
	metrics    *observability.PipelineMetrics
	version    string

	httpServer *http.Server
}

// New wires the server. The intro model must resolve in the registry
// unless Deps.Intro supplies one.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	introModel := deps.Intro
	if introModel == nil {
		var err error
		introModel, err = deps.Models.Get(cfg.Pipeline.IntroModel)
		if err != nil {
			return nil, fmt.Errorf("intro model not registered: %w", err)
		}
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = &observability.PipelineMetrics{}
	}

	s := &Server{
		cfg:        cfg,
		models:     deps.Models,
		introModel: introModel,
		planner:    deps.Planner,
		executor:   deps.Executor,
		analyzer:   deps.Analyzer,
		provider:   deps.Provider,
		cache:      deps.Cache,
		gate:       deps.Gate,
		validator:  deps.Validator,
		memory:     deps.Memory,
		metrics:    metrics,
		version:    deps.Version,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)
	r.Use(s.metrics.Middleware)

	r.Post("/search", s.handleSearch)
	r.Post("/search/analyze", s.handleAnalyze)
	r.Post("/search/analyze/stream", s.handleAnalyzeStream)
	r.Get("/search/stats", s.handleStats)
	r.Get("/search/health", s.handleHealth)
	r.Post("/memory/unify", s.handleMemoryUnify)

	if s.cfg.Metrics.Enabled {
		r.Get(s.cfg.Metrics.Endpoint, observability.Handler().ServeHTTP)
	}
	return r
}

// Start blocks serving HTTP until the listener closes.
func (s *Server) Start() error {
	slog.Info("Search service listening",
		"address", s.cfg.Server.Address(), "version", s.version)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests within the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Shutting down search service")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
