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

package model

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kadirpekel/gnosis/pkg/config"
)

// Registry holds named LLM instances built from the models section of
// the config. Pipeline stages look up their model by key.
type Registry struct {
	mu     sync.RWMutex
	models map[string]LLM
}

// NewRegistry builds providers for every configured model.
func NewRegistry(configs map[string]config.ModelConfig) (*Registry, error) {
	r := &Registry{models: make(map[string]LLM)}
	for name, cfg := range configs {
		cfg := cfg
		llm, err := NewProvider(&cfg)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to create model %q: %w", name, err)
		}
		r.models[name] = llm
	}
	return r, nil
}

// NewProvider creates a single provider from config.
func NewProvider(cfg *config.ModelConfig) (LLM, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "gemini":
		return NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown model type: %s", cfg.Type)
	}
}

// Register adds or replaces a named model. Used by tests to install mocks.
func (r *Registry) Register(name string, llm LLM) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = llm
}

// Get returns the model registered under name.
func (r *Registry) Get(name string) (LLM, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	llm, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("model not found: %s", name)
	}
	return llm, nil
}

// Names returns the registered model names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, llm := range r.models {
		if err := llm.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close model %q: %w", name, err)
		}
	}
	r.models = make(map[string]LLM)
	return firstErr
}
