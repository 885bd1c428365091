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

// Package testutils provides shared fakes for the pipeline tests: a
// scripted LLM, a canned retrieval provider, and config builders.
package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kadirpekel/gnosis/pkg/config"
	"github.com/kadirpekel/gnosis/pkg/index"
	"github.com/kadirpekel/gnosis/pkg/model"
)

// TestConfig returns a minimal valid configuration with defaults
// applied.
func TestConfig() *config.Config {
	cfg := &config.Config{
		Models: map[string]config.ModelConfig{
			"test-model": {Type: "openai", Model: "gpt-4o-mini", APIKey: "test-key"},
		},
	}
	cfg.SetDefaults()
	return cfg
}

// MockLLM is a scripted model.LLM. Responses are consumed in order;
// when the queue is empty the last response repeats. Err, when set,
// fails every call.
type MockLLM struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Calls     []string

	// RespondFunc, when set, overrides the response queue.
	RespondFunc func(messages []model.Message) (string, error)
}

var _ model.LLM = (*MockLLM)(nil)

// NewMockLLM scripts a sequence of responses.
func NewMockLLM(responses ...string) *MockLLM {
	return &MockLLM{Responses: responses}
}

func (m *MockLLM) next(messages []model.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prompt string
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}
	m.Calls = append(m.Calls, prompt)

	if m.RespondFunc != nil {
		return m.RespondFunc(messages)
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", fmt.Errorf("mock llm has no scripted response")
	}
	resp := m.Responses[0]
	if len(m.Responses) > 1 {
		m.Responses = m.Responses[1:]
	}
	return resp, nil
}

func (m *MockLLM) Chat(ctx context.Context, messages []model.Message, opts model.Options) (*model.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := m.next(messages)
	if err != nil {
		return nil, err
	}
	return &model.Response{Content: content, Model: m.Model()}, nil
}

func (m *MockLLM) ChatStream(ctx context.Context, messages []model.Message, opts model.Options) (<-chan model.Chunk, <-chan error) {
	chunks := make(chan model.Chunk, 8)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		content, err := m.next(messages)
		if err != nil {
			errs <- err
			return
		}
		// Word-level deltas exercise multi-chunk consumers.
		for _, word := range strings.SplitAfter(content, " ") {
			select {
			case chunks <- model.Chunk{Text: word}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return chunks, errs
}

func (m *MockLLM) Model() string { return "mock-model" }
func (m *MockLLM) Close() error  { return nil }

// CallCount reports how many calls the mock served.
func (m *MockLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// FakeProvider is a canned index.Provider. HitsFor maps subquery text
// to passages; Hits serves everything else. FailQueries injects
// ErrUnavailable per query text, decremented per failure, so retry
// behavior is testable.
type FakeProvider struct {
	mu          sync.Mutex
	Hits        []index.Passage
	HitsFor     map[string][]index.Passage
	FailQueries map[string]int
	Err         error
	Requests    []index.Request
}

var _ index.Provider = (*FakeProvider)(nil)

func (f *FakeProvider) Retrieve(ctx context.Context, req index.Request) (*index.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Requests = append(f.Requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if remaining, ok := f.FailQueries[req.Query]; ok && remaining > 0 {
		f.FailQueries[req.Query] = remaining - 1
		return nil, fmt.Errorf("backend down: %w", index.ErrUnavailable)
	}

	hits := f.Hits
	if scripted, ok := f.HitsFor[req.Query]; ok {
		hits = scripted
	}
	if req.Limit > 0 && len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	out := make([]index.Passage, len(hits))
	copy(out, hits)
	for i := range out {
		out[i].ProvenanceQuery = req.Query
	}
	return &index.Result{Hits: out, TotalEstimated: len(out)}, nil
}

func (f *FakeProvider) Stats(ctx context.Context) (*index.Stats, error) {
	return &index.Stats{Documents: 1, Passages: len(f.Hits)}, nil
}

func (f *FakeProvider) Healthy(ctx context.Context) error { return f.Err }
func (f *FakeProvider) Close() error                      { return nil }

// RequestCount reports retrievals served so far.
func (f *FakeProvider) RequestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}

// Passages builds n distinct passages for one document.
func Passages(docID string, n int) []index.Passage {
	out := make([]index.Passage, n)
	for i := range out {
		out[i] = index.Passage{
			ID:             fmt.Sprintf("%s-p%d", docID, i),
			DocumentID:     docID,
			ParagraphIndex: i,
			Text:           fmt.Sprintf("Passage %d of %s on justice and mercy.", i, docID),
			Title:          "On Justice",
			Author:         "Test Author",
			Tradition:      "test",
			Collection:     "test-collection",
			Language:       "en",
			Year:           1900 + i,
		}
	}
	return out
}
