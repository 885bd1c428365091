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

// Package model provides a uniform chat interface over LLM providers.
//
// Two entry points: Chat for buffered one-shot calls (planner, analyzer)
// and ChatStream for token streaming (introduction deltas). Provider
// chunk shapes are normalized to plain text deltas.
package model

import (
	"context"
	"errors"
)

// Roles for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Sentinel errors surfaced by providers. Callers branch with errors.Is.
var (
	// ErrTimeout means the per-call deadline expired.
	ErrTimeout = errors.New("llm call timed out")

	// ErrBackpressure means the provider rate-limited the call. One
	// retry with a small backoff is permitted.
	ErrBackpressure = errors.New("llm provider backpressure")
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single chat call. Zero values fall back to the
// provider's configured defaults.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// Usage is provider-reported token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a buffered chat result.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Chunk is one normalized streaming delta.
type Chunk struct {
	Text string
}

// LLM is a chat provider.
type LLM interface {
	// Chat performs a buffered completion. The context deadline is the
	// per-call deadline; expiry maps to ErrTimeout.
	Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)

	// ChatStream performs a streaming completion. The returned channel
	// is closed when the stream ends; a terminal provider error is
	// reported through the second channel (at most one value).
	ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, <-chan error)

	// Model returns the configured model name.
	Model() string

	// Close releases provider resources.
	Close() error
}
