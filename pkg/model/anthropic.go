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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/gnosis/internal/httpclient"
	"github.com/kadirpekel/gnosis/pkg/config"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider implements LLM against the Anthropic messages API.
type AnthropicProvider struct {
	cfg    *config.ModelConfig
	client *http.Client
}

var _ LLM = (*AnthropicProvider)(nil)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage anthropicUsage  `json:"usage"`
	Error *anthropicError `json:"error,omitempty"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthropicError `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAnthropicProvider creates an Anthropic provider from config.
func NewAnthropicProvider(cfg *config.ModelConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for anthropic")
	}
	if cfg.Host == "" {
		cfg.Host = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}, nil
}

// Model returns the configured model name.
func (p *AnthropicProvider) Model() string {
	return p.cfg.Model
}

// Close closes the provider.
func (p *AnthropicProvider) Close() error {
	return nil
}

// Chat performs a buffered completion.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	resp, err := p.do(ctx, p.buildRequest(messages, opts, false))
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	var response anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("Anthropic API error: %s", response.Error.Message)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Content: text.String(),
		Model:   response.Model,
		Usage: Usage{
			PromptTokens:     response.Usage.InputTokens,
			CompletionTokens: response.Usage.OutputTokens,
			TotalTokens:      response.Usage.InputTokens + response.Usage.OutputTokens,
		},
	}, nil
}

// ChatStream performs a streaming completion over SSE.
func (p *AnthropicProvider) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errCh)

		resp, err := p.do(ctx, p.buildRequest(messages, opts, true))
		if err != nil {
			errCh <- mapTransportError(err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				errCh <- fmt.Errorf("failed to decode stream event: %w", err)
				return
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					select {
					case chunks <- Chunk{Text: event.Delta.Text}:
					case <-ctx.Done():
						errCh <- mapTransportError(ctx.Err())
						return
					}
				}
			case "message_stop":
				return
			case "error":
				if event.Error != nil {
					errCh <- fmt.Errorf("Anthropic API error: %s", event.Error.Message)
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- mapTransportError(err)
		}
	}()

	return chunks, errCh
}

func (p *AnthropicProvider) buildRequest(messages []Message, opts Options, stream bool) anthropicRequest {
	request := anthropicRequest{
		Model:       p.cfg.Model,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		Stream:      stream,
	}
	if opts.MaxTokens > 0 {
		request.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		request.Temperature = *opts.Temperature
	}

	// The messages API takes the system prompt as a top-level field.
	for _, m := range messages {
		if m.Role == RoleSystem {
			request.System += m.Content
			continue
		}
		request.Messages = append(request.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return request
}

func (p *AnthropicProvider) do(ctx context.Context, request anthropicRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &httpclient.StatusError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			RetryAfter: httpclient.ParseRetryAfter(resp.Header),
		}
	}
	return resp, nil
}
