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
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/gnosis/internal/httpclient"
	"github.com/kadirpekel/gnosis/pkg/config"
)

// OpenAIProvider implements LLM against the OpenAI chat completions API.
type OpenAIProvider struct {
	cfg    *config.ModelConfig
	client *http.Client
}

var _ LLM = (*OpenAIProvider)(nil)

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage        `json:"usage"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIProvider creates an OpenAI provider from config.
func NewOpenAIProvider(cfg *config.ModelConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for openai")
	}
	if cfg.Host == "" {
		cfg.Host = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}, nil
}

// Model returns the configured model name.
func (p *OpenAIProvider) Model() string {
	return p.cfg.Model
}

// Close closes the provider.
func (p *OpenAIProvider) Close() error {
	return nil
}

// Chat performs a buffered completion.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	resp, err := p.do(ctx, p.buildRequest(messages, opts, false))
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	var response openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("OpenAI API error: %s", response.Error.Message)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	return &Response{
		Content: response.Choices[0].Message.Content,
		Model:   response.Model,
		Usage:   response.Usage,
	}, nil
}

// ChatStream performs a streaming completion over SSE.
func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, <-chan error) {
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
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}

			var streamResp openAIStreamResponse
			if err := json.Unmarshal([]byte(payload), &streamResp); err != nil {
				errCh <- fmt.Errorf("failed to decode streaming response: %w", err)
				return
			}
			if streamResp.Error != nil {
				errCh <- fmt.Errorf("OpenAI API error: %s", streamResp.Error.Message)
				return
			}
			if len(streamResp.Choices) > 0 {
				choice := streamResp.Choices[0]
				if choice.Delta.Content != "" {
					select {
					case chunks <- Chunk{Text: choice.Delta.Content}:
					case <-ctx.Done():
						errCh <- mapTransportError(ctx.Err())
						return
					}
				}
				if choice.FinishReason != "" {
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

func (p *OpenAIProvider) buildRequest(messages []Message, opts Options, stream bool) openAIRequest {
	request := openAIRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
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
	return request
}

func (p *OpenAIProvider) do(ctx context.Context, request openAIRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

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

// mapTransportError folds transport failures into the package sentinels
// so callers can branch without knowing the provider.
func mapTransportError(err error) error {
	if err == nil {
		return nil
	}
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.RateLimited() {
		return fmt.Errorf("%w: %s", ErrBackpressure, statusErr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
