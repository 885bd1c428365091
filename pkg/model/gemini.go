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
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kadirpekel/gnosis/pkg/config"
)

// GeminiProvider implements LLM using the official genai SDK.
type GeminiProvider struct {
	cfg    *config.ModelConfig
	client *genai.Client
}

var _ LLM = (*GeminiProvider)(nil)

// NewGeminiProvider creates a Gemini provider from config.
func NewGeminiProvider(cfg *config.ModelConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for gemini")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{cfg: cfg, client: client}, nil
}

// Model returns the configured model name.
func (p *GeminiProvider) Model() string {
	return p.cfg.Model
}

// Close closes the provider.
func (p *GeminiProvider) Close() error {
	return nil
}

// Chat performs a buffered completion.
func (p *GeminiProvider) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	contents, genCfg := p.buildRequest(messages, opts)

	genResp, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, contents, genCfg)
	if err != nil {
		return nil, mapGeminiError(err)
	}
	if len(genResp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	var text strings.Builder
	candidate := genResp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
		}
	}

	resp := &Response{Content: text.String(), Model: p.cfg.Model}
	if genResp.UsageMetadata != nil {
		resp.Usage = Usage{
			PromptTokens:     int(genResp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(genResp.UsageMetadata.TotalTokenCount),
		}
	}
	return resp, nil
}

// ChatStream performs a streaming completion.
func (p *GeminiProvider) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errCh)

		contents, genCfg := p.buildRequest(messages, opts)
		for genResp, err := range p.client.Models.GenerateContentStream(ctx, p.cfg.Model, contents, genCfg) {
			if err != nil {
				errCh <- mapGeminiError(err)
				return
			}
			if len(genResp.Candidates) == 0 || genResp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range genResp.Candidates[0].Content.Parts {
				if part.Text == "" || part.Thought {
					continue
				}
				select {
				case chunks <- Chunk{Text: part.Text}:
				case <-ctx.Done():
					errCh <- mapTransportError(ctx.Err())
					return
				}
			}
		}
	}()

	return chunks, errCh
}

func (p *GeminiProvider) buildRequest(messages []Message, opts Options) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	genCfg := &genai.GenerateContentConfig{}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			genCfg.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
				Role:  "user",
			}
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
				Role:  "model",
			})
		default:
			contents = append(contents, &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
				Role:  "user",
			})
		}
	}

	genCfg.Temperature = genai.Ptr(float32(p.cfg.Temperature))
	if opts.Temperature != nil {
		genCfg.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	genCfg.MaxOutputTokens = int32(p.cfg.MaxTokens)
	if opts.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(opts.MaxTokens)
	}

	return contents, genCfg
}

func mapGeminiError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		return fmt.Errorf("%w: %s", ErrBackpressure, apiErr.Message)
	}
	return mapTransportError(err)
}
