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
	"strings"
	"time"
)

// MetricsRecorder receives per-call measurements from instrumented
// models.
type MetricsRecorder interface {
	RecordLLMRequest(ctx context.Context, model, stage string, duration time.Duration, promptTokens, completionTokens int)
}

// instrumented decorates an LLM with latency and token accounting.
type instrumented struct {
	LLM
	rec     MetricsRecorder
	stage   string
	counter *TokenCounter
}

// Instrument wraps llm so every call reports its duration and token
// counts to rec under the given stage label. Provider-reported usage
// wins; the counter fills in when the provider omits it. A nil counter
// degrades to length-based estimates, a nil recorder returns llm
// unwrapped.
func Instrument(llm LLM, rec MetricsRecorder, stage string, counter *TokenCounter) LLM {
	if rec == nil {
		return llm
	}
	return &instrumented{LLM: llm, rec: rec, stage: stage, counter: counter}
}

func (in *instrumented) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	start := time.Now()
	resp, err := in.LLM.Chat(ctx, messages, opts)
	if err != nil {
		in.rec.RecordLLMRequest(ctx, in.LLM.Model(), in.stage, time.Since(start),
			in.counter.CountMessages(messages), 0)
		return nil, err
	}

	prompt, completion := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	if resp.Usage.TotalTokens == 0 {
		prompt = in.counter.CountMessages(messages)
		completion = in.counter.Count(resp.Content)
	}
	in.rec.RecordLLMRequest(ctx, in.LLM.Model(), in.stage, time.Since(start), prompt, completion)
	return resp, nil
}

func (in *instrumented) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, <-chan error) {
	start := time.Now()
	chunks, errs := in.LLM.ChatStream(ctx, messages, opts)

	out := make(chan Chunk)
	go func() {
		defer close(out)
		var assembled strings.Builder
		record := func() {
			in.rec.RecordLLMRequest(ctx, in.LLM.Model(), in.stage, time.Since(start),
				in.counter.CountMessages(messages), in.counter.Count(assembled.String()))
		}
		for c := range chunks {
			assembled.WriteString(c.Text)
			select {
			case out <- c:
			case <-ctx.Done():
				record()
				return
			}
		}
		record()
	}()
	return out, errs
}
