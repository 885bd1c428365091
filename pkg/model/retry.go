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
	"log/slog"
	"time"
)

const retryBackoff = 500 * time.Millisecond

// ChatWithRetry calls Chat and retries exactly once when the provider
// pushes back. Timeouts and other failures are not retried.
func ChatWithRetry(ctx context.Context, llm LLM, messages []Message, opts Options) (*Response, error) {
	resp, err := llm.Chat(ctx, messages, opts)
	if err == nil || !errors.Is(err, ErrBackpressure) {
		return resp, err
	}

	slog.Debug("Model backpressure, retrying once", "model", llm.Model())
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return nil, mapTransportError(ctx.Err())
	}
	return llm.Chat(ctx, messages, opts)
}
