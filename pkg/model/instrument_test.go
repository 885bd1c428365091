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

package model_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/gnosis/pkg/model"
	"github.com/kadirpekel/gnosis/pkg/testutils"
)

type recordedCall struct {
	model, stage       string
	duration           time.Duration
	prompt, completion int
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *fakeRecorder) RecordLLMRequest(ctx context.Context, model, stage string, duration time.Duration, promptTokens, completionTokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{model, stage, duration, promptTokens, completionTokens})
}

func (r *fakeRecorder) snapshot() []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCall(nil), r.calls...)
}

func TestInstrumentRecordsChat(t *testing.T) {
	rec := &fakeRecorder{}
	llm := model.Instrument(testutils.NewMockLLM("a measured answer"), rec, "planner", nil)

	resp, err := llm.Chat(context.Background(), messages("count my tokens"), model.Options{})
	require.NoError(t, err)
	assert.Equal(t, "a measured answer", resp.Content)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "mock-model", calls[0].model)
	assert.Equal(t, "planner", calls[0].stage)
	assert.Positive(t, calls[0].prompt)
	assert.Positive(t, calls[0].completion)
}

func TestInstrumentRecordsChatError(t *testing.T) {
	rec := &fakeRecorder{}
	mock := testutils.NewMockLLM()
	mock.Err = errors.New("provider down")
	llm := model.Instrument(mock, rec, "analyzer", nil)

	_, err := llm.Chat(context.Background(), messages("hello"), model.Options{})
	require.Error(t, err)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "analyzer", calls[0].stage)
	assert.Positive(t, calls[0].prompt)
	assert.Zero(t, calls[0].completion)
}

// usageLLM reports provider token usage on every chat.
type usageLLM struct {
	*testutils.MockLLM
}

func (u *usageLLM) Chat(ctx context.Context, msgs []model.Message, opts model.Options) (*model.Response, error) {
	resp, err := u.MockLLM.Chat(ctx, msgs, opts)
	if err != nil {
		return nil, err
	}
	resp.Usage = model.Usage{PromptTokens: 17, CompletionTokens: 5, TotalTokens: 22}
	return resp, nil
}

func TestInstrumentPrefersProviderUsage(t *testing.T) {
	rec := &fakeRecorder{}
	llm := model.Instrument(&usageLLM{testutils.NewMockLLM("ok")}, rec, "planner", nil)

	_, err := llm.Chat(context.Background(), messages("hello"), model.Options{})
	require.NoError(t, err)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, 17, calls[0].prompt)
	assert.Equal(t, 5, calls[0].completion)
}

func TestInstrumentRecordsStream(t *testing.T) {
	rec := &fakeRecorder{}
	llm := model.Instrument(testutils.NewMockLLM("streamed words arrive here"), rec, "intro", nil)

	chunks, errs := llm.ChatStream(context.Background(), messages("stream it"), model.Options{})
	var got string
	for c := range chunks {
		got += c.Text
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "streamed words arrive here", got)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "intro", calls[0].stage)
	assert.Positive(t, calls[0].prompt)
	assert.Positive(t, calls[0].completion)
}

func TestInstrumentNilRecorderPassesThrough(t *testing.T) {
	mock := testutils.NewMockLLM("ok")
	assert.Equal(t, model.LLM(mock), model.Instrument(mock, nil, "planner", nil))
}

func TestTokenCounterEstimatesWithoutEncoding(t *testing.T) {
	var tc *model.TokenCounter
	assert.Equal(t, 2, tc.Count("12345678"))
	assert.Positive(t, tc.CountMessages(messages("estimate me please, four words at least")))
}
