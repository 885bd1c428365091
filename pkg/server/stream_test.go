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

package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/gnosis/pkg/analyzer"
	"github.com/kadirpekel/gnosis/pkg/cache"
	"github.com/kadirpekel/gnosis/pkg/config"
	"github.com/kadirpekel/gnosis/pkg/executor"
	"github.com/kadirpekel/gnosis/pkg/model"
	"github.com/kadirpekel/gnosis/pkg/planner"
	"github.com/kadirpekel/gnosis/pkg/quota"
	"github.com/kadirpekel/gnosis/pkg/testutils"
)

// harness wires a full server over fakes: scripted LLMs, a canned
// provider, an in-memory quota store and a sqlite cache.
type harness struct {
	srv      *Server
	ts       *httptest.Server
	planLLM  *testutils.MockLLM
	introLLM *testutils.MockLLM
	provider *testutils.FakeProvider
	quota    *quota.MemoryStore
	cache    *cache.Cache
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := &config.Config{
		Models: map[string]config.ModelConfig{"default": {Model: "gpt-4o-mini"}},
	}
	cfg.SetDefaults()

	planLLM := testutils.NewMockLLM()
	introLLM := testutils.NewMockLLM()
	batchLLM := testutils.NewMockLLM()
	batchLLM.RespondFunc = scoreEveryPassage

	provider := &testutils.FakeProvider{Hits: testutils.Passages("doc", 4)}

	reg, err := model.NewRegistry(nil)
	require.NoError(t, err)
	reg.Register("default", introLLM)
	t.Cleanup(func() { reg.Close() })

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	cacheStore, err := cache.NewSQLStore(db, "sqlite")
	require.NoError(t, err)
	responseCache := cache.New(cacheStore, &cfg.Cache)

	quotaStore := quota.NewMemoryStore()

	srv, err := New(cfg, Deps{
		Models:   reg,
		Planner:  planner.New(planLLM, &cfg.Planner),
		Executor: executor.New(provider, &cfg.Executor),
		Analyzer: analyzer.New(batchLLM, introLLM, &cfg.Analyzer),
		Provider: provider,
		Cache:    responseCache,
		Gate:     quota.NewGate(quotaStore, &cfg.Quota),
		Version:  "test",
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	return &harness{
		srv:      srv,
		ts:       ts,
		planLLM:  planLLM,
		introLLM: introLLM,
		provider: provider,
		quota:    quotaStore,
		cache:    responseCache,
	}
}

// scoreEveryPassage answers a batch prompt with a flat 0.8 for every
// listed passage.
func scoreEveryPassage(messages []model.Message) (string, error) {
	prompt := messages[len(messages)-1].Content
	var entries []string
	for i := 0; ; i++ {
		if !strings.Contains(prompt, fmt.Sprintf("\n[%d] (", i)) {
			break
		}
		entries = append(entries, fmt.Sprintf(
			`{"batch_index": %d, "key_phrase": "", "summary": "relevant", "score": 0.8}`, i))
	}
	return fmt.Sprintf(`{"results": [%s], "irrelevant": []}`, strings.Join(entries, ",")), nil
}

const simplePlanJSON = `{"reasoning": "two angles", "sub_queries": [
  {"text": "justice divine law", "mode": "hybrid", "rationale": "core"},
  {"text": "justice rulers", "mode": "keyword", "rationale": "civic"}
]}`

func (h *harness) post(t *testing.T, path, body, userID string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func parseEvents(t *testing.T, raw []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(string(raw), "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &ev), line)
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []map[string]any) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i], _ = ev["type"].(string)
	}
	return out
}

func chunkText(events []map[string]any) string {
	var b strings.Builder
	for _, ev := range events {
		if ev["type"] == "chunk" {
			b.WriteString(ev["text"].(string))
		}
	}
	return b.String()
}

func TestStreamSimpleMiss(t *testing.T) {
	h := newHarness(t)
	h.planLLM.Responses = []string{simplePlanJSON}
	h.introLLM.Responses = []string{"Justice is central to every tradition here."}

	resp, raw := h.post(t, "/search/analyze/stream",
		`{"query": "what is justice"}`, "user_abc-123")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := parseEvents(t, raw)
	types := eventTypes(events)
	require.GreaterOrEqual(t, len(types), 4)
	assert.Equal(t, "plan", types[0])
	assert.Equal(t, "sources", types[1])
	assert.Equal(t, "chunk", types[2])
	assert.Equal(t, "complete", types[len(types)-1])
	assert.NotContains(t, types, "thinking")
	assert.NotContains(t, types, "progress")
	assert.NotContains(t, types, "error")

	plan := events[0]["plan"].(map[string]any)
	assert.Equal(t, "simple", plan["strategy"])
	assert.Nil(t, plan["cached"])

	assert.Equal(t, "Justice is central to every tradition here.", chunkText(events))

	var sources []analyzer.Annotated
	sourcesJSON, err := json.Marshal(events[1]["sources"])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(sourcesJSON, &sources))
	assert.Len(t, sources, 4)

	limit := events[len(events)-1]["queryLimit"].(map[string]any)
	assert.Equal(t, float64(9), limit["remaining"])
	assert.Equal(t, float64(10), limit["limit"])
	assert.Equal(t, false, limit["isAuthenticated"])

	count, err := h.quota.GetCount(context.Background(), "user_abc-123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStreamCacheHitReplays(t *testing.T) {
	h := newHarness(t)
	h.planLLM.Responses = []string{simplePlanJSON}
	h.introLLM.Responses = []string{"Justice is central to every tradition here."}

	_, raw := h.post(t, "/search/analyze/stream",
		`{"query": "What Is  Justice"}`, "user_abc-123")
	missEvents := parseEvents(t, raw)

	// Same query up to normalization; no LLM should be needed now.
	h.planLLM.Err = errors.New("planner must not run on a cache hit")
	resp, raw := h.post(t, "/search/analyze/stream",
		`{"query": "what is justice"}`, "user_abc-123")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	events := parseEvents(t, raw)
	require.Equal(t, []string{"plan", "sources", "chunk", "complete"}, eventTypes(events))

	plan := events[0]["plan"].(map[string]any)
	assert.Equal(t, true, plan["cached"])
	assert.Equal(t, events[1]["sources"], missEvents[1]["sources"])
	assert.Equal(t, chunkText(missEvents), chunkText(events))

	complete := events[3]
	assert.Equal(t, true, complete["cached"])

	// Cache hits still count against the budget.
	count, err := h.quota.GetCount(context.Background(), "user_abc-123")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

const pass1PlanJSON = `{"reasoning": "broad sweep", "sub_queries": [
  {"text": "justice in scripture", "mode": "hybrid", "angle": "scripture"},
  {"text": "justice in law codes", "mode": "keyword", "angle": "law"}
]}`

const pass2PlanJSON = `{"gaps": ["mystical sources"], "sub_queries": [
  {"text": "justice mystical treatises", "mode": "semantic"}
]}`

func TestStreamExhaustiveTwoPass(t *testing.T) {
	h := newHarness(t)
	h.planLLM.Responses = []string{pass1PlanJSON, pass2PlanJSON}
	h.introLLM.Responses = []string{
		"A broad question; starting a thorough search.",
		"Across the traditions justice appears as law and as virtue.",
	}

	resp, raw := h.post(t, "/search/analyze/stream",
		`{"query": "what is justice", "useResearcher": true}`, "user_abc-123")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	events := parseEvents(t, raw)
	types := eventTypes(events)
	require.GreaterOrEqual(t, len(types), 6)
	assert.Equal(t, []string{"thinking", "plan", "progress", "progress", "sources"}, types[:5])
	assert.Equal(t, "complete", types[len(types)-1])

	assert.Equal(t, true, events[0]["isExhaustive"])
	assert.Equal(t, "A broad question; starting a thorough search.", events[0]["message"])

	plan := events[1]["plan"].(map[string]any)
	assert.Equal(t, "exhaustive", plan["strategy"])
	assert.Equal(t, true, plan["twoPass"])

	assert.Equal(t, "pass1", events[2]["phase"])
	assert.Equal(t, "pass2", events[3]["phase"])
}

func TestStreamFilterTermsBypassCache(t *testing.T) {
	h := newHarness(t)
	h.planLLM.Responses = []string{simplePlanJSON}
	h.introLLM.Responses = []string{"Narrowed to the requested sources."}

	resp, raw := h.post(t, "/search/analyze/stream",
		`{"query": "what is justice (gleanings)"}`, "user_abc-123")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	events := parseEvents(t, raw)
	types := eventTypes(events)
	assert.Equal(t, "plan", types[0])
	assert.Equal(t, "complete", types[len(types)-1])
	assert.NotContains(t, types, "error")

	// The extracted term rides every retrieval as a text filter.
	require.NotEmpty(t, h.provider.Requests)
	for _, req := range h.provider.Requests {
		assert.Contains(t, req.Filters.TextContains, "gleanings")
	}

	// Nothing was cached, in either direction.
	assert.Zero(t, h.cache.Count(context.Background()))
}

func TestStreamQuotaDenied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, h.quota.Increment(ctx, "user_deadbeef"))
	}

	resp, raw := h.post(t, "/search/analyze/stream",
		`{"query": "what is justice"}`, "user_deadbeef")
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	events := parseEvents(t, raw)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0]["type"])
	assert.Equal(t, "query_limit_exceeded", events[0]["error"])

	// A denied request has no side effects.
	count, err := h.quota.GetCount(ctx, "user_deadbeef")
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
	assert.Zero(t, h.cache.Count(ctx))
}

func TestStreamPlannerFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.planLLM.Err = errors.New("planner provider down")
	h.introLLM.Responses = []string{"Found these passages on justice."}

	resp, raw := h.post(t, "/search/analyze/stream",
		`{"query": "what is justice"}`, "user_abc-123")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	events := parseEvents(t, raw)
	types := eventTypes(events)
	assert.NotContains(t, types, "error")
	assert.Equal(t, "plan", types[0])
	assert.Equal(t, "complete", types[len(types)-1])

	plan := events[0]["plan"].(map[string]any)
	assert.Equal(t, true, plan["fallback"])
	subQueries := plan["subQueries"].([]any)
	require.Len(t, subQueries, 1)
	assert.Equal(t, "what is justice", subQueries[0].(map[string]any)["text"])
}

func TestStreamUnmeteredWithoutHeader(t *testing.T) {
	h := newHarness(t)
	h.planLLM.Responses = []string{simplePlanJSON}
	h.introLLM.Responses = []string{"An introduction."}

	resp, raw := h.post(t, "/search/analyze/stream", `{"query": "what is justice"}`, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	events := parseEvents(t, raw)
	complete := events[len(events)-1]
	limit := complete["queryLimit"].(map[string]any)
	// Unmetered callers see the full budget untouched.
	assert.Equal(t, float64(10), limit["remaining"])
}

func TestStreamRejectsEmptyQuery(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.post(t, "/search/analyze/stream", `{"query": ""}`, "user_abc-123")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
