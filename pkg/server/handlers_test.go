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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/gnosis/pkg/index"
	"github.com/kadirpekel/gnosis/pkg/quota"
)

func decodeJSON(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestSearchEndpoint(t *testing.T) {
	h := newHarness(t)

	resp, raw := h.post(t, "/search",
		`{"query": "justice (gleanings)", "mode": "keyword", "limit": 2}`, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, raw)
	assert.Equal(t, "keyword", body["mode"])
	hits := body["hits"].([]any)
	assert.Len(t, hits, 2)

	// The parenthetical became a text filter on the single retrieval.
	require.Len(t, h.provider.Requests, 1)
	req := h.provider.Requests[0]
	assert.Equal(t, "justice", req.Query)
	assert.Equal(t, []string{"gleanings"}, req.Filters.TextContains)
}

func TestSearchEndpointBadMode(t *testing.T) {
	h := newHarness(t)
	h.provider.Err = index.ErrBadRequest

	resp, _ := h.post(t, "/search", `{"query": "justice", "mode": "warp"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchEndpointUnavailable(t *testing.T) {
	h := newHarness(t)
	h.provider.Err = index.ErrUnavailable

	resp, _ := h.post(t, "/search", `{"query": "justice"}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAnalyzeBuffered(t *testing.T) {
	h := newHarness(t)
	h.planLLM.Responses = []string{simplePlanJSON}
	h.introLLM.Responses = []string{"Justice binds every tradition surveyed here."}

	resp, raw := h.post(t, "/search/analyze", `{"query": "what is justice"}`, "user_abc-123")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, raw)
	assert.Equal(t, "Justice binds every tradition surveyed here.", body["analysis"])
	assert.Equal(t, "what is justice", body["query"])
	assert.Equal(t, "default", body["model"])
	assert.Len(t, body["sources"].([]any), 4)
	assert.Nil(t, body["cached"])

	count, err := h.quota.GetCount(context.Background(), "user_abc-123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAnalyzeBufferedCacheHit(t *testing.T) {
	h := newHarness(t)
	h.planLLM.Responses = []string{simplePlanJSON}
	h.introLLM.Responses = []string{"Justice binds every tradition surveyed here."}

	_, first := h.post(t, "/search/analyze", `{"query": "what is justice"}`, "user_abc-123")
	resp, second := h.post(t, "/search/analyze", `{"query": "what is justice"}`, "user_abc-123")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	a, b := decodeJSON(t, first), decodeJSON(t, second)
	assert.Equal(t, true, b["cached"])
	assert.Equal(t, a["analysis"], b["analysis"])
	assert.Equal(t, a["sources"], b["sources"])

	count, err := h.quota.GetCount(context.Background(), "user_abc-123")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestAnalyzeQuotaDenied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, h.quota.Increment(ctx, "sess_00ff"))
	}

	resp, raw := h.post(t, "/search/analyze", `{"query": "what is justice"}`, "sess_00ff")
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "query_limit_exceeded", decodeJSON(t, raw)["error"])
}

func TestStatsEndpoint(t *testing.T) {
	h := newHarness(t)

	resp, err := h.ts.Client().Get(h.ts.URL + "/search/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "test", body["serverVersion"])
	assert.NotNil(t, body["index"])
	assert.Equal(t, float64(0), body["cacheEntries"])
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)

	resp, err := h.ts.Client().Get(h.ts.URL + "/search/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["index"])
	assert.Equal(t, "configured", checks["models"])
	assert.Equal(t, []any{"default"}, body["models"])
}

func TestHealthEndpointDegraded(t *testing.T) {
	h := newHarness(t)
	h.provider.Err = index.ErrUnavailable

	resp, err := h.ts.Client().Get(h.ts.URL + "/search/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"])
}

func TestMemoryUnifyRequiresAuth(t *testing.T) {
	h := newHarness(t)

	// An X-User-ID is anonymous, not authenticated.
	resp, _ := h.post(t, "/memory/unify", `{"anonymousId": "user_abc-123"}`, "user_abc-123")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestResolveIdentity(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/search/analyze", nil)
	req.Header.Set("X-User-ID", "user_abc-123")
	ident := h.srv.resolveIdentity(req)
	assert.False(t, ident.Authenticated)
	assert.Equal(t, "user_abc-123", ident.ID)
	assert.True(t, ident.Metered())

	// No validator configured: a bearer token degrades to anonymous.
	req = httptest.NewRequest(http.MethodPost, "/search/analyze", nil)
	req.Header.Set("Authorization", "Bearer not-checked")
	ident = h.srv.resolveIdentity(req)
	assert.False(t, ident.Authenticated)
	assert.Empty(t, ident.ID)
	assert.False(t, ident.Metered())

	ident = h.srv.resolveIdentity(httptest.NewRequest(http.MethodPost, "/search", nil))
	assert.Equal(t, quota.Identity{}, ident)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequest(http.MethodOptions, h.ts.URL+"/search", nil)
	require.NoError(t, err)
	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-User-ID")
}
