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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/kadirpekel/gnosis/pkg/planner"
)

// Stream event payloads, one JSON object per SSE data line.

type thinkingEvent struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	IsExhaustive bool   `json:"isExhaustive"`
}

type planEvent struct {
	Type string        `json:"type"`
	Plan *planner.Plan `json:"plan"`
}

type progressEvent struct {
	Type    string `json:"type"`
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

type sourcesEvent struct {
	Type    string          `json:"type"`
	Sources json.RawMessage `json:"sources"`
}

type chunkEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type queryLimit struct {
	Remaining       int64 `json:"remaining"`
	Limit           int64 `json:"limit"`
	IsAuthenticated bool  `json:"isAuthenticated"`
}

type completeEvent struct {
	Type       string     `json:"type"`
	Timing     timing     `json:"timing"`
	QueryLimit queryLimit `json:"queryLimit"`
	Cached     bool       `json:"cached,omitempty"`
	CacheAge   int64      `json:"cacheAge,omitempty"`
}

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// timing carries per-stage durations in milliseconds.
type timing struct {
	PlanMs      int64 `json:"planMs"`
	Pass1Ms     int64 `json:"pass1Ms,omitempty"`
	Pass2Ms     int64 `json:"pass2Ms,omitempty"`
	RetrievalMs int64 `json:"retrievalMs"`
	AnalysisMs  int64 `json:"analysisMs"`
	TotalMs     int64 `json:"totalMs"`
}

// streamWriter frames SSE events. A mutex serializes concurrent
// producers so the event order stays total.
type streamWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// newStreamWriter sets the SSE headers and writes the status line.
// Returns an error when the connection cannot stream.
func newStreamWriter(w http.ResponseWriter, status int) (*streamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(status)
	return &streamWriter{w: w, flusher: flusher}, nil
}

// send frames one event and flushes immediately.
func (s *streamWriter) send(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal stream event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
