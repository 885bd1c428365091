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

package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusErrorRetryable(t *testing.T) {
	assert.True(t, (&StatusError{StatusCode: http.StatusTooManyRequests}).Retryable())
	assert.True(t, (&StatusError{StatusCode: http.StatusServiceUnavailable}).Retryable())
	assert.False(t, (&StatusError{StatusCode: http.StatusUnauthorized}).Retryable())
	assert.False(t, (&StatusError{StatusCode: http.StatusBadRequest}).Retryable())

	assert.True(t, (&StatusError{StatusCode: http.StatusTooManyRequests}).RateLimited())
	assert.False(t, (&StatusError{StatusCode: http.StatusInternalServerError}).RateLimited())
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, ParseRetryAfter(h))

	h.Set("Retry-After", "30")
	assert.Equal(t, 30*time.Second, ParseRetryAfter(h))

	h.Set("Retry-After", "garbage")
	assert.Zero(t, ParseRetryAfter(h))

	h.Set("Retry-After", time.Now().Add(time.Minute).UTC().Format(http.TimeFormat))
	got := ParseRetryAfter(h)
	assert.Greater(t, got, 50*time.Second)
	assert.LessOrEqual(t, got, time.Minute)

	h.Set("Retry-After", time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat))
	assert.Zero(t, ParseRetryAfter(h))
}
