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

package memory

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/gnosis/pkg/config"
	"github.com/kadirpekel/gnosis/pkg/embedder"
)

func newTestMemory(t *testing.T) (*Memory, *Log) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	log, err := NewLog(db, "sqlite")
	require.NoError(t, err)

	cfg := &config.MemoryConfig{TopK: 2}
	cfg.SetDefaults()
	m, err := New(log, embedder.NewHashEmbedder(64), cfg)
	require.NoError(t, err)
	return m, log
}

func TestAppendAndRecall(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	m.Append(ctx, "user_abc-123", RoleUser, "what is justice", "")
	m.Append(ctx, "user_abc-123", RoleAssistant, "Justice is the best beloved.", "")
	m.Append(ctx, "sess_00ff", RoleUser, "unrelated prayer question", "")

	got := m.Recall(ctx, "user_abc-123", "justice")
	require.Len(t, got, 2)
	assert.NotContains(t, got, "unrelated prayer question")
}

func TestRecallUnknownIdentity(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	m.Append(ctx, "user_abc-123", RoleUser, "what is justice", "")

	assert.Empty(t, m.Recall(ctx, "user_ffff", "justice"))
	assert.Empty(t, m.Recall(ctx, "", "justice"))
}

func TestAppendSkipsBlankInput(t *testing.T) {
	m, log := newTestMemory(t)
	ctx := context.Background()

	m.Append(ctx, "", RoleUser, "text", "")
	m.Append(ctx, "user_abc-123", RoleUser, "", "")

	entries, err := log.Recent(ctx, "user_abc-123", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNilMemoryIsInert(t *testing.T) {
	var m *Memory
	ctx := context.Background()

	m.Append(ctx, "user_abc-123", RoleUser, "text", "")
	assert.Nil(t, m.Recall(ctx, "user_abc-123", "query"))
}

func TestUnifyMovesEntries(t *testing.T) {
	m, log := newTestMemory(t)
	ctx := context.Background()

	m.Append(ctx, "user_abc-123", RoleUser, "what is justice", "")
	m.Append(ctx, "user_abc-123", RoleAssistant, "Justice is the best beloved.", "")

	require.NoError(t, m.Unify(ctx, "user_abc-123", "auth0|subject-1"))

	old, err := log.Recent(ctx, "user_abc-123", 10)
	require.NoError(t, err)
	assert.Empty(t, old)

	moved, err := log.Recent(ctx, "auth0|subject-1", 10)
	require.NoError(t, err)
	assert.Len(t, moved, 2)

	// Recall now answers under the new subject only.
	assert.NotEmpty(t, m.Recall(ctx, "auth0|subject-1", "justice"))
	assert.Empty(t, m.Recall(ctx, "user_abc-123", "justice"))
}

func TestUnifyRejectsDegenerateInput(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	assert.Error(t, m.Unify(ctx, "", "subject"))
	assert.Error(t, m.Unify(ctx, "user_abc-123", ""))
	assert.Error(t, m.Unify(ctx, "same", "same"))
}

func TestUnifyStaleIDMovesNothing(t *testing.T) {
	m, log := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Unify(ctx, "user_never-seen", "auth0|subject-1"))
	entries, err := log.Recent(ctx, "auth0|subject-1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
