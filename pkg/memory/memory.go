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

// Package memory keeps an append-only log of prior interactions per
// identity, with semantic recall over an embedded vector store. Recall
// results inform future planning; failures here never fail a request.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/gnosis/pkg/config"
	"github.com/kadirpekel/gnosis/pkg/embedder"
)

// Roles for memory entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one logged interaction turn.
type Entry struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	Metadata   string    `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Memory combines the durable SQL turn log with a chromem collection
// for semantic recall.
type Memory struct {
	log    *Log
	db     *chromem.DB
	col    *chromem.Collection
	embed  embedder.Embedder
	topK   int
}

// New creates the memory adapter. persistPath empty keeps recall
// vectors in RAM only; the SQL log is always durable.
func New(log *Log, embed embedder.Embedder, cfg *config.MemoryConfig) (*Memory, error) {
	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory vector store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory collection: %w", err)
	}

	return &Memory{
		log:   log,
		db:    db,
		col:   col,
		embed: embed,
		topK:  cfg.TopK,
	}, nil
}

// Append logs one turn and indexes it for recall. Non-fatal: errors
// are logged and swallowed, the request already succeeded.
func (m *Memory) Append(ctx context.Context, identityID, role, text, metadata string) {
	if m == nil || identityID == "" || text == "" {
		return
	}

	entry := &Entry{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		Role:       role,
		Text:       text,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	}
	if err := m.log.Append(ctx, entry); err != nil {
		slog.Warn("Memory append failed", "identity", identityID, "error", err)
		return
	}

	vector, err := m.embed.Embed(ctx, text)
	if err != nil {
		slog.Debug("Memory embedding failed, entry not recallable", "error", err)
		return
	}
	doc := chromem.Document{
		ID:        entry.ID,
		Content:   text,
		Embedding: vector,
		Metadata: map[string]string{
			"identity_id": identityID,
			"role":        role,
		},
	}
	if err := m.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		slog.Debug("Memory vector index failed", "error", err)
	}
}

// Recall returns up to TopK prior texts for the identity, most similar
// to the query first. Empty on any failure.
func (m *Memory) Recall(ctx context.Context, identityID, query string) []string {
	if m == nil || identityID == "" {
		return nil
	}

	vector, err := m.embed.Embed(ctx, query)
	if err != nil {
		slog.Debug("Memory recall embedding failed", "error", err)
		return nil
	}

	topK := m.topK
	if count := m.col.Count(); count < topK {
		topK = count
	}
	if topK == 0 {
		return nil
	}

	results, err := m.col.QueryEmbedding(ctx, vector, topK,
		map[string]string{"identity_id": identityID}, nil)
	if err != nil {
		slog.Debug("Memory recall failed", "error", err)
		return nil
	}

	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Content)
	}
	return out
}

// Unify rekeys an anonymous identity's entries to an authenticated
// subject. Entries move once; nothing is copied.
func (m *Memory) Unify(ctx context.Context, fromID, toID string) error {
	if fromID == "" || toID == "" || fromID == toID {
		return fmt.Errorf("unification needs two distinct identities")
	}
	moved, err := m.log.Rekey(ctx, fromID, toID)
	if err != nil {
		return fmt.Errorf("failed to rekey memory entries: %w", err)
	}

	// The vector side is advisory; rebuild lazily by re-tagging docs.
	if err := m.rekeyVectors(ctx, fromID, toID); err != nil {
		slog.Warn("Memory vector rekey failed, recall degraded until re-append", "error", err)
	}

	slog.Info("Unified memory identities", "from", fromID, "to", toID, "entries", moved)
	return nil
}

func (m *Memory) rekeyVectors(ctx context.Context, fromID, toID string) error {
	count := m.col.Count()
	if count == 0 {
		return nil
	}
	// chromem has no update-in-place; fetch matching docs via a broad
	// query and re-add under the new identity.
	probe, err := m.embed.Embed(ctx, "")
	if err != nil {
		return err
	}
	results, err := m.col.QueryEmbedding(ctx, probe, count,
		map[string]string{"identity_id": fromID}, nil)
	if err != nil {
		return err
	}
	for _, r := range results {
		doc := chromem.Document{
			ID:      r.ID,
			Content: r.Content,
			Metadata: map[string]string{
				"identity_id": toID,
				"role":        r.Metadata["role"],
			},
			Embedding: r.Embedding,
		}
		if err := m.col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
			return err
		}
	}
	return nil
}
