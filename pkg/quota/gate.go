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

package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/gnosis/pkg/config"
)

// Unlimited marks a budget with no cap.
const Unlimited int64 = -1

// ErrDenied is returned when the gate rejects a request.
var ErrDenied = errors.New("search quota denied")

// Decision is the gate output.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Remaining int64  `json:"remaining"`
	Limit     int64  `json:"limit"`
	Reason    string `json:"reason,omitempty"`
}

// Gate checks budgets before a search and commits the counter after a
// successful one. Check and Commit are deliberately separated; the only
// invariant is at-most-one increment per successful request. An
// occasional over-by-one under concurrent identical identities is
// accepted.
type Gate struct {
	store Store
	cfg   *config.QuotaConfig
}

// NewGate creates a gate over a counter store.
func NewGate(store Store, cfg *config.QuotaConfig) *Gate {
	return &Gate{store: store, cfg: cfg}
}

// Check applies the tier rules in order.
func (g *Gate) Check(ctx context.Context, ident Identity) (Decision, error) {
	if ident.Authenticated {
		switch {
		case ident.Tier == TierBanned:
			return Decision{Allowed: false, Remaining: 0, Limit: 0, Reason: "suspended"}, nil
		case unlimitedTier(ident.Tier):
			return Decision{Allowed: true, Remaining: Unlimited, Limit: Unlimited}, nil
		default:
			return g.meteredDecision(ctx, ident.ID, int64(g.cfg.AuthenticatedLimit))
		}
	}

	if !ident.Metered() {
		// Anonymous without an id header: allowed but un-metered.
		limit := int64(g.cfg.AnonymousLimit)
		return Decision{Allowed: true, Remaining: limit, Limit: limit}, nil
	}
	return g.meteredDecision(ctx, ident.ID, int64(g.cfg.AnonymousLimit))
}

func (g *Gate) meteredDecision(ctx context.Context, id string, limit int64) (Decision, error) {
	count, err := g.store.GetCount(ctx, id)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read search count for %s: %w", id, err)
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count < limit,
		Remaining: remaining,
		Limit:     limit,
		Reason:    deniedReason(count >= limit),
	}, nil
}

func deniedReason(denied bool) string {
	if denied {
		return "limit reached"
	}
	return ""
}

// Commit increments the identity's counter once after a successful
// request, cache hits included. Unmetered identities are skipped.
// Failures are logged, never surfaced; the response already streamed.
func (g *Gate) Commit(ctx context.Context, ident Identity) {
	if !ident.Metered() {
		return
	}
	// Unlimited tiers are still counted for reporting; the budget
	// simply never exhausts.
	if err := g.store.Increment(ctx, ident.ID); err != nil {
		slog.Warn("Failed to increment search counter", "identity", ident.ID, "error", err)
	}
}

// TouchAnonymous records a sighting of an anonymous id so stats can
// distinguish distinct visitors. Upsert, non-fatal.
func (g *Gate) TouchAnonymous(ctx context.Context, ident Identity) {
	if ident.Authenticated || !ident.Metered() {
		return
	}
	if err := g.store.TouchAnonymous(ctx, ident.ID); err != nil {
		slog.Debug("Failed to record anonymous sighting", "identity", ident.ID, "error", err)
	}
}
