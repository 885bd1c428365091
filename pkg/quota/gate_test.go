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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/gnosis/pkg/config"
)

func newTestGate(t *testing.T) (*Gate, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	cfg := &config.QuotaConfig{}
	cfg.SetDefaults()
	return NewGate(store, cfg), store
}

func TestGateDecisionTable(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()

	// An anonymous caller that already spent its budget.
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Increment(ctx, "user_deadbeef"))
	}

	tests := []struct {
		name          string
		ident         Identity
		wantAllowed   bool
		wantRemaining int64
		wantReason    string
	}{
		{
			name:        "banned tier denied",
			ident:       Authenticated("sub-1", TierBanned),
			wantAllowed: false,
			wantReason:  "suspended",
		},
		{
			name:          "approved tier unlimited",
			ident:         Authenticated("sub-2", TierApproved),
			wantAllowed:   true,
			wantRemaining: Unlimited,
		},
		{
			name:          "admin tier unlimited",
			ident:         Authenticated("sub-3", TierAdmin),
			wantAllowed:   true,
			wantRemaining: Unlimited,
		},
		{
			name:          "verified tier metered at 20",
			ident:         Authenticated("sub-4", TierVerified),
			wantAllowed:   true,
			wantRemaining: 20,
		},
		{
			name:          "anonymous with id metered at 10",
			ident:         Anonymous("user_abc-123"),
			wantAllowed:   true,
			wantRemaining: 10,
		},
		{
			name:        "anonymous exhausted",
			ident:       Anonymous("user_deadbeef"),
			wantAllowed: false,
			wantReason:  "limit reached",
		},
		{
			name:          "no id header unmetered",
			ident:         Identity{},
			wantAllowed:   true,
			wantRemaining: 10,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := gate.Check(ctx, tt.ident)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, decision.Allowed)
			if tt.wantAllowed {
				assert.Equal(t, tt.wantRemaining, decision.Remaining)
			}
			assert.Equal(t, tt.wantReason, decision.Reason)
		})
	}
}

func TestCommitIncrementsOnce(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()
	ident := Anonymous("user_abc-123")

	for i := 0; i < 3; i++ {
		gate.Commit(ctx, ident)
	}
	count, err := store.GetCount(ctx, "user_abc-123")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	decision, err := gate.Check(ctx, ident)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(7), decision.Remaining)
}

func TestCommitSkipsUnmetered(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()

	gate.Commit(ctx, Identity{})
	gate.Commit(ctx, Anonymous("not-a-valid-id"))

	count, err := store.GetCount(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRemainingNeverNegative(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, store.Increment(ctx, "sess_ff00"))
	}
	decision, err := gate.Check(ctx, Anonymous("sess_ff00"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Zero(t, decision.Remaining)
}

func TestValidAnonymousID(t *testing.T) {
	assert.True(t, ValidAnonymousID("user_abc-123"))
	assert.True(t, ValidAnonymousID("sess_00ff"))
	assert.False(t, ValidAnonymousID("user_ABC"))
	assert.False(t, ValidAnonymousID("visitor_123"))
	assert.False(t, ValidAnonymousID(""))
	assert.False(t, ValidAnonymousID("USER_abc"))
}

func TestTouchAnonymous(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()

	gate.TouchAnonymous(ctx, Anonymous("user_abc-123"))
	gate.TouchAnonymous(ctx, Anonymous("user_abc-123"))
	gate.TouchAnonymous(ctx, Authenticated("sub-1", TierVerified))

	assert.Equal(t, 1, store.SightingCount())
}
