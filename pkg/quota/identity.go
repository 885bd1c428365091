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

// Package quota enforces per-identity search budgets.
package quota

import "regexp"

// Account tiers for authenticated identities.
const (
	TierBanned        = "banned"
	TierVerified      = "verified"
	TierApproved      = "approved"
	TierPatron        = "patron"
	TierInstitutional = "institutional"
	TierAdmin         = "admin"
)

// anonymousIDPattern is the accepted shape of the anonymous id header.
var anonymousIDPattern = regexp.MustCompile(`^(user_|sess_)[a-f0-9-]+$`)

// ValidAnonymousID reports whether an id header value is recognized.
func ValidAnonymousID(id string) bool {
	return anonymousIDPattern.MatchString(id)
}

// Identity is the resolved caller. Exactly one of the three shapes
// holds: authenticated (Authenticated set, Tier meaningful), anonymous
// with a recognized id (ID set), or unmetered (ID empty).
type Identity struct {
	ID            string `json:"id,omitempty"`
	Authenticated bool   `json:"isAuthenticated"`
	Tier          string `json:"tier,omitempty"`
}

// Anonymous builds an identity from an id header value. Unrecognized
// values yield the unmetered identity.
func Anonymous(id string) Identity {
	if !ValidAnonymousID(id) {
		return Identity{}
	}
	return Identity{ID: id}
}

// Authenticated builds an identity for a validated token subject.
func Authenticated(subject, tier string) Identity {
	return Identity{ID: subject, Authenticated: true, Tier: tier}
}

// Metered reports whether the identity's searches are counted.
func (i Identity) Metered() bool {
	return i.ID != ""
}

// unlimitedTiers never exhaust their budget.
func unlimitedTier(tier string) bool {
	switch tier {
	case TierApproved, TierPatron, TierInstitutional, TierAdmin:
		return true
	}
	return false
}
