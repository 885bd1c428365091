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
	"log/slog"
	"net/http"
	"strings"

	"github.com/kadirpekel/gnosis/pkg/quota"
)

// resolveIdentity maps request headers onto an identity. Resolution
// order: bearer token, then X-User-ID, then unmetered anonymous. The
// surface is auth-optional: an invalid bearer token degrades to
// anonymous rather than failing the request.
func (s *Server) resolveIdentity(r *http.Request) quota.Identity {
	if authz := r.Header.Get("Authorization"); authz != "" && s.validator != nil {
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if ok {
			claims, err := s.validator.Validate(r.Context(), token)
			if err == nil {
				tier := claims.Tier
				if tier == "" {
					tier = quota.TierVerified
				}
				return quota.Authenticated(claims.Subject, tier)
			}
			slog.Debug("Bearer token rejected, treating caller as anonymous", "error", err)
		}
	}
	return quota.Anonymous(r.Header.Get("X-User-ID"))
}
