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

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/gnosis/pkg/config"
)

// testIssuer serves a JWKS over HTTP and signs tokens with the matching
// private key.
type testIssuer struct {
	key jwk.Key
	ts  *httptest.Server
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	pub, err := key.PublicKey()
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(ts.Close)

	return &testIssuer{key: key, ts: ts}
}

func (i *testIssuer) sign(t *testing.T, mutate func(jwt.Token)) string {
	t.Helper()
	token := jwt.New()
	require.NoError(t, token.Set(jwt.SubjectKey, "auth0|subject-1"))
	require.NoError(t, token.Set(jwt.IssuerKey, "https://issuer.test"))
	require.NoError(t, token.Set(jwt.ExpirationKey, time.Now().Add(time.Hour)))
	if mutate != nil {
		mutate(token)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, i.key))
	require.NoError(t, err)
	return string(signed)
}

func newTestValidator(t *testing.T, issuer *testIssuer) *Validator {
	t.Helper()
	v, err := NewValidator(&config.AuthConfig{
		JWKSURL: issuer.ts.URL,
		Issuer:  "https://issuer.test",
	})
	require.NoError(t, err)
	return v
}

func TestValidateExtractsClaims(t *testing.T) {
	issuer := newTestIssuer(t)
	v := newTestValidator(t, issuer)

	signed := issuer.sign(t, func(tok jwt.Token) {
		require.NoError(t, tok.Set("tier", "approved"))
	})

	claims, err := v.Validate(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "auth0|subject-1", claims.Subject)
	assert.Equal(t, "approved", claims.Tier)
}

func TestValidateMissingTier(t *testing.T) {
	issuer := newTestIssuer(t)
	v := newTestValidator(t, issuer)

	claims, err := v.Validate(context.Background(), issuer.sign(t, nil))
	require.NoError(t, err)
	assert.Empty(t, claims.Tier)
}

func TestValidateRejectsExpired(t *testing.T) {
	issuer := newTestIssuer(t)
	v := newTestValidator(t, issuer)

	signed := issuer.sign(t, func(tok jwt.Token) {
		require.NoError(t, tok.Set(jwt.ExpirationKey, time.Now().Add(-time.Hour)))
	})

	_, err := v.Validate(context.Background(), signed)
	assert.Error(t, err)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	issuer := newTestIssuer(t)
	v := newTestValidator(t, issuer)

	signed := issuer.sign(t, func(tok jwt.Token) {
		require.NoError(t, tok.Set(jwt.IssuerKey, "https://someone-else.test"))
	})

	_, err := v.Validate(context.Background(), signed)
	assert.Error(t, err)
}

func TestValidateRejectsForeignKey(t *testing.T) {
	issuer := newTestIssuer(t)
	stranger := newTestIssuer(t)
	v := newTestValidator(t, issuer)

	_, err := v.Validate(context.Background(), stranger.sign(t, nil))
	assert.Error(t, err)
}

func TestValidateRejectsGarbage(t *testing.T) {
	issuer := newTestIssuer(t)
	v := newTestValidator(t, issuer)

	_, err := v.Validate(context.Background(), "not-a-token")
	assert.Error(t, err)
}

func TestNewValidatorRequiresReachableJWKS(t *testing.T) {
	_, err := NewValidator(&config.AuthConfig{JWKSURL: "http://127.0.0.1:1/jwks.json"})
	assert.Error(t, err)
}
