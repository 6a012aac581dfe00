package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/mailsync/internal/domain"
)

func TestEnsureValidTokenCachesUntilExpiry(t *testing.T) {
	var hits atomic.Int32
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/connections/conn-1/token", r.URL.Path)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_at":%d}`, hits.Load(), now.Add(10*time.Minute).Unix())
	}))
	defer srv.Close()

	c := NewTokenClient(srv.URL, "service-key")
	c.now = func() time.Time { return now }

	tok, err := c.EnsureValidToken(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	tok, err = c.EnsureValidToken(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), hits.Load())

	c.now = func() time.Time { return now.Add(9*time.Minute + 30*time.Second) }
	tok, err = c.EnsureValidToken(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok, "token within a minute of expiry is refreshed")

	c.Invalidate("conn-1")
	_, err = c.EnsureValidToken(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestEnsureValidTokenErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		unauthorized bool
	}{
		{"revoked", http.StatusUnauthorized, `refresh token revoked`, true},
		{"unknown connection", http.StatusNotFound, `no such connection`, true},
		{"empty token", http.StatusOK, `{"access_token":""}`, true},
		{"service down", http.StatusBadGateway, `bad gateway`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewTokenClient(srv.URL, "").EnsureValidToken(context.Background(), "conn-1")
			require.Error(t, err)
			assert.Equal(t, tt.unauthorized, errors.Is(err, domain.ErrUnauthorized))
		})
	}
}

func signedRequest(t *testing.T, key jwk.Key, claims map[string]any) *http.Request {
	t.Helper()
	b := jwt.NewBuilder().Expiration(time.Now().Add(time.Hour))
	for k, v := range claims {
		b = b.Claim(k, v)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/sync/conn-1", nil)
	r.Header.Set("Authorization", "Bearer "+string(signed))
	return r
}

func TestJWTVerifier(t *testing.T) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "k1"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))
	pub, err := key.PublicKey()
	require.NoError(t, err)

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	jwks, err := json.Marshal(set)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwks)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := NewJWTVerifier(ctx, srv.URL, time.Minute)
	require.NoError(t, err)

	p, err := v.PrincipalFromRequest(signedRequest(t, key, map[string]any{"sub": "ops", "email": "ops@example.com"}))
	require.NoError(t, err)
	assert.Equal(t, "ops", p.Subject)
	assert.Equal(t, "ops@example.com", p.Email)

	_, err = v.PrincipalFromRequest(signedRequest(t, key, map[string]any{"email": "nosub@example.com"}))
	assert.Error(t, err)

	_, err = v.PrincipalFromRequest(httptest.NewRequest(http.MethodPost, "/sync/conn-1", nil))
	assert.Error(t, err)
}
