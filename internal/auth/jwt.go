package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Principal is the authenticated caller of a trigger route.
type Principal struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
}

// Verifier authenticates HTTP requests.
type Verifier interface {
	PrincipalFromRequest(r *http.Request) (*Principal, error)
}

// JWTVerifier verifies bearer JWTs against a JWKS that is cached and
// refreshed in the background by jwk.Cache.
type JWTVerifier struct {
	jwksURL string
	cache   *jwk.Cache
}

// NewJWTVerifier registers jwksURL and performs the initial fetch.
func NewJWTVerifier(ctx context.Context, jwksURL string, refresh time.Duration) (*JWTVerifier, error) {
	if refresh <= 0 {
		refresh = 5 * time.Minute
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cache.Refresh(fetchCtx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed initial JWKS fetch: %w", err)
	}

	return &JWTVerifier{jwksURL: jwksURL, cache: cache}, nil
}

// PrincipalFromRequest validates the Authorization bearer token.
func (v *JWTVerifier) PrincipalFromRequest(r *http.Request) (*Principal, error) {
	keySet, err := v.cache.Get(r.Context(), v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("load JWKS: %w", err)
	}

	token, err := jwt.ParseRequest(r, jwt.WithKeySet(keySet), jwt.WithValidate(true))
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}
	if token.Subject() == "" {
		return nil, fmt.Errorf("token missing subject")
	}

	p := &Principal{Subject: token.Subject()}
	if emailClaim, ok := token.Get("email"); ok {
		p.Email, _ = emailClaim.(string)
	}
	return p, nil
}
