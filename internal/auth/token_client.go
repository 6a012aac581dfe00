// Package auth talks to the credential service that owns provider tokens and
// verifies callers of the HTTP trigger surface.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// Token is a provider access token issued by the credential service.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// valid reports whether the token is usable for at least another minute.
func (t Token) valid(now time.Time) bool {
	return t.AccessToken != "" && (t.Expiry.IsZero() || now.Add(time.Minute).Before(t.Expiry))
}

// TokenClient fetches access tokens from the credential service. The service
// stores and decrypts credentials and performs refresh-token exchanges; this
// client only caches what it hands out until shortly before expiry.
type TokenClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]Token
}

// NewTokenClient creates a client for the credential service at baseURL.
func NewTokenClient(baseURL, apiKey string) *TokenClient {
	return &TokenClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
		cache:   make(map[string]Token),
	}
}

// EnsureValidToken returns an access token for the connection, asking the
// credential service for a fresh one when the cached token is near expiry.
// It fails with domain.ErrUnauthorized when the service cannot produce one.
func (c *TokenClient) EnsureValidToken(ctx context.Context, connectionID string) (string, error) {
	c.mu.Lock()
	cached, ok := c.cache[connectionID]
	c.mu.Unlock()
	if ok && cached.valid(c.now()) {
		return cached.AccessToken, nil
	}

	tok, err := c.GetToken(ctx, connectionID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[connectionID] = *tok
	c.mu.Unlock()
	return tok.AccessToken, nil
}

// Invalidate drops a cached token, e.g. after the provider rejected it.
func (c *TokenClient) Invalidate(connectionID string) {
	c.mu.Lock()
	delete(c.cache, connectionID)
	c.mu.Unlock()
}

// GetToken fetches the current token for a connection from the credential service.
func (c *TokenClient) GetToken(ctx context.Context, connectionID string) (*Token, error) {
	endpoint := fmt.Sprintf("%s/connections/%s/token", c.baseURL, url.PathEscape(connectionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("credential service %d for %s: %s: %w", resp.StatusCode, connectionID, string(body), domain.ErrUnauthorized)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"` // unix timestamp
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("credential service returned no token for %s: %w", connectionID, domain.ErrUnauthorized)
	}

	tok := &Token{AccessToken: result.AccessToken}
	if result.ExpiresAt > 0 {
		tok.Expiry = time.Unix(result.ExpiresAt, 0)
	}
	return tok, nil
}
