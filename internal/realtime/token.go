package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// tokenExpiryMargin is how long before the token's real expiry the cache
	// stops handing it out.
	tokenExpiryMargin = 24 * time.Hour
	// sessionLifetime matches the accessToken cookie max age and is assumed
	// for tokens that carry no exp claim.
	sessionLifetime = 7 * 24 * time.Hour
)

// TokenSource yields the bearer token used to authenticate the push channel.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// CachedTokenSource memoizes a TokenSource until roughly a day before the
// token expires.
type CachedTokenSource struct {
	src TokenSource
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewCachedTokenSource(src TokenSource) *CachedTokenSource {
	return &CachedTokenSource{src: src, now: time.Now}
}

func (c *CachedTokenSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.expires) {
		return c.token, nil
	}

	tok, err := c.src.Token(ctx)
	if err != nil {
		return "", err
	}
	c.token = tok
	c.expires = cacheUntil(tok, now)
	return tok, nil
}

// Invalidate drops the cached token so the next call refetches it.
func (c *CachedTokenSource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expires = time.Time{}
}

// cacheUntil reads the unverified exp claim. The push server verifies the
// signature; the client only needs the lifetime.
func cacheUntil(token string, now time.Time) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil || claims.ExpiresAt == nil {
		return now.Add(sessionLifetime - tokenExpiryMargin)
	}

	exp := claims.ExpiresAt.Time
	if until := exp.Add(-tokenExpiryMargin); until.After(now) {
		return until
	}
	return exp
}
