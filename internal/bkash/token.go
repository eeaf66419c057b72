package bkash

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/singleflight"
)

// ErrNoToken is returned by a TokenStore that holds no token yet.
var ErrNoToken = errors.New("no stored gateway token")

// Token is a gateway access token together with the time it was granted.
type Token struct {
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
	ObtainedAt   time.Time
}

// Fresh reports whether the token may still be used at now given ttl.
func (t *Token) Fresh(now time.Time, ttl time.Duration) bool {
	if t == nil || t.IDToken == "" || t.ObtainedAt.IsZero() {
		return false
	}
	return now.Sub(t.ObtainedAt) < ttl
}

// TokenStore persists the single shared gateway token so that every instance
// reuses it.
type TokenStore interface {
	// Load returns the stored token or ErrNoToken.
	Load(ctx context.Context) (*Token, error)
	// Save upserts the stored token.
	Save(ctx context.Context, t Token) error
}

type grantFunc func(ctx context.Context) (Token, error)

// TokenCache hands out gateway tokens. It keeps the current token in memory,
// falls back to the shared TokenStore, and requests a new grant only when
// neither holds a token younger than ttl. Concurrent refreshes collapse into
// a single grant call.
type TokenCache struct {
	store TokenStore
	grant grantFunc
	ttl   time.Duration
	// timeout bounds a shared refresh, which outlives the caller that
	// started it.
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	cur     *Token
	revoked string

	group singleflight.Group
}

func newTokenCache(store TokenStore, ttl, timeout time.Duration, grant grantFunc) *TokenCache {
	return &TokenCache{
		store:   store,
		grant:   grant,
		ttl:     ttl,
		timeout: timeout,
		now:     time.Now,
	}
}

// Get returns a usable id token, refreshing it when needed.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	if t := c.cached(); t != nil {
		return t.IDToken, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		if t := c.cached(); t != nil {
			return t.IDToken, nil
		}
		ctx, cancel := c.refreshContext(ctx)
		defer cancel()
		t, err := c.refresh(ctx)
		if err != nil {
			return "", err
		}
		return t.IDToken, nil
	})
	select {
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "wait for token")
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

// refreshContext detaches the refresh from the caller that happened to start
// it, so its cancellation does not fail the other waiters.
func (c *TokenCache) refreshContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Invalidate drops a token the gateway rejected. The next Get grants a new
// token even if the store still holds the rejected one.
func (c *TokenCache) Invalidate(idToken string) {
	c.mu.Lock()
	if c.cur != nil && c.cur.IDToken == idToken {
		c.cur = nil
	}
	c.revoked = idToken
	c.mu.Unlock()
}

func (c *TokenCache) cached() *Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cur.Fresh(c.now(), c.ttl) {
		return c.cur
	}
	return nil
}

func (c *TokenCache) set(t *Token) {
	c.mu.Lock()
	c.cur = t
	c.mu.Unlock()
}

func (c *TokenCache) isRevoked(idToken string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revoked != "" && c.revoked == idToken
}

func (c *TokenCache) refresh(ctx context.Context) (*Token, error) {
	stored, err := c.store.Load(ctx)
	switch {
	case err == nil:
		if stored.Fresh(c.now(), c.ttl) && !c.isRevoked(stored.IDToken) {
			c.set(stored)
			return stored, nil
		}
	case errors.Is(err, ErrNoToken):
	default:
		return nil, errors.Wrap(err, "load token")
	}

	t, err := c.grant(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "grant token")
	}
	if t.ObtainedAt.IsZero() {
		t.ObtainedAt = c.now()
	}
	if err := c.store.Save(ctx, t); err != nil {
		return nil, errors.Wrap(err, "save token")
	}
	c.set(&t)
	return &t, nil
}
