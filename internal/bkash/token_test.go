package bkash

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_Fresh(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		token *Token
		want  bool
	}{
		{name: "nil", token: nil, want: false},
		{name: "empty id", token: &Token{ObtainedAt: now}, want: false},
		{name: "zero time", token: &Token{IDToken: "x"}, want: false},
		{name: "young", token: &Token{IDToken: "x", ObtainedAt: now.Add(-59 * time.Minute)}, want: true},
		{name: "exactly ttl", token: &Token{IDToken: "x", ObtainedAt: now.Add(-time.Hour)}, want: false},
		{name: "old", token: &Token{IDToken: "x", ObtainedAt: now.Add(-2 * time.Hour)}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.Fresh(now, time.Hour))
		})
	}
}

func TestTokenCache_ConcurrentColdStartGrantsOnce(t *testing.T) {
	var grants atomic.Int32
	release := make(chan struct{})
	grant := func(_ context.Context) (Token, error) {
		grants.Add(1)
		<-release
		return Token{IDToken: "shared"}, nil
	}
	store := &memTokenStore{}
	cache := newTokenCache(store, time.Hour, 0, grant)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := cache.Get(context.Background())
			assert.NoError(t, err)
			results[i] = tok
		}()
	}

	// Let every caller reach the refresh before the grant completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), grants.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
	assert.Equal(t, 1, store.saves)
}

func TestTokenCache_RefreshAfterTTL(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	n := 0
	grant := func(_ context.Context) (Token, error) {
		n++
		return Token{IDToken: "tok" + string(rune('0'+n))}, nil
	}
	cache := newTokenCache(&memTokenStore{}, time.Hour, 0, grant)
	cache.now = func() time.Time { return now }

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", tok)

	now = now.Add(30 * time.Minute)
	tok, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", tok)

	now = now.Add(31 * time.Minute)
	tok, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok2", tok)
}

func TestTokenCache_InvalidateSkipsRevokedStoredToken(t *testing.T) {
	store := &memTokenStore{tok: &Token{IDToken: "revoked", ObtainedAt: time.Now()}}
	grant := func(_ context.Context) (Token, error) {
		return Token{IDToken: "new"}, nil
	}
	cache := newTokenCache(store, time.Hour, 0, grant)

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "revoked", tok)

	cache.Invalidate(tok)
	tok, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
}

func TestTokenCache_GrantError(t *testing.T) {
	grantErr := errors.New("gateway down")
	cache := newTokenCache(&memTokenStore{}, time.Hour, 0, func(_ context.Context) (Token, error) {
		return Token{}, grantErr
	})

	_, err := cache.Get(context.Background())
	require.ErrorIs(t, err, grantErr)
}

func TestTokenCache_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	var grants atomic.Int32
	var sawDeadline atomic.Bool
	release := make(chan struct{})
	grant := func(ctx context.Context) (Token, error) {
		grants.Add(1)
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		<-release
		if err := ctx.Err(); err != nil {
			return Token{}, err
		}
		return Token{IDToken: "shared"}, nil
	}
	cache := newTokenCache(&memTokenStore{}, time.Hour, time.Minute, grant)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Get(firstCtx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return grants.Load() == 1 }, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	var second string
	wg.Go(func() {
		tok, err := cache.Get(context.Background())
		assert.NoError(t, err)
		second = tok
	})

	// The buyer who triggered the grant goes away.
	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	wg.Wait()

	assert.Equal(t, "shared", second)
	assert.Equal(t, int32(1), grants.Load())
	assert.True(t, sawDeadline.Load(), "shared grant is bounded by the client timeout")
}
