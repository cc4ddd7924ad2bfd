package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/forager/pkg/credentials"
)

func tokenServer(t *testing.T, exchanges *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok, "token exchange must use basic auth")
		assert.Equal(t, "ck", user)
		assert.Equal(t, "cs", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		n := exchanges.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-" + string(rune('a'+n-1)),
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
}

func oauthProvider() credentials.Provider {
	return credentials.NewStaticProvider(map[string]map[string]string{
		"api": {"consumer_key": "ck", "consumer_secret": "cs"},
	})
}

func TestOAuth2Exchange(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges)
	defer srv.Close()

	m := NewOAuth2ClientCredentials(oauthProvider(), "api", srv.URL)
	m.HTTPClient = srv.Client()

	header := http.Header{}
	require.NoError(t, m.Apply(context.Background(), header))
	assert.Equal(t, "Bearer token-a", header.Get("Authorization"))
	assert.Equal(t, int64(1), exchanges.Load())
}

func TestOAuth2TokenCached(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges)
	defer srv.Close()

	m := NewOAuth2ClientCredentials(oauthProvider(), "api", srv.URL)
	m.HTTPClient = srv.Client()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Apply(ctx, http.Header{}))
	}
	assert.Equal(t, int64(1), exchanges.Load(), "cached token must be reused")
}

func TestOAuth2ConcurrentRefreshSingleFlight(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges)
	defer srv.Close()

	m := NewOAuth2ClientCredentials(oauthProvider(), "api", srv.URL)
	m.HTTPClient = srv.Client()

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Apply(context.Background(), http.Header{})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), exchanges.Load(), "concurrent callers must coalesce into one exchange")
}

func TestOAuth2ExpiredTokenRefreshed(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges)
	defer srv.Close()

	m := NewOAuth2ClientCredentials(oauthProvider(), "api", srv.URL)
	m.HTTPClient = srv.Client()

	ctx := context.Background()
	require.NoError(t, m.Apply(ctx, http.Header{}))

	// Force the cached token past its refresh point.
	m.mu.Lock()
	m.expiry = time.Now().Add(-time.Second)
	m.mu.Unlock()

	require.NoError(t, m.Apply(ctx, http.Header{}))
	assert.Equal(t, int64(2), exchanges.Load())
}
