package protocol

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/forager/pkg/auth"
	"github.com/cuemby/forager/pkg/credentials"
)

func TestHTTPManagerStreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	m := NewHTTPManager(HTTPConfig{})
	resp, err := m.Do(context.Background(), http.MethodGet, srv.URL, nil, true)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestHTTPManagerHeaderComposition(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	provider := credentials.NewStaticProvider(map[string]map[string]string{
		"api": {"token": "tok"},
	})
	m := NewHTTPManager(HTTPConfig{
		DefaultHeaders: map[string]string{
			"User-Agent": "forager/1.0",
			"Accept":     "text/html",
		},
		Auth: &auth.Bearer{Provider: provider, ConfigName: "api"},
	})

	resp, err := m.Do(context.Background(), http.MethodGet, srv.URL, map[string]string{
		"Accept": "application/json", // caller wins over default
	}, true)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "forager/1.0", got.Get("User-Agent"))
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
}

func TestHTTPManagerStatusNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewHTTPManager(HTTPConfig{MaxRetries: 3})
	resp, err := m.Do(context.Background(), http.MethodGet, srv.URL, nil, true)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int64(1), hits.Load(), "status codes are not retried")
}

func TestHTTPManagerTransportFailureSurfaces(t *testing.T) {
	m := NewHTTPManager(HTTPConfig{MaxRetries: 0, Timeout: time.Second})
	_, err := m.Do(context.Background(), http.MethodGet, "http://127.0.0.1:1", nil, true)
	assert.Error(t, err)
}

func TestHTTPManagerNoFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	m := NewHTTPManager(HTTPConfig{})
	resp, err := m.Do(context.Background(), http.MethodGet, srv.URL, nil, false)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/elsewhere", resp.Header.Get("Location"))
}

func TestHTTPManagerRedirectCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	m := NewHTTPManager(HTTPConfig{MaxRedirects: 3})
	_, err := m.Do(context.Background(), http.MethodGet, srv.URL, nil, true)
	assert.Error(t, err, "unbounded redirect chain must be cut off")
}

func TestHTTPManagerRateLimitLowerBound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	const rps = 20.0
	const n = 5
	m := NewHTTPManager(HTTPConfig{RateLimitRPS: rps})

	start := time.Now()
	for i := 0; i < n; i++ {
		resp, err := m.Do(context.Background(), http.MethodGet, srv.URL, nil, true)
		require.NoError(t, err)
		resp.Body.Close()
	}
	elapsed := time.Since(start)

	minElapsed := time.Duration(float64(n-1) / rps * float64(time.Second))
	assert.GreaterOrEqual(t, elapsed+10*time.Millisecond, minElapsed,
		"N serialized requests must take at least (N-1)/r")
}
