package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	}))
}

func newTestCache(tokenURL string) *Cache {
	c := New("tenant", "client", "secret", "scope")
	c.conf.TokenURL = tokenURL
	return c
}

func TestGetTokenFetchesAndCachesUntilExpiry(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits)
	defer srv.Close()

	c := newTestCache(srv.URL)
	tok, exp, err := c.GetToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)
	require.True(t, exp.After(time.Now()))
	require.True(t, exp.Before(time.Now().Add(3600*time.Second)), "expiry margin subtracted")

	_, _, err = c.GetToken(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&hits), "second call served from cache")
}

func TestInvalidateForcesRefetch(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits)
	defer srv.Close()

	c := newTestCache(srv.URL)
	_, _, err := c.GetToken(context.Background())
	require.NoError(t, err)

	c.Invalidate()
	_, _, err = c.GetToken(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestConcurrentGetTokenCoalescesIntoSingleRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-coalesced","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	c := newTestCache(srv.URL)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, _, err := c.GetToken(context.Background())
			require.NoError(t, err)
			require.Equal(t, "tok-coalesced", tok)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, atomic.LoadInt32(&hits), "all concurrent callers coalesce onto one request")
}

func TestGetTokenSurfacesAuthenticationErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	c := newTestCache(srv.URL)
	_, _, err := c.GetToken(context.Background())
	require.Error(t, err)
}
