package httpauth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/syncerr"
)

func TestAuthTransport_RoundTrip(t *testing.T) {
	t.Run("adds bearer token to request", func(t *testing.T) {
		var capturedAuth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := &http.Client{
			Transport: NewAuthTransport(nil, func() (string, error) { return "test-token", nil }),
		}

		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "Bearer test-token", capturedAuth)
	})

	t.Run("no auth header when token is empty", func(t *testing.T) {
		var capturedAuth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := &http.Client{
			Transport: NewAuthTransport(nil, func() (string, error) { return "", nil }),
		}

		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Empty(t, capturedAuth)
	})

	t.Run("classifies a failed token fetch as auth-rejected", func(t *testing.T) {
		client := &http.Client{
			Transport: NewAuthTransport(nil, func() (string, error) {
				return "", errors.New("token fetch failed")
			}),
		}

		_, err := client.Get("http://example.com")
		require.Error(t, err)
		assert.Equal(t, syncerr.AuthRejected, syncerr.KindOf(err))
	})

	t.Run("passes through an already-classified token error untouched", func(t *testing.T) {
		original := syncerr.New(syncerr.TransientNetwork, errors.New("token endpoint unreachable"))
		client := &http.Client{
			Transport: NewAuthTransport(nil, func() (string, error) { return "", original }),
		}

		_, err := client.Get("http://example.com")
		require.Error(t, err)
		assert.Equal(t, syncerr.TransientNetwork, syncerr.KindOf(err))
		assert.ErrorIs(t, err, original)
	})

	t.Run("uses default transport when base is nil", func(t *testing.T) {
		transport := NewAuthTransport(nil, func() (string, error) { return "token", nil })
		assert.Nil(t, transport.Base)
	})

	t.Run("token function called on each request", func(t *testing.T) {
		var callCount int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := &http.Client{
			Transport: NewAuthTransport(nil, func() (string, error) {
				atomic.AddInt32(&callCount, 1)
				return "token", nil
			}),
		}

		for i := 0; i < 3; i++ {
			resp, err := client.Get(server.URL)
			require.NoError(t, err)
			resp.Body.Close()
		}

		assert.EqualValues(t, 3, atomic.LoadInt32(&callCount))
	})
}

func TestTokenProvider(t *testing.T) {
	t.Run("caches token until expiry", func(t *testing.T) {
		var callCount int32
		provider := NewTokenProvider(func() (string, time.Duration, error) {
			count := atomic.AddInt32(&callCount, 1)
			return "token-" + string(rune('0'+count)), 1 * time.Hour, nil
		}, 30*time.Second)

		token1, err := provider.GetToken()
		require.NoError(t, err)
		assert.Equal(t, "token-1", token1)

		token2, err := provider.GetToken()
		require.NoError(t, err)
		assert.Equal(t, "token-1", token2, "second call should use the cached token")

		assert.EqualValues(t, 1, atomic.LoadInt32(&callCount))
	})

	t.Run("refreshes token when expired", func(t *testing.T) {
		var callCount int32
		provider := NewTokenProvider(func() (string, time.Duration, error) {
			count := atomic.AddInt32(&callCount, 1)
			return "token-" + string(rune('0'+count)), 1 * time.Millisecond, nil
		}, 0)

		token1, err := provider.GetToken()
		require.NoError(t, err)
		assert.Equal(t, "token-1", token1)

		time.Sleep(10 * time.Millisecond)

		token2, err := provider.GetToken()
		require.NoError(t, err)
		assert.Equal(t, "token-2", token2)
	})

	t.Run("classifies an unclassified refresh failure as auth-rejected", func(t *testing.T) {
		provider := NewTokenProvider(func() (string, time.Duration, error) {
			return "", 0, errors.New("refresh failed")
		}, 0)

		_, err := provider.GetToken()
		require.Error(t, err)
		assert.Equal(t, syncerr.AuthRejected, syncerr.KindOf(err))
	})

	t.Run("passes through a pre-classified refresh failure", func(t *testing.T) {
		provider := NewTokenProvider(func() (string, time.Duration, error) {
			return "", 0, syncerr.New(syncerr.TransientNetwork, errors.New("unreachable"))
		}, 0)

		_, err := provider.GetToken()
		require.Error(t, err)
		assert.Equal(t, syncerr.TransientNetwork, syncerr.KindOf(err))
	})

	t.Run("concurrent access is safe", func(t *testing.T) {
		var callCount int32
		provider := NewTokenProvider(func() (string, time.Duration, error) {
			atomic.AddInt32(&callCount, 1)
			time.Sleep(10 * time.Millisecond)
			return "token", 1 * time.Hour, nil
		}, 30*time.Second)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				token, err := provider.GetToken()
				assert.NoError(t, err)
				assert.Equal(t, "token", token)
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, atomic.LoadInt32(&callCount), int32(5), "expected <= 5 refresh calls due to caching")
	})
}

func TestNewHTTPClient(t *testing.T) {
	var capturedAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(func() (string, error) { return "my-token", nil })

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "Bearer my-token", capturedAuth)
}
