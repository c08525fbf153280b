package refresher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-gateway/internal/circuitbreaker"
	"admission-gateway/internal/common/errors"
)

const testConfigBody = `{
	"projects": [
		{
			"id": "proj-1",
			"upstream_url": "http://upstream-a.internal:8080",
			"api_keys": ["` + "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" + `"],
			"rate_limit": {"requests_per_window": 120, "window_seconds": 60, "burst": 10}
		},
		{
			"id": "proj-2",
			"upstream_url": "http://upstream-b.internal:8080",
			"api_keys": ["` + "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" + `"]
		}
	]
}`

func TestClient_Fetch(t *testing.T) {
	var gotSecret, gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(SecretHeader)
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(testConfigBody))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{
		BaseURL: server.URL,
		Secret:  "test-worker-secret-123",
	}, nil)

	entries, err := client.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "test-worker-secret-123", gotSecret)
	assert.Equal(t, "/internal/worker/config", gotPath)

	require.Len(t, entries, 2)
	assert.Equal(t, "proj-1", entries[0].ProjectID)
	assert.Equal(t, "http://upstream-a.internal:8080", entries[0].UpstreamBaseURL)
	require.NotNil(t, entries[0].RateLimitPolicy)
	assert.Equal(t, 120, entries[0].RateLimitPolicy.RequestsPerWindow)
	assert.Equal(t, time.Minute, entries[0].RateLimitPolicy.Window)
	assert.Equal(t, 10, entries[0].RateLimitPolicy.Burst)

	assert.Equal(t, "proj-2", entries[1].ProjectID)
	assert.Nil(t, entries[1].RateLimitPolicy)
}

func TestClient_Fetch_Failures(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad secret", http.StatusForbidden)
		}))
		defer server.Close()

		client := NewClient(ClientConfig{BaseURL: server.URL, Secret: "wrong"}, nil)

		entries, err := client.Fetch(context.Background())
		require.Error(t, err)
		assert.Nil(t, entries)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
		assert.Contains(t, err.Error(), "403")
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}))
		defer server.Close()

		client := NewClient(ClientConfig{BaseURL: server.URL, Secret: "s"}, nil)

		_, err := client.Fetch(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	})

	t.Run("empty project list", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"projects": []}`))
		}))
		defer server.Close()

		client := NewClient(ClientConfig{BaseURL: server.URL, Secret: "s"}, nil)

		_, err := client.Fetch(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	t.Run("control plane unreachable", func(t *testing.T) {
		client := NewClient(ClientConfig{
			BaseURL: "http://127.0.0.1:1",
			Secret:  "s",
			Timeout: 500 * time.Millisecond,
		}, nil)

		_, err := client.Fetch(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	})
}

func TestClient_Fetch_BreakerOpensOnRepeatedFailure(t *testing.T) {
	var hits int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := circuitbreaker.New("control-plane-test", circuitbreaker.ControlPlaneConfig, nil)
	client := NewClient(ClientConfig{BaseURL: server.URL, Secret: "s"}, breaker)

	// Trip the breaker, then confirm further fetches fail fast without
	// reaching the server.
	for i := 0; i < 3; i++ {
		_, err := client.Fetch(context.Background())
		require.Error(t, err)
	}
	hitsWhenOpen := hits

	for i := 0; i < 5; i++ {
		_, err := client.Fetch(context.Background())
		require.Error(t, err)
	}

	assert.True(t, breaker.IsOpen())
	assert.Equal(t, hitsWhenOpen, hits)
}
