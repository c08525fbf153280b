package refresher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-gateway/internal/snapshot"
)

func newTestRefresher(serverURL string, store *snapshot.Store) *Refresher {
	client := NewClient(ClientConfig{
		BaseURL: serverURL,
		Secret:  "test-secret",
		Timeout: 2 * time.Second,
	}, nil)

	return New(client, store, Config{
		Interval:           time.Hour, // the tests drive refreshOnce directly
		StalenessThreshold: 5 * time.Minute,
	}, nil)
}

func TestRefresher_RefreshOnce_InstallsSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testConfigBody))
	}))
	defer server.Close()

	store := snapshot.NewStore()
	r := newTestRefresher(server.URL, store)

	require.False(t, store.Ready())

	r.refreshOnce(context.Background())

	require.True(t, store.Ready())
	snap := store.Current()
	assert.Equal(t, int64(1), snap.Version())
	assert.Equal(t, 2, snap.ProjectCount())
	assert.Equal(t, 2, snap.KeyCount())
}

func TestRefresher_RefreshOnce_VersionIncrementsPerCycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testConfigBody))
	}))
	defer server.Close()

	store := snapshot.NewStore()
	r := newTestRefresher(server.URL, store)

	r.refreshOnce(context.Background())
	r.refreshOnce(context.Background())
	r.refreshOnce(context.Background())

	assert.Equal(t, int64(3), store.Current().Version())
}

func TestRefresher_RefreshOnce_FetchFailureRetainsSnapshot(t *testing.T) {
	var failing atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(testConfigBody))
	}))
	defer server.Close()

	store := snapshot.NewStore()
	r := newTestRefresher(server.URL, store)

	r.refreshOnce(context.Background())
	require.True(t, store.Ready())
	installed := store.Current()

	failing.Store(true)
	r.refreshOnce(context.Background())

	// The failed cycle leaves the previous snapshot serving.
	assert.Same(t, installed, store.Current())
}

func TestRefresher_RefreshOnce_InvalidDocumentRetainsSnapshot(t *testing.T) {
	var invalid atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if invalid.Load() {
			// Structurally valid JSON that fails snapshot validation: the
			// key hash is not 64 hex characters.
			w.Write([]byte(`{"projects":[{"id":"p","upstream_url":"http://u:1","api_keys":["short"]}]}`))
			return
		}
		w.Write([]byte(testConfigBody))
	}))
	defer server.Close()

	store := snapshot.NewStore()
	r := newTestRefresher(server.URL, store)

	r.refreshOnce(context.Background())
	installed := store.Current()
	require.NotNil(t, installed)

	invalid.Store(true)
	r.refreshOnce(context.Background())

	assert.Same(t, installed, store.Current())
}

func TestRefresher_StartStop(t *testing.T) {
	var fetches atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write([]byte(testConfigBody))
	}))
	defer server.Close()

	store := snapshot.NewStore()
	r := newTestRefresher(server.URL, store)

	r.Start()

	// The first fetch is immediate; wait for it rather than for the interval.
	deadline := time.After(3 * time.Second)
	for !store.Ready() {
		select {
		case <-deadline:
			t.Fatal("store never became ready after Start")
		case <-time.After(10 * time.Millisecond):
		}
	}

	r.Stop()
	r.Stop() // idempotent

	assert.GreaterOrEqual(t, fetches.Load(), int64(1))
	assert.True(t, store.Ready())
}

func TestRefresher_JitteredInterval(t *testing.T) {
	r := New(nil, snapshot.NewStore(), Config{Interval: 60 * time.Second}, nil)

	for i := 0; i < 100; i++ {
		interval := r.jitteredInterval()
		assert.GreaterOrEqual(t, interval, 60*time.Second)
		assert.Less(t, interval, 66*time.Second)
	}
}
