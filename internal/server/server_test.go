package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_StartAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s := New(handler, "0", "", "")

	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.NoError(t, s.Shutdown(ctx))
}

func TestNew_Timeouts(t *testing.T) {
	s := New(http.NotFoundHandler(), "8080", "", "")

	assert.Equal(t, ":8080", s.srv.Addr)
	assert.Equal(t, 10*time.Second, s.srv.ReadHeaderTimeout)
	assert.Equal(t, 120*time.Second, s.srv.IdleTimeout)

	// No WriteTimeout: proxied responses stream for as long as the upstream
	// keeps sending.
	assert.Zero(t, s.srv.WriteTimeout)
}
