package trafficlog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-gateway/internal/refresher"
)

func TestEmitter_Delivery(t *testing.T) {
	var mu sync.Mutex
	var received []Event
	var gotSecret string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))

		mu.Lock()
		received = append(received, event)
		gotSecret = r.Header.Get(refresher.SecretHeader)
		mu.Unlock()
	}))
	defer server.Close()

	emitter := NewEmitter(Config{
		BaseURL: server.URL,
		Secret:  "traffic-secret",
	}, nil)
	emitter.Start()
	defer emitter.Stop()

	emitter.Emit(Event{
		Timestamp:  time.Now().UTC(),
		ProjectID:  "proj-1",
		Path:       "/v1/completions",
		Method:     "POST",
		ClientIP:   "203.0.113.10",
		Status:     200,
		Decision:   "ALLOW",
		ReasonCode: "OK",
		RiskScore:  5,
		LatencyMS:  12,
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "traffic-secret", gotSecret)
	assert.Equal(t, "proj-1", received[0].ProjectID)
	assert.Equal(t, "ALLOW", received[0].Decision)
	assert.Equal(t, "OK", received[0].ReasonCode)
	assert.Equal(t, 200, received[0].Status)
}

func TestEmitter_EmitNeverBlocks(t *testing.T) {
	// No drain goroutine running and a tiny queue: every Emit past the first
	// two must drop instead of blocking.
	emitter := NewEmitter(Config{BaseURL: "http://127.0.0.1:1", QueueSize: 2}, nil)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			emitter.Emit(Event{Path: "/v1/x", Status: 200})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked with a full queue")
	}

	assert.Len(t, emitter.queue, 2)
}

func TestEmitter_ControlPlaneDownDoesNotStall(t *testing.T) {
	emitter := NewEmitter(Config{
		BaseURL:     "http://127.0.0.1:1",
		SendTimeout: 50 * time.Millisecond,
	}, nil)
	emitter.Start()

	for i := 0; i < 10; i++ {
		emitter.Emit(Event{Path: "/v1/x", Status: 200})
	}

	// Stop must return promptly even though every delivery fails.
	stopped := make(chan struct{})
	go func() {
		emitter.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung while the control plane was down")
	}
}

func TestEmitter_StopIsIdempotent(t *testing.T) {
	emitter := NewEmitter(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	emitter.Start()

	emitter.Stop()
	emitter.Stop()
}
