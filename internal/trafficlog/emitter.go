// Package trafficlog ships one event per request to the control plane on a
// fire-and-forget basis. The contract with the hot path is absolute: Emit
// never blocks, never errors and never cares whether the control plane is
// alive. Under pressure events are dropped, not queued unboundedly.
package trafficlog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"admission-gateway/internal/common/logging"
	"admission-gateway/internal/refresher"
)

// trafficPath is the control-plane ingestion endpoint.
const trafficPath = "/internal/traffic"

// Event is one request's traffic record.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	ProjectID  string    `json:"project_id,omitempty"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	ClientIP   string    `json:"ip"`
	Status     int       `json:"status"`
	Decision   string    `json:"decision"`
	ReasonCode string    `json:"reason_code"`
	RiskScore  int       `json:"risk_score"`
	LatencyMS  int64     `json:"latency_ms"`
}

// Config holds emitter settings.
type Config struct {
	BaseURL string
	Secret  string
	// QueueSize bounds in-memory buffering; the default keeps worst-case
	// memory small while riding out short control plane hiccups.
	QueueSize int
	// SendTimeout is the hard deadline per delivery attempt.
	SendTimeout time.Duration
}

// Emitter drains a bounded queue into the control plane from a single
// background goroutine.
type Emitter struct {
	config Config
	http   *http.Client
	queue  chan Event
	logger logging.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewEmitter(config Config, logger logging.Logger) *Emitter {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 300 * time.Millisecond
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Emitter{
		config: config,
		http:   &http.Client{Timeout: config.SendTimeout},
		queue:  make(chan Event, config.QueueSize),
		logger: logger.WithFields(logging.Field{Key: "component", Value: "trafficlog"}),
		done:   make(chan struct{}),
	}
}

// Start launches the drain goroutine.
func (e *Emitter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	go e.drain(ctx)

	e.logger.Info("Traffic emitter started",
		logging.Int("queue_size", e.config.QueueSize),
	)
}

// Stop terminates the drain goroutine. Queued events are abandoned; the
// traffic feed is best-effort.
func (e *Emitter) Stop() {
	e.once.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		<-e.done
	})
}

// Emit enqueues an event without blocking. When the queue is full the event
// is dropped; a congested control plane must never slow the data plane.
func (e *Emitter) Emit(event Event) {
	select {
	case e.queue <- event:
	default:
		e.logger.Debug("Traffic queue full, dropping event")
	}
}

func (e *Emitter) drain(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-e.queue:
			e.send(ctx, event)
		}
	}
}

func (e *Emitter) send(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		e.logger.Debug("Failed to marshal traffic event", logging.Field{Key: "error", Value: err.Error()})
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+trafficPath, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(refresher.SecretHeader, e.config.Secret)

	resp, err := e.http.Do(req)
	if err != nil {
		// Control plane failure must not affect the data plane.
		e.logger.Debug("Traffic send failed, dropped", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	resp.Body.Close()
}
