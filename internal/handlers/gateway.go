// Package handlers contains the gateway's HTTP entry points: the catch-all
// admission handler and the health check.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"admission-gateway/internal/common/logging"
	"admission-gateway/internal/decision"
	"admission-gateway/internal/pipeline"
	"admission-gateway/internal/proxy"
	"admission-gateway/internal/trafficlog"
)

// rejectionBody is the JSON payload returned on every BLOCK. The gateway
// never answers an ambiguous 200 for a blocked request.
type rejectionBody struct {
	Error      string `json:"error"`
	ReasonCode string `json:"reason_code"`
}

// reasonMessages are the client-facing explanations per reason code.
var reasonMessages = map[decision.Reason]string{
	decision.ReasonMissingKey:         "API key missing or malformed",
	decision.ReasonUnknownKey:         "Invalid API key",
	decision.ReasonConfigNotReady:     "Gateway is initializing",
	decision.ReasonLimiterUnavailable: "Service temporarily unavailable",
	decision.ReasonRateLimited:        "Rate limit exceeded",
	decision.ReasonHighRisk:           "Request blocked",
}

// Gateway handles all client-facing traffic.
type Gateway struct {
	pipeline   *pipeline.Pipeline
	dispatcher *proxy.Dispatcher
	emitter    *trafficlog.Emitter
	logger     logging.Logger
}

// NewGateway creates the gateway handler. The emitter is optional.
func NewGateway(p *pipeline.Pipeline, d *proxy.Dispatcher, emitter *trafficlog.Emitter) *Gateway {
	return &Gateway{
		pipeline:   p,
		dispatcher: d,
		emitter:    emitter,
		logger:     logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "gateway"}),
	}
}

// Handle admits and proxies one request. The admission verdict is produced
// before any byte reaches the upstream; rejections are terminal here.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	result := g.pipeline.Admit(r.Context(), r)

	if !result.Verdict.Allow {
		g.writeRejection(w, result)
		g.record(result, result.Status, time.Since(start))
		return
	}

	status, err := g.dispatcher.Forward(w, r, result.Project.UpstreamBaseURL)
	if err != nil {
		g.logger.Warn("Upstream dispatch failed",
			logging.String("project_id", result.Project.ProjectID),
			logging.String("path", result.Path),
			logging.String("reason_code", string(decision.ReasonUpstreamError)),
			logging.Field{Key: "error", Value: err.Error()},
		)
		g.recordWithReason(result, status, decision.ReasonUpstreamError, time.Since(start))
		return
	}

	g.record(result, status, time.Since(start))
}

func (g *Gateway) writeRejection(w http.ResponseWriter, result *pipeline.Result) {
	msg, ok := reasonMessages[result.Verdict.Reason]
	if !ok {
		msg = "Request blocked"
	}

	if result.Verdict.Reason == decision.ReasonRateLimited {
		w.Header().Set("Retry-After", retryAfterSeconds(result))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	json.NewEncoder(w).Encode(rejectionBody{
		Error:      msg,
		ReasonCode: string(result.Verdict.Reason),
	})
}

func retryAfterSeconds(result *pipeline.Result) string {
	secs := int(time.Until(result.Rate.ResetAt).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// record writes the per-request structured log line and traffic event.
func (g *Gateway) record(result *pipeline.Result, status int, latency time.Duration) {
	g.recordWithReason(result, status, result.Verdict.Reason, latency)
}

func (g *Gateway) recordWithReason(result *pipeline.Result, status int, reason decision.Reason, latency time.Duration) {
	projectID := ""
	if result.Project != nil {
		projectID = result.Project.ProjectID
	}

	decisionLabel := "BLOCK"
	if result.Verdict.Allow {
		decisionLabel = "ALLOW"
	}

	fields := []logging.Field{
		logging.String("project_id", projectID),
		logging.String("path", result.Path),
		logging.String("method", result.Method),
		logging.String("client_ip", result.ClientIP),
		logging.Int("status", status),
		logging.String("decision", decisionLabel),
		logging.String("reason_code", string(reason)),
		logging.Int("risk_score", result.Verdict.RiskScore),
		logging.Int64("latency_ms", latency.Milliseconds()),
	}

	if result.Verdict.Allow {
		g.logger.Info("Request admitted", fields...)
	} else {
		g.logger.Info("Request blocked", fields...)
	}

	if g.emitter != nil {
		g.emitter.Emit(trafficlog.Event{
			Timestamp:  time.Now().UTC(),
			ProjectID:  projectID,
			Path:       result.Path,
			Method:     result.Method,
			ClientIP:   result.ClientIP,
			Status:     status,
			Decision:   decisionLabel,
			ReasonCode: string(reason),
			RiskScore:  result.Verdict.RiskScore,
			LatencyMS:  latency.Milliseconds(),
		})
	}
}
