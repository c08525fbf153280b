// Package pipeline orchestrates admission for one request: extract key,
// hash, snapshot lookup, rate check, decide. The pipeline holds no locks;
// the only shared structure it touches is the snapshot store's atomic
// pointer, and the only suspension point is the limiter's store call.
package pipeline

import (
	"context"
	"net/http"
	"strings"

	"admission-gateway/internal/apikey"
	"admission-gateway/internal/decision"
	"admission-gateway/internal/ratelimit"
	"admission-gateway/internal/risk"
	"admission-gateway/internal/snapshot"
)

// Stage labels the admission state machine for logs and tests.
type Stage string

const (
	StageReceived       Stage = "received"
	StageKeyExtracted   Stage = "key_extracted"
	StageKeyHashed      Stage = "key_hashed"
	StageConfigResolved Stage = "config_resolved"
	StageRateChecked    Stage = "rate_checked"
	StageDecided        Stage = "decided"
)

// Result is the per-request context created at pipeline entry and discarded
// at response completion. It is owned exclusively by the handling goroutine.
type Result struct {
	Verdict decision.Verdict
	Status  int

	// Project is the resolved entry, nil unless the key hash was found.
	Project *snapshot.ProjectEntry

	KeyHash  string
	ClientIP string
	Path     string
	Method   string

	Rate ratelimit.Outcome

	// Stage is the last stage the request completed before its verdict.
	Stage Stage
}

// Pipeline wires the snapshot store, the limiter and the decision engine.
type Pipeline struct {
	store   *snapshot.Store
	limiter *ratelimit.Limiter
	engine  *decision.Engine
}

func New(store *snapshot.Store, limiter *ratelimit.Limiter, engine *decision.Engine) *Pipeline {
	return &Pipeline{
		store:   store,
		limiter: limiter,
		engine:  engine,
	}
}

// Admit runs the full admission sequence for one request. Every stage is
// synchronous; a failing stage short-circuits straight to the decision so
// no later stage spends work on a request that is already doomed.
func (p *Pipeline) Admit(ctx context.Context, r *http.Request) *Result {
	result := &Result{
		ClientIP: ClientIP(r),
		Path:     r.URL.Path,
		Method:   r.Method,
		Stage:    StageReceived,
	}

	in := decision.Input{
		Signals: risk.Signals{
			Path:             r.URL.Path,
			Method:           r.Method,
			ClientIP:         result.ClientIP,
			UserAgentPresent: r.Header.Get("User-Agent") != "",
		},
	}

	// Key extraction and hashing. A malformed key is treated exactly like a
	// missing one: the raw value never travels further than this block.
	rawKey, err := apikey.Extract(r)
	if err == nil {
		result.Stage = StageKeyExtracted
		if hash, verr := apikey.Validate(rawKey); verr == nil {
			in.KeyPresent = true
			result.KeyHash = hash
			result.Stage = StageKeyHashed
		}
	}

	// Snapshot resolution. Reads the current snapshot once and uses that
	// view for the rest of the request, whatever the refresher does.
	if in.KeyPresent {
		snap := p.store.Current()
		if snap != nil {
			in.ConfigReady = true
			if entry, ok := snap.Lookup(result.KeyHash); ok {
				in.KeyFound = true
				result.Project = entry
				result.Stage = StageConfigResolved
			}
		}
	}

	// Rate check, only when there is a project to charge it against. This
	// is the pipeline's single suspension point and carries its own timeout.
	if in.KeyFound {
		result.Rate = p.limiter.Check(ctx, result.Project.ProjectID, result.KeyHash, result.ClientIP, result.Project.RateLimitPolicy)
		in.RateChecked = true
		in.Rate = result.Rate
		result.Stage = StageRateChecked

		in.Signals.Remaining = result.Rate.Remaining
		in.Signals.RequestsPerWindow = result.Rate.Limit
	}

	result.Verdict = p.engine.Decide(in)
	result.Status = decision.StatusFor(result.Verdict)
	result.Stage = StageDecided

	return result
}

// ClientIP resolves the caller's address, preferring proxy-set headers.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		// First hop is the original client.
		if idx := strings.IndexByte(ip, ','); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx > 0 {
		return host[:idx]
	}
	return host
}
