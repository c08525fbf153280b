// Package decision implements the ordered decision table that turns key
// resolution, rate-limit outcome and request signals into a single verdict.
//
// The ordering is the whole point: every ambiguous or failing condition is
// checked before anything can be allowed, so BLOCK-by-default is enforced in
// exactly one place.
package decision

import (
	"admission-gateway/internal/ratelimit"
	"admission-gateway/internal/risk"
)

// Reason identifies why a verdict was reached.
type Reason string

const (
	ReasonMissingKey         Reason = "MISSING_KEY"
	ReasonUnknownKey         Reason = "UNKNOWN_KEY"
	ReasonConfigNotReady     Reason = "CONFIG_NOT_READY"
	ReasonLimiterUnavailable Reason = "LIMITER_UNAVAILABLE"
	ReasonRateLimited        Reason = "RATE_LIMITED"
	ReasonHighRisk           Reason = "HIGH_RISK"
	ReasonOK                 Reason = "OK"

	// ReasonUpstreamError is used only in dispatch logging. The upstream is
	// never a source of a BLOCK decision.
	ReasonUpstreamError Reason = "UPSTREAM_ERROR"
)

// Verdict is the final admission result for one request.
type Verdict struct {
	Allow     bool
	RiskScore int
	Reason    Reason
}

// Input carries everything the engine needs. The engine itself performs no
// I/O; the pipeline collects these fields before calling Decide.
type Input struct {
	// KeyPresent is false when the key header is absent or malformed.
	KeyPresent bool
	// ConfigReady is false before the first snapshot install.
	ConfigReady bool
	// KeyFound is true when the key hash resolved to a project entry.
	KeyFound bool
	// RateChecked is true when the limiter was actually consulted.
	RateChecked bool
	Rate        ratelimit.Outcome
	Signals     risk.Signals
}

// Engine evaluates the decision table with a pluggable scoring policy.
type Engine struct {
	scorer         risk.Scorer
	blockThreshold int
}

// NewEngine creates an engine. A nil scorer falls back to the v1 heuristics;
// an out-of-range threshold falls back to 90.
func NewEngine(scorer risk.Scorer, blockThreshold int) *Engine {
	if scorer == nil {
		scorer = risk.NewHeuristicScorer()
	}
	if blockThreshold < 1 || blockThreshold > 100 {
		blockThreshold = 90
	}
	return &Engine{
		scorer:         scorer,
		blockThreshold: blockThreshold,
	}
}

// ScorerName returns the active scoring policy version.
func (e *Engine) ScorerName() string {
	return e.scorer.Name()
}

// Decide walks the decision table in order; the first match wins.
//
// A missing key blocks regardless of any other state. Config readiness is
// checked before the lookup result so that a cold gateway reports
// CONFIG_NOT_READY rather than misclassifying every key as unknown.
func (e *Engine) Decide(in Input) Verdict {
	if !in.KeyPresent {
		return Verdict{Allow: false, Reason: ReasonMissingKey}
	}

	if !in.ConfigReady {
		return Verdict{Allow: false, Reason: ReasonConfigNotReady}
	}

	if !in.KeyFound {
		return Verdict{Allow: false, Reason: ReasonUnknownKey}
	}

	if !in.RateChecked || in.Rate.Unavailable {
		return Verdict{Allow: false, Reason: ReasonLimiterUnavailable}
	}

	if !in.Rate.Allowed {
		return Verdict{Allow: false, RiskScore: 100, Reason: ReasonRateLimited}
	}

	score := e.scorer.Score(in.Signals)
	if score >= e.blockThreshold {
		return Verdict{Allow: false, RiskScore: score, Reason: ReasonHighRisk}
	}

	return Verdict{Allow: true, RiskScore: score, Reason: ReasonOK}
}

// StatusFor maps a verdict to the terminal HTTP status of the admission
// stage. Upstream dispatch errors are mapped by the proxy, not here.
func StatusFor(v Verdict) int {
	switch v.Reason {
	case ReasonMissingKey, ReasonUnknownKey:
		return 401
	case ReasonRateLimited:
		return 429
	case ReasonHighRisk:
		return 403
	case ReasonConfigNotReady, ReasonLimiterUnavailable:
		return 503
	default:
		return 200
	}
}
