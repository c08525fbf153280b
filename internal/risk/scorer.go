// Package risk computes an advisory risk score for a request. Scorers are
// pure: every signal is collected by the pipeline before scoring, so the
// scoring policy can be swapped or versioned without touching any I/O path.
package risk

import (
	"strings"
)

// Signals are the request attributes a scorer may weigh. The rate-limit
// fields reflect the current window and double as a velocity signal.
type Signals struct {
	Path             string
	Method           string
	ClientIP         string
	UserAgentPresent bool

	Remaining         int
	RequestsPerWindow int
}

// Scorer maps request signals to a score between 0 and 100.
// Implementations must be deterministic and free of I/O.
type Scorer interface {
	// Name identifies the scoring policy version for logs and dashboards.
	Name() string
	Score(s Signals) int
}

// Heuristic weights. Tuned so that no single benign signal crosses the
// default block threshold on its own.
const (
	weightQuotaExhaustion = 40
	weightSuspiciousPath  = 35
	weightMissingAgent    = 25

	// quotaPressureRatio: when less than this fraction of the window quota
	// remains, the client is burning through its budget unusually fast.
	quotaPressureRatio = 0.1
)

// suspiciousPathFragments are probe patterns seen from scanners: traversal,
// dotfile and credential sniffing, admin panel discovery.
var suspiciousPathFragments = []string{
	"../",
	"/.env",
	"/.git",
	"/wp-admin",
	"/wp-login",
	"/phpmyadmin",
	"/etc/passwd",
	"/id_rsa",
}

// HeuristicScorer is the v1 scoring policy.
type HeuristicScorer struct{}

func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

func (h *HeuristicScorer) Name() string {
	return "heuristic/v1"
}

// Score combines quota pressure, path probing and a missing User-Agent.
// The result is clamped to [0, 100].
func (h *HeuristicScorer) Score(s Signals) int {
	score := 0

	if s.RequestsPerWindow > 0 {
		ratio := float64(s.Remaining) / float64(s.RequestsPerWindow)
		if ratio < quotaPressureRatio {
			score += weightQuotaExhaustion
		}
	}

	lowerPath := strings.ToLower(s.Path)
	for _, fragment := range suspiciousPathFragments {
		if strings.Contains(lowerPath, fragment) {
			score += weightSuspiciousPath
			break
		}
	}

	if !s.UserAgentPresent {
		score += weightMissingAgent
	}

	if score > 100 {
		score = 100
	}

	return score
}
