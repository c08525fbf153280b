// Package ratelimit evaluates per-project request quotas against the shared
// external counter store. The store is the single source of truth for
// counts; the gateway keeps no local counter state, which is what lets any
// number of replicas share one limit.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"admission-gateway/internal/redis"
	"admission-gateway/internal/snapshot"
)

// Outcome is the result of one limit check.
//
// Unavailable is a distinct state, not a variant of Allowed: when the store
// cannot be reached within the deadline, the decision engine fail-closes on
// it rather than guessing.
type Outcome struct {
	Allowed     bool
	Unavailable bool
	// Limit is the effective requests-per-window, after default substitution.
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Config holds limiter configuration.
type Config struct {
	// DefaultPolicy applies when a project entry carries no policy.
	// Unknown policy means the strictest default, never unlimited.
	DefaultPolicy snapshot.RateLimitPolicy

	// Timeout bounds the counter-store call. On expiry the outcome is
	// Unavailable; the limiter never silently allows.
	Timeout time.Duration
}

// DefaultConfig returns the limiter defaults used when the operator
// configures nothing: 60 requests per minute, no burst, 200ms store budget.
func DefaultConfig() *Config {
	return &Config{
		DefaultPolicy: snapshot.RateLimitPolicy{
			RequestsPerWindow: 60,
			Window:            time.Minute,
			Burst:             0,
		},
		Timeout: 200 * time.Millisecond,
	}
}

// Limiter implements a fixed-window counter over the shared store.
type Limiter struct {
	redis  *redis.Client
	config *Config
}

func NewLimiter(redisClient *redis.Client, config *Config) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 200 * time.Millisecond
	}
	if config.DefaultPolicy.RequestsPerWindow <= 0 || config.DefaultPolicy.Window < time.Second {
		config.DefaultPolicy = DefaultConfig().DefaultPolicy
	}

	return &Limiter{
		redis:  redisClient,
		config: config,
	}
}

// Check atomically increments the (project, keyHash, clientIP, window)
// counter and compares it against the policy. Concurrent replicas hitting
// the same counter cannot race past the limit because the increment happens
// on the store side.
func (l *Limiter) Check(ctx context.Context, projectID, keyHash, clientIP string, policy *snapshot.RateLimitPolicy) Outcome {
	// Windows shorter than a second cannot form a bucket; such a policy is
	// treated exactly like a missing one.
	if policy == nil || policy.RequestsPerWindow <= 0 || policy.Window < time.Second {
		policy = &l.config.DefaultPolicy
	}

	now := time.Now()
	bucket := now.Unix() / int64(policy.Window.Seconds())
	resetAt := time.Unix((bucket+1)*int64(policy.Window.Seconds()), 0)

	// No store connection means no counter truth: fail closed.
	if l.redis == nil {
		return Outcome{Unavailable: true, Limit: policy.RequestsPerWindow, ResetAt: resetAt}
	}

	key := windowKey(projectID, keyHash, clientIP, bucket)

	ctx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	// TTL is double the window: the bucket is named by its position, so the
	// TTL only garbage collects dead buckets.
	count, err := l.redis.IncrementWindow(ctx, key, policy.Window*2)
	if err != nil {
		return Outcome{Unavailable: true, Limit: policy.RequestsPerWindow, ResetAt: resetAt}
	}

	remaining := policy.RequestsPerWindow - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Outcome{
		Allowed:   count <= int64(policy.RequestsPerWindow+policy.Burst),
		Limit:     policy.RequestsPerWindow,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// windowKey builds the composite counter key. The window bucket is embedded
// in the key so counters roll over without coordination.
func windowKey(projectID, keyHash, clientIP string, bucket int64) string {
	return fmt.Sprintf("rate_limit:%s:%s:%s:%d", projectID, keyHash, clientIP, bucket)
}
