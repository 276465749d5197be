package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/learnhub-io/learnhub/internal/cache"
	"github.com/learnhub-io/learnhub/pkg/logger"
)

// Rate-limited actions. Each carries its own threshold and window.
const (
	ActionLogin          = "login"
	ActionRefresh        = "refresh"
	ActionForgotPassword = "forgot-password"
	ActionRegister       = "register"
)

// RateRule defines the threshold for one action: at most Limit recorded
// attempts per identity within Window.
type RateRule struct {
	Limit  int
	Window time.Duration
}

// RateLimiterConfig configures per-action rules and the backing-store
// failure policy. FailOpen true means a store failure admits the request.
type RateLimiterConfig struct {
	Rules    map[string]RateRule
	FailOpen bool
}

// DefaultRateRules returns the standard per-action limits.
func DefaultRateRules() map[string]RateRule {
	return map[string]RateRule{
		ActionLogin:          {Limit: 5, Window: 15 * time.Minute},
		ActionRefresh:        {Limit: 10, Window: time.Minute},
		ActionForgotPassword: {Limit: 3, Window: time.Hour},
		ActionRegister:       {Limit: 3, Window: time.Minute},
	}
}

// RateDecision is the outcome of a limiter check.
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter tracks attempt counts per (identity, action) in the shared
// cache store. A store failure never propagates to the request path: the
// configured policy decides whether the request is admitted.
type RateLimiter struct {
	store    cache.Store
	rules    map[string]RateRule
	failOpen bool
	log      *zap.Logger
}

// NewRateLimiter builds a limiter on top of the shared cache store.
func NewRateLimiter(store cache.Store, cfg RateLimiterConfig) (*RateLimiter, error) {
	if store == nil {
		return nil, errors.New("rate limiter: store is required")
	}

	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRateRules()
	}

	return &RateLimiter{
		store:    store,
		rules:    rules,
		failOpen: cfg.FailOpen,
		log:      logger.WithModule("ratelimit"),
	}, nil
}

// Check reports whether another attempt is currently admissible for the
// identity and action. It does not consume an attempt.
func (r *RateLimiter) Check(ctx context.Context, identity, action string) RateDecision {
	rule, ok := r.rules[action]
	if !ok || rule.Limit <= 0 {
		return RateDecision{Allowed: true, Remaining: -1}
	}

	value, found, err := r.store.Get(ctx, r.key(identity, action))
	if err != nil {
		return r.storeFailure(action, err)
	}
	if !found {
		return RateDecision{Allowed: true, Remaining: rule.Limit}
	}

	count, parseErr := strconv.ParseInt(string(value), 10, 64)
	if parseErr != nil {
		// A corrupt counter is treated as absent rather than punishing
		// the identity for a store artifact.
		return RateDecision{Allowed: true, Remaining: rule.Limit}
	}

	remaining := rule.Limit - int(count)
	if remaining > 0 {
		return RateDecision{Allowed: true, Remaining: remaining}
	}
	return RateDecision{Allowed: false, Remaining: 0, RetryAfter: rule.Window}
}

// Record consumes one attempt for the identity and action and returns the
// updated decision. Login records only failed attempts; refresh and the
// reset flow record every attempt.
func (r *RateLimiter) Record(ctx context.Context, identity, action string) RateDecision {
	rule, ok := r.rules[action]
	if !ok || rule.Limit <= 0 {
		return RateDecision{Allowed: true, Remaining: -1}
	}

	count, ttl, err := r.store.IncrementWithTTL(ctx, r.key(identity, action), rule.Window)
	if err != nil {
		return r.storeFailure(action, err)
	}

	remaining := rule.Limit - int(count)
	if remaining >= 0 {
		return RateDecision{Allowed: true, Remaining: remaining, RetryAfter: ttl}
	}
	return RateDecision{Allowed: false, Remaining: 0, RetryAfter: ttl}
}

// Reset clears the counter for an identity and action, typically after a
// successful login.
func (r *RateLimiter) Reset(ctx context.Context, identity, action string) {
	if err := r.store.Delete(ctx, r.key(identity, action)); err != nil {
		r.log.Warn("rate limit reset failed", zap.String("action", action), zap.Error(err))
	}
}

func (r *RateLimiter) storeFailure(action string, err error) RateDecision {
	r.log.Warn("rate limit store failure",
		zap.String("action", action),
		zap.Bool("fail_open", r.failOpen),
		zap.Error(err),
	)
	if r.failOpen {
		return RateDecision{Allowed: true, Remaining: -1}
	}
	return RateDecision{Allowed: false, Remaining: 0}
}

func (r *RateLimiter) key(identity, action string) string {
	return "ratelimit:" + action + ":" + strings.ToLower(strings.TrimSpace(identity))
}
