package app

import (
	"github.com/learnhub-io/learnhub/internal/auth"
	"github.com/learnhub-io/learnhub/internal/auth/providers"
)

// JWTServiceConfig converts loaded configuration into JWT service options.
func (c *Config) JWTServiceConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Secret:         c.Auth.JWT.Secret,
		Issuer:         c.Auth.JWT.Issuer,
		AccessTokenTTL: c.Auth.JWT.TTL,
		ResetTokenTTL:  c.Auth.JWT.ResetTTL,
	}
}

// SessionServiceConfig converts loaded configuration into session service options.
func (c *Config) SessionServiceConfig() auth.SessionConfig {
	return auth.SessionConfig{
		RefreshTokenTTL: c.Auth.Session.RefreshTTL,
		RefreshLength:   c.Auth.Session.RefreshLength,
		StoreTimeout:    c.Auth.Session.StoreTimeout,
	}
}

// LocalProviderConfig converts loaded configuration into local provider options.
func (c *Config) LocalProviderConfig() providers.LocalConfig {
	return providers.LocalConfig{
		LockoutThreshold: c.Auth.Local.LockoutThreshold,
		LockoutDuration:  c.Auth.Local.LockoutDuration,
	}
}

// RateLimiterConfig converts loaded configuration into rate limiter options.
// Zero limits or windows fall back to the built-in defaults per action.
func (c *Config) RateLimiterConfig() auth.RateLimiterConfig {
	rules := auth.DefaultRateRules()

	entries := map[string]RateRuleEntry{
		auth.ActionLogin:          c.Auth.RateLimit.Login,
		auth.ActionRefresh:        c.Auth.RateLimit.Refresh,
		auth.ActionForgotPassword: c.Auth.RateLimit.Forgot,
		auth.ActionRegister:       c.Auth.RateLimit.Register,
	}

	for action, entry := range entries {
		rule := rules[action]
		if entry.Limit > 0 {
			rule.Limit = entry.Limit
		}
		if entry.Window > 0 {
			rule.Window = entry.Window
		}
		rules[action] = rule
	}

	return auth.RateLimiterConfig{
		Rules:    rules,
		FailOpen: c.Auth.RateLimit.FailOpen,
	}
}

// PasswordResetConfig converts loaded configuration into reset service options.
func (c *Config) PasswordResetConfig() auth.PasswordResetConfig {
	return auth.PasswordResetConfig{
		ResetURL: c.Auth.Reset.URL,
	}
}
