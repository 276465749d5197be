package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure|rate_limited).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnhub_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// TokenRefreshes counts refresh redemptions by outcome (rotated|replayed|expired|invalid).
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnhub_token_refreshes_total",
			Help: "Total number of refresh token redemptions",
		},
		[]string{"result"},
	)

	// ReplayDetections counts refresh-token reuse events that revoked a session family.
	ReplayDetections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "learnhub_token_replays_total",
			Help: "Total number of detected refresh token replays",
		},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "learnhub_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// PasswordResets counts reset-flow operations by stage (requested|redeemed|rejected).
	PasswordResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnhub_password_resets_total",
			Help: "Total number of password reset operations",
		},
		[]string{"stage"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "learnhub_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
