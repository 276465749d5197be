package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/learnhub-io/learnhub/internal/app"
	iauth "github.com/learnhub-io/learnhub/internal/auth"
	"github.com/learnhub-io/learnhub/internal/auth/providers"
	"github.com/learnhub-io/learnhub/internal/handlers"
	"github.com/learnhub-io/learnhub/internal/middleware"
	"github.com/learnhub-io/learnhub/internal/services"
)

// Dependencies carries the wired services the router mounts handlers over.
// The caller owns construction so the same graph serves tests and the server.
type Dependencies struct {
	JWT      *iauth.JWTService
	Sessions *iauth.SessionService
	Provider *providers.LocalProvider
	Reset    *iauth.PasswordResetService
	Limiter  *iauth.RateLimiter
	Users    *services.UserService
	Audit    *services.AuditService

	// RateStore backs the coarse per-IP throttle. Optional; a process-local
	// store is used when unset.
	RateStore middleware.RateStore
}

func (d Dependencies) validate() error {
	switch {
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.Sessions == nil:
		return fmt.Errorf("session service must be provided")
	case d.Provider == nil:
		return fmt.Errorf("local provider must be provided")
	case d.Reset == nil:
		return fmt.Errorf("password reset service must be provided")
	case d.Limiter == nil:
		return fmt.Errorf("rate limiter must be provided")
	case d.Users == nil:
		return fmt.Errorf("user service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	// Coarse per-IP throttle over the whole surface; per-action limits are
	// enforced inside the auth handlers.
	rateStore := deps.RateStore
	if rateStore == nil {
		rateStore = middleware.NewMemoryRateStore()
	}
	r.Use(middleware.RateLimitWithStore(rateStore, 300, time.Minute))

	registerHealthRoutes(r, db, cfg)

	authHandler, err := handlers.NewAuthHandler(
		deps.Provider, deps.JWT, deps.Sessions, deps.Reset, deps.Limiter, deps.Users, deps.Audit,
	)
	if err != nil {
		return nil, err
	}

	requireAuth := middleware.Auth(deps.JWT)

	api := r.Group("/api")
	api.Use(requireAuth)

	registerAuthRoutes(r, api, authHandler)

	userHandler, err := handlers.NewUserHandler(deps.Users, deps.Sessions)
	if err != nil {
		return nil, err
	}
	registerUserRoutes(api, userHandler)

	if deps.Audit != nil {
		if err := registerAuditRoutes(api, deps.Audit); err != nil {
			return nil, err
		}
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
