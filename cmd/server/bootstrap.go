package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/learnhub-io/learnhub/internal/api"
	"github.com/learnhub-io/learnhub/internal/app"
	"github.com/learnhub-io/learnhub/internal/app/maintenance"
	iauth "github.com/learnhub-io/learnhub/internal/auth"
	"github.com/learnhub-io/learnhub/internal/auth/providers"
	"github.com/learnhub-io/learnhub/internal/cache"
	"github.com/learnhub-io/learnhub/internal/database"
	"github.com/learnhub-io/learnhub/internal/middleware"
	"github.com/learnhub-io/learnhub/internal/services"
	"github.com/learnhub-io/learnhub/pkg/logger"
	"github.com/learnhub-io/learnhub/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      cache.Store
	SessionSvc *iauth.SessionService
	AuditSvc   *services.AuditService
	Cleaner    *maintenance.Cleaner
	Router     *gin.Engine
}

// bootstrapRuntime initialises the database, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	// The rate limiter counts in Redis when available so limits hold across
	// replicas; otherwise counters live in the cache_entries table.
	var limiterStore cache.Store = dbStore
	if stack.Redis != nil {
		limiterStore = stack.Redis
	}

	jwtSvc, err := iauth.NewJWTService(cfg.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.SessionSvc, err = iauth.NewSessionService(stack.DB, jwtSvc, cfg.SessionServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	provider, err := providers.NewLocalProvider(stack.DB, cfg.LocalProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise local provider: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}

	resetSvc, err := iauth.NewPasswordResetService(stack.DB, jwtSvc, stack.SessionSvc, mailer, cfg.PasswordResetConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise password reset service: %w", err)
	}

	limiter, err := iauth.NewRateLimiter(limiterStore, cfg.RateLimiterConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise rate limiter: %w", err)
	}

	stack.AuditSvc, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	userSvc, err := services.NewUserService(stack.DB, stack.AuditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.SessionSvc, resetSvc, stack.AuditSvc, maintenanceOptions(cfg)...)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	var rateStore middleware.RateStore
	switch {
	case stack.Redis != nil:
		rateStore = middleware.NewRedisRateStore(stack.Redis)
	default:
		rateStore = middleware.NewDatabaseRateStore(dbStore)
	}

	stack.Router, err = api.NewRouter(stack.DB, cfg, api.Dependencies{
		JWT:       jwtSvc,
		Sessions:  stack.SessionSvc,
		Provider:  provider,
		Reset:     resetSvc,
		Limiter:   limiter,
		Users:     userSvc,
		Audit:     stack.AuditSvc,
		RateStore: rateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func maintenanceOptions(cfg *app.Config) []maintenance.Option {
	opts := []maintenance.Option{
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
	}
	if spec := strings.TrimSpace(cfg.Maintenance.Schedule); spec != "" {
		opts = append(opts,
			maintenance.WithSessionSchedule(spec),
			maintenance.WithTokenSchedule(spec),
		)
	}
	if raw := strings.TrimSpace(cfg.Maintenance.SessionRetention); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			opts = append(opts, maintenance.WithSessionRetention(d))
		}
	}
	return opts
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if rc, ok := s.Redis.(*cache.RedisClient); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
