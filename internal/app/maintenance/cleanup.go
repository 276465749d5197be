package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	iauth "github.com/learnhub-io/learnhub/internal/auth"
	"github.com/learnhub-io/learnhub/internal/services"
	"github.com/learnhub-io/learnhub/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultSessionRetention   = 30 * 24 * time.Hour
	defaultSessionSpec        = "@hourly"
	defaultAuditSpec          = "@daily"
	defaultTokenSpec          = "@daily"
)

// Cleaner coordinates background maintenance tasks: sweeping expired sessions,
// purging revoked session rows, removing spent reset tokens, and pruning stale
// audit logs.
type Cleaner struct {
	sessions *iauth.SessionService
	reset    *iauth.PasswordResetService
	audit    *services.AuditService
	cron     *cron.Cron
	log      *zap.Logger

	retention        int
	sessionRetention time.Duration

	sessionSchedule string
	auditSchedule   string
	tokenSchedule   string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSessionRetention adjusts how long revoked session rows are kept for audit
// purposes before being purged.
func WithSessionRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.sessionRetention = d
		}
	}
}

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithTokenSchedule overrides the cron specification for reset token cleanup.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding cleanup job being skipped.
func NewCleaner(sessions *iauth.SessionService, reset *iauth.PasswordResetService, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:         sessions,
		reset:            reset,
		audit:            audit,
		retention:        defaultAuditRetentionDays,
		sessionRetention: defaultSessionRetention,
		sessionSchedule:  defaultSessionSpec,
		auditSchedule:    defaultAuditSpec,
		tokenSchedule:    defaultTokenSpec,
		log:              logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at
// least one cleanup is enabled.
func (c *Cleaner) Start() error {
	enabled := c.sessions != nil || c.reset != nil || c.audit != nil
	if !enabled {
		return nil
	}

	if c.sessions != nil {
		if _, err := c.cron.AddFunc(c.sessionSchedule, func() {
			ctx := context.Background()
			if _, err := c.sessions.SweepExpired(ctx); err != nil {
				c.log.Warn("session sweep failed", zap.Error(err))
			}
			if _, err := c.sessions.PurgeInactive(ctx, c.sessionRetention); err != nil {
				c.log.Warn("session purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			if _, err := c.audit.CleanupOlderThan(context.Background(), c.retention); err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.reset != nil {
		if _, err := c.cron.AddFunc(c.tokenSchedule, func() {
			if _, err := c.reset.PurgeExpired(context.Background()); err != nil {
				c.log.Warn("reset token cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily used
// in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.sessions != nil {
		if _, err := c.sessions.SweepExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
		if _, err := c.sessions.PurgeInactive(ctx, c.sessionRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.audit.CleanupOlderThan(ctx, c.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.reset != nil {
		if _, err := c.reset.PurgeExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
