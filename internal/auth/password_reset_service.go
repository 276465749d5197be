package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/learnhub-io/learnhub/internal/models"
	"github.com/learnhub-io/learnhub/pkg/crypto"
	"github.com/learnhub-io/learnhub/pkg/logger"
	"github.com/learnhub-io/learnhub/pkg/mail"
	"github.com/learnhub-io/learnhub/pkg/metrics"
)

var (
	// ErrResetTokenInvalid is returned for reset tokens that are malformed,
	// expired, or unknown.
	ErrResetTokenInvalid = errors.New("password reset: invalid token")
	// ErrResetTokenConsumed marks an already redeemed reset token.
	ErrResetTokenConsumed = errors.New("password reset: token already consumed")
	// ErrWeakPassword rejects replacement passwords below the minimum length.
	ErrWeakPassword = errors.New("password reset: password too weak")
)

const minPasswordLength = 8

// PasswordResetConfig configures the reset flow.
type PasswordResetConfig struct {
	// ResetURL is the base link embedded in outbound mail; the raw token is
	// appended as a query parameter.
	ResetURL string
	Clock    func() time.Time
}

// PasswordResetService issues and redeems single-use password reset tokens.
// The raw token is a signed JWT of the reset kind so it cannot be replayed
// as an access token; its hash is additionally persisted so redemption is
// exactly-once regardless of signature validity.
type PasswordResetService struct {
	db       *gorm.DB
	jwt      *JWTService
	sessions *SessionService
	mailer   mail.Mailer
	resetURL string
	now      func() time.Time
	log      *zap.Logger
}

// NewPasswordResetService wires the reset flow. The mailer may be nil, in
// which case issued tokens are logged instead of delivered.
func NewPasswordResetService(db *gorm.DB, jwtService *JWTService, sessions *SessionService, mailer mail.Mailer, cfg PasswordResetConfig) (*PasswordResetService, error) {
	if db == nil {
		return nil, errors.New("password reset: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("password reset: jwt service is required")
	}
	if sessions == nil {
		return nil, errors.New("password reset: session service is required")
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &PasswordResetService{
		db:       db,
		jwt:      jwtService,
		sessions: sessions,
		mailer:   mailer,
		resetURL: strings.TrimRight(cfg.ResetURL, "/"),
		now:      clock,
		log:      logger.WithModule("password-reset"),
	}, nil
}

// RequestReset starts the reset flow for an email address. The outcome is
// identical whether or not the address belongs to an account, so callers
// can safely return the same response in every case.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	metrics.PasswordResets.WithLabelValues("requested").Inc()

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		// Swallowed deliberately: a storage hiccup must not reveal
		// account existence through a divergent response.
		s.log.Error("password reset lookup failed", zap.Error(err))
		return nil
	}
	if !user.IsActive {
		return nil
	}

	token, err := s.jwt.GenerateResetToken(user.ID)
	if err != nil {
		s.log.Error("password reset token generation failed", zap.Error(err))
		return nil
	}

	record := &models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: crypto.HashToken(token),
		ExpiresAt: s.now().Add(s.jwt.ResetTokenTTL()),
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		s.log.Error("password reset token persistence failed", zap.Error(err))
		return nil
	}

	s.deliver(ctx, &user, token)
	return nil
}

// RedeemReset consumes a reset token exactly once and replaces the user's
// password. Every active session for the user is revoked on success.
func (s *PasswordResetService) RedeemReset(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		metrics.PasswordResets.WithLabelValues("rejected").Inc()
		return ErrResetTokenInvalid
	}
	if len(newPassword) < minPasswordLength {
		return ErrWeakPassword
	}

	claims, err := s.jwt.ValidateResetToken(token)
	if err != nil {
		metrics.PasswordResets.WithLabelValues("rejected").Inc()
		return ErrResetTokenInvalid
	}

	hash := crypto.HashToken(token)

	var record models.PasswordResetToken
	err = s.db.WithContext(ctx).Take(&record, "token_hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.PasswordResets.WithLabelValues("rejected").Inc()
		return ErrResetTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("password reset: load token: %w", err)
	}

	now := s.now()
	if record.Consumed() {
		metrics.PasswordResets.WithLabelValues("rejected").Inc()
		return ErrResetTokenConsumed
	}
	if record.ExpiresAt.Before(now) {
		metrics.PasswordResets.WithLabelValues("rejected").Inc()
		return ErrResetTokenInvalid
	}
	if record.UserID != claims.UserID {
		metrics.PasswordResets.WithLabelValues("rejected").Inc()
		return ErrResetTokenInvalid
	}

	// Conditional update is the single-use guard: two concurrent
	// redemptions race on consumed_at and exactly one wins.
	consumed := s.db.WithContext(ctx).
		Model(&models.PasswordResetToken{}).
		Where("id = ? AND consumed_at IS NULL", record.ID).
		Update("consumed_at", now)
	if consumed.Error != nil {
		return fmt.Errorf("password reset: consume token: %w", consumed.Error)
	}
	if consumed.RowsAffected == 0 {
		metrics.PasswordResets.WithLabelValues("rejected").Inc()
		return ErrResetTokenConsumed
	}

	passwordHash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("password reset: hash password: %w", err)
	}

	err = s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", record.UserID).
		Update("password", passwordHash).Error
	if err != nil {
		return fmt.Errorf("password reset: update password: %w", err)
	}

	if _, err := s.sessions.RevokeUserSessions(ctx, record.UserID); err != nil {
		s.log.Error("session revocation after password reset failed",
			zap.String("user_id", record.UserID),
			zap.Error(err),
		)
	}

	metrics.PasswordResets.WithLabelValues("redeemed").Inc()
	s.log.Info("password reset completed", zap.String("user_id", record.UserID))
	return nil
}

// PurgeExpired deletes reset token rows past expiry or already consumed.
// Invoked by the maintenance cleaner.
func (s *PasswordResetService) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR consumed_at IS NOT NULL", s.now()).
		Delete(&models.PasswordResetToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("password reset: purge tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *PasswordResetService) deliver(ctx context.Context, user *models.User, token string) {
	if s.mailer == nil {
		s.log.Info("password reset token issued without mailer",
			zap.String("user_id", user.ID),
		)
		return
	}

	link := token
	if s.resetURL != "" {
		link = s.resetURL + "?token=" + token
	}

	msg := mail.Message{
		To:      []string{user.Email},
		Subject: "Reset your LearnHub password",
		Body: fmt.Sprintf(
			"Hello %s,\r\n\r\nA password reset was requested for your account. "+
				"Use the link below within %s to choose a new password:\r\n\r\n%s\r\n\r\n"+
				"If you did not request this, you can ignore this message.\r\n",
			user.FullName, s.jwt.ResetTokenTTL(), link,
		),
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		if errors.Is(err, mail.ErrSMTPDisabled) {
			s.log.Info("password reset mail skipped, smtp disabled",
				zap.String("user_id", user.ID),
			)
			return
		}
		s.log.Error("password reset mail delivery failed",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}
}
