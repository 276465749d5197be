package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/learnhub-io/learnhub/internal/models"
	"github.com/learnhub-io/learnhub/pkg/crypto"
	"github.com/learnhub-io/learnhub/pkg/logger"
	"github.com/learnhub-io/learnhub/pkg/metrics"
)

// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
const DefaultRefreshTokenTTL = 7 * 24 * time.Hour

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	RefreshTokenTTL time.Duration
	RefreshLength   int
	StoreTimeout    time.Duration
	Clock           func() time.Time
}

// SessionMetadata captures contextual information about the client.
// Diagnostic only; never used for authorization decisions.
type SessionMetadata struct {
	IPAddress  string
	DeviceInfo string
}

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

var (
	// ErrSessionInvalidToken is returned when the supplied refresh token is
	// malformed or matches no redeemable session.
	ErrSessionInvalidToken = errors.New("session: invalid token")
	// ErrSessionExpired signals that a refresh token has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionReused marks a replayed refresh token. The whole session
	// family is revoked before this error is returned.
	ErrSessionReused = errors.New("session: token reused")
)

// SessionService owns the refresh-token rotation protocol: issuing sessions
// at login, rotating exactly once per redemption, detecting replays, and
// revoking session families.
type SessionService struct {
	store      SessionStore
	db         *gorm.DB
	jwt        *JWTService
	refreshTTL time.Duration
	tokenLen   int
	now        func() time.Time
	log        *zap.Logger
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	store, err := NewGormSessionStore(db, cfg.StoreTimeout)
	if err != nil {
		return nil, err
	}

	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}

	length := cfg.RefreshLength
	if length <= 0 {
		length = 48
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		store:      store,
		db:         db,
		jwt:        jwtService,
		refreshTTL: ttl,
		tokenLen:   length,
		now:        clock,
		log:        logger.WithModule("session"),
	}, nil
}

// CreateSession generates a new session for the user and issues a fresh token pair.
// The raw refresh token is returned to the caller; only its hash is persisted.
func (s *SessionService) CreateSession(ctx context.Context, user *models.User, meta SessionMetadata) (TokenPair, *models.Session, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return TokenPair{}, nil, errors.New("session service: user is required")
	}

	now := s.now()
	sessionID := uuid.NewString()

	refreshToken, err := s.mintRefreshToken(sessionID)
	if err != nil {
		return TokenPair{}, nil, err
	}

	session := &models.Session{
		ID:               sessionID,
		UserID:           user.ID,
		RefreshTokenHash: crypto.HashToken(refreshToken),
		RotationCounter:  0,
		IPAddress:        strings.TrimSpace(meta.IPAddress),
		DeviceInfo:       strings.TrimSpace(meta.DeviceInfo),
		ExpiresAt:        now.Add(s.refreshTTL),
		IsActive:         true,
		CreatedAt:        now,
		LastUsedAt:       now,
	}

	if err := s.store.Create(ctx, session); err != nil {
		return TokenPair{}, nil, err
	}

	metrics.ActiveSessions.Inc()

	accessToken, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    user.ID,
		Role:      user.Role,
		SessionID: session.ID,
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, session, nil
}

// RefreshSession redeems a refresh token: exactly one concurrent redemption
// of a still-valid token rotates the session; every other outcome is an
// error, and a replayed token burns the whole session family.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (TokenPair, *models.Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, nil, ErrSessionInvalidToken
	}

	now := s.now()
	hash := crypto.HashToken(refreshToken)

	session, err := s.store.FindActiveByHash(ctx, hash)
	if err != nil {
		return TokenPair{}, nil, err
	}

	if session == nil {
		// The hash matches no active session. Attribute the token to its
		// family via the embedded session id: a superseded hash against a
		// live session is a replay and burns the lineage.
		return TokenPair{}, nil, s.handleUnmatchedToken(ctx, refreshToken, now)
	}

	if session.ExpiresAt.Before(now) {
		revoked, revokeErr := s.store.Revoke(ctx, session.ID, now)
		if revokeErr != nil {
			return TokenPair{}, nil, revokeErr
		}
		metrics.ActiveSessions.Sub(float64(revoked))
		metrics.TokenRefreshes.WithLabelValues("expired").Inc()
		return TokenPair{}, nil, ErrSessionExpired
	}

	newToken, err := s.mintRefreshToken(session.ID)
	if err != nil {
		return TokenPair{}, nil, err
	}

	expiresAt := now.Add(s.refreshTTL)
	rotated, err := s.store.Rotate(ctx, session.ID, session.RotationCounter, crypto.HashToken(newToken), expiresAt, now)
	if err != nil {
		return TokenPair{}, nil, err
	}

	if !rotated {
		// Lost the compare-and-swap: a concurrent redemption already
		// consumed this token. Same treatment as a replay.
		return TokenPair{}, nil, s.revokeOnReplay(ctx, session, now)
	}

	session.RefreshTokenHash = crypto.HashToken(newToken)
	session.RotationCounter++
	session.ExpiresAt = expiresAt
	session.LastUsedAt = now

	user, err := s.lookupUser(ctx, session.UserID)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if user == nil || !user.IsActive {
		revoked, revokeErr := s.store.Revoke(ctx, session.ID, now)
		if revokeErr != nil {
			return TokenPair{}, nil, revokeErr
		}
		metrics.ActiveSessions.Sub(float64(revoked))
		return TokenPair{}, nil, ErrSessionInvalidToken
	}

	accessToken, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    user.ID,
		Role:      user.Role,
		SessionID: session.ID,
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	metrics.TokenRefreshes.WithLabelValues("rotated").Inc()

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newToken,
	}, session, nil
}

// RevokeSession marks a session inactive. Idempotent: revoking an already
// revoked or unknown session is not an error.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionInvalidToken
	}

	revoked, err := s.store.Revoke(ctx, sessionID, s.now())
	if err != nil {
		return err
	}
	if revoked > 0 {
		metrics.ActiveSessions.Sub(float64(revoked))
	}
	return nil
}

// RevokeUserSessions revokes every active session belonging to a user.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, ErrSessionInvalidToken
	}

	revoked, err := s.store.RevokeAllForUser(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	if revoked > 0 {
		metrics.ActiveSessions.Sub(float64(revoked))
	}
	return revoked, nil
}

// ListUserSessions returns the active sessions for a user, newest first.
func (s *SessionService) ListUserSessions(ctx context.Context, userID string) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("last_used_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("session service: list sessions: %w", err)
	}
	return sessions, nil
}

// SessionOwner reports the owning user of a session, or empty when unknown.
func (s *SessionService) SessionOwner(ctx context.Context, sessionID string) (string, error) {
	session, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", nil
	}
	return session.UserID, nil
}

// SweepExpired deactivates sessions already past expiry. Best effort; safe to
// run concurrently with live traffic since it only touches expired rows.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	swept, err := s.store.SweepExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		metrics.ActiveSessions.Sub(float64(swept))
	}
	return swept, nil
}

// PurgeInactive deletes long-inactive session rows. Maintenance only; the
// request path never deletes sessions.
func (s *SessionService) PurgeInactive(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Where("is_active = ? AND revoked_at < ?", false, cutoff).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: purge sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *SessionService) handleUnmatchedToken(ctx context.Context, refreshToken string, now time.Time) error {
	sessionID, ok := sessionIDFromToken(refreshToken)
	if !ok {
		metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
		return ErrSessionInvalidToken
	}

	session, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil || !session.IsActive {
		metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
		return ErrSessionInvalidToken
	}
	if session.ExpiresAt.Before(now) {
		metrics.TokenRefreshes.WithLabelValues("expired").Inc()
		return ErrSessionExpired
	}

	return s.revokeOnReplay(ctx, session, now)
}

// revokeOnReplay burns the whole session family and reports the reuse. The
// caller maps this to a generic client response; the log line and metric are
// the security-monitoring signal.
func (s *SessionService) revokeOnReplay(ctx context.Context, session *models.Session, now time.Time) error {
	revoked, err := s.store.Revoke(ctx, session.ID, now)
	if err != nil {
		return err
	}
	if revoked > 0 {
		metrics.ActiveSessions.Sub(float64(revoked))
	}

	metrics.TokenRefreshes.WithLabelValues("replayed").Inc()
	metrics.ReplayDetections.Inc()

	s.log.Warn("refresh token replay detected; session family revoked",
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID),
		zap.Int64("rotation_counter", session.RotationCounter),
	)

	return ErrSessionReused
}

func (s *SessionService) lookupUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session service: load user: %w", err)
	}
	return &user, nil
}

// mintRefreshToken produces an opaque token that embeds its session id so a
// superseded value can still be attributed to its family during replay
// detection. Only the hash of the full value is ever stored.
func (s *SessionService) mintRefreshToken(sessionID string) (string, error) {
	random, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return "", fmt.Errorf("session service: generate refresh token: %w", err)
	}
	return sessionID + "." + random, nil
}

func sessionIDFromToken(token string) (string, bool) {
	idx := strings.IndexByte(token, '.')
	if idx <= 0 {
		return "", false
	}
	id := token[:idx]
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}
