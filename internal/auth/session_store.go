package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/learnhub-io/learnhub/internal/models"
)

// ErrStorageTimeout marks a session-store call that hit its deadline.
// Callers surface it as a retryable failure; rotations are never retried
// implicitly because they are not idempotent.
var ErrStorageTimeout = errors.New("session store: timeout")

const defaultStoreTimeout = 5 * time.Second

// SessionStore is the durable source of truth for refresh sessions.
//
// Rotate is the concurrency primitive the whole rotation protocol rests on:
// it must be a single atomic conditional write that succeeds only while the
// stored rotation counter still equals expectedCounter. Among concurrent
// redemptions of one token exactly one Rotate reports true; every loser
// observes false and is routed into the replay-detection path.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindActiveByHash(ctx context.Context, hash string) (*models.Session, error)
	FindByID(ctx context.Context, id string) (*models.Session, error)
	Rotate(ctx context.Context, sessionID string, expectedCounter int64, newHash string, expiresAt, usedAt time.Time) (bool, error)
	Revoke(ctx context.Context, sessionID string, at time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// NewGormSessionStore builds the SQL-backed SessionStore implementation.
func NewGormSessionStore(db *gorm.DB, timeout time.Duration) (SessionStore, error) {
	if db == nil {
		return nil, errors.New("session store: db is required")
	}
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &gormSessionStore{db: db, timeout: timeout}, nil
}

type gormSessionStore struct {
	db      *gorm.DB
	timeout time.Duration
}

func (s *gormSessionStore) Create(ctx context.Context, session *models.Session) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return s.wrap("create session", err)
	}
	return nil
}

func (s *gormSessionStore) FindActiveByHash(ctx context.Context, hash string) (*models.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var session models.Session
	err := s.db.WithContext(ctx).
		Where("refresh_token_hash = ? AND is_active = ?", hash, true).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("find session by hash", err)
	}
	return &session, nil
}

func (s *gormSessionStore) FindByID(ctx context.Context, id string) (*models.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var session models.Session
	err := s.db.WithContext(ctx).Take(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("find session by id", err)
	}
	return &session, nil
}

// Rotate performs the compare-and-swap: the UPDATE carries the expected
// counter in its WHERE clause, so two concurrent redemptions can never both
// succeed regardless of the backing database's isolation level.
func (s *gormSessionStore) Rotate(ctx context.Context, sessionID string, expectedCounter int64, newHash string, expiresAt, usedAt time.Time) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND rotation_counter = ? AND is_active = ?", sessionID, expectedCounter, true).
		Updates(map[string]any{
			"refresh_token_hash": newHash,
			"rotation_counter":   expectedCounter + 1,
			"expires_at":         expiresAt,
			"last_used_at":       usedAt,
		})
	if result.Error != nil {
		return false, s.wrap("rotate session", result.Error)
	}

	return result.RowsAffected == 1, nil
}

func (s *gormSessionStore) Revoke(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND is_active = ?", sessionID, true).
		Updates(map[string]any{
			"is_active":  false,
			"revoked_at": at,
		})
	if result.Error != nil {
		return 0, s.wrap("revoke session", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *gormSessionStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Updates(map[string]any{
			"is_active":  false,
			"revoked_at": at,
		})
	if result.Error != nil {
		return 0, s.wrap("revoke user sessions", result.Error)
	}
	return result.RowsAffected, nil
}

// SweepExpired deactivates sessions already past their expiry. Rows are kept
// for audit; physical purging belongs to a separate maintenance process.
func (s *gormSessionStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("expires_at < ? AND is_active = ?", now, true).
		Updates(map[string]any{
			"is_active":  false,
			"revoked_at": now,
		})
	if result.Error != nil {
		return 0, s.wrap("sweep expired sessions", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *gormSessionStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *gormSessionStore) wrap(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrStorageTimeout)
	}
	return fmt.Errorf("session store: %s: %w", op, err)
}
