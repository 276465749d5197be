package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/learnhub-io/learnhub/internal/database/testutil"
	"github.com/learnhub-io/learnhub/internal/models"
	"github.com/learnhub-io/learnhub/pkg/crypto"
	"github.com/learnhub-io/learnhub/pkg/mail"
)

type captureMailer struct {
	mu       sync.Mutex
	messages []mail.Message
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *captureMailer) last() (mail.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return mail.Message{}, false
	}
	return m.messages[len(m.messages)-1], true
}

func setupResetService(t *testing.T) (*gorm.DB, *PasswordResetService, *captureMailer, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{current: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}

	jwtService, err := NewJWTService(JWTConfig{
		Secret:         "reset-secret",
		AccessTokenTTL: 15 * time.Minute,
		ResetTokenTTL:  time.Hour,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	sessionService, err := NewSessionService(db, jwtService, SessionConfig{
		RefreshTokenTTL: 2 * time.Hour,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	mailer := &captureMailer{}
	resetService, err := NewPasswordResetService(db, jwtService, sessionService, mailer, PasswordResetConfig{
		ResetURL: "https://learnhub.example/reset-password",
		Clock:    clock.Now,
	})
	require.NoError(t, err)

	return db, resetService, mailer, clock
}

// tokenFromMail pulls the raw reset token back out of the delivered link.
func tokenFromMail(t *testing.T, msg mail.Message) string {
	t.Helper()

	_, after, found := strings.Cut(msg.Body, "?token=")
	require.True(t, found, "mail body should carry a reset link")

	token := after
	if idx := strings.IndexAny(token, " \r\n"); idx >= 0 {
		token = token[:idx]
	}
	require.NotEmpty(t, token)
	return token
}

func TestRequestResetUnknownEmailIsSilent(t *testing.T) {
	db, svc, mailer, _ := setupResetService(t)

	require.NoError(t, svc.RequestReset(context.Background(), "nobody@example.com"))

	_, sent := mailer.last()
	require.False(t, sent)

	var count int64
	require.NoError(t, db.Model(&models.PasswordResetToken{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRequestResetIssuesTokenAndMail(t *testing.T) {
	db, svc, mailer, _ := setupResetService(t)
	user := createTestUser(t, db, "reset-request")

	require.NoError(t, svc.RequestReset(context.Background(), " Reset-Request@example.com "))

	msg, sent := mailer.last()
	require.True(t, sent)
	require.Equal(t, []string{user.Email}, msg.To)
	require.Contains(t, msg.Body, "?token=")

	var record models.PasswordResetToken
	require.NoError(t, db.Take(&record, "user_id = ?", user.ID).Error)
	require.False(t, record.Consumed())
	require.Equal(t, crypto.HashToken(tokenFromMail(t, msg)), record.TokenHash)
}

func TestRequestResetInactiveUserIsSilent(t *testing.T) {
	db, svc, mailer, _ := setupResetService(t)
	user := createTestUser(t, db, "reset-inactive")
	require.NoError(t, db.Model(user).Update("is_active", false).Error)

	require.NoError(t, svc.RequestReset(context.Background(), user.Email))

	_, sent := mailer.last()
	require.False(t, sent)
}

func TestRedeemResetChangesPasswordOnce(t *testing.T) {
	db, svc, mailer, _ := setupResetService(t)
	user := createTestUser(t, db, "reset-redeem")

	require.NoError(t, svc.RequestReset(context.Background(), user.Email))
	msg, _ := mailer.last()
	token := tokenFromMail(t, msg)

	require.NoError(t, svc.RedeemReset(context.Background(), token, "brand-new-password"))

	var reloaded models.User
	require.NoError(t, db.Take(&reloaded, "id = ?", user.ID).Error)
	require.True(t, crypto.VerifyPassword(reloaded.Password, "brand-new-password"))

	// Second redemption fails and leaves the first password in place.
	err := svc.RedeemReset(context.Background(), token, "another-password-entirely")
	require.ErrorIs(t, err, ErrResetTokenConsumed)

	require.NoError(t, db.Take(&reloaded, "id = ?", user.ID).Error)
	require.True(t, crypto.VerifyPassword(reloaded.Password, "brand-new-password"))
	require.False(t, crypto.VerifyPassword(reloaded.Password, "another-password-entirely"))
}

func TestRedeemResetRevokesSessions(t *testing.T) {
	db, svc, mailer, _ := setupResetService(t)
	user := createTestUser(t, db, "reset-sessions")

	session := &models.Session{
		UserID:           user.ID,
		RefreshTokenHash: crypto.HashToken("some-refresh-token"),
		ExpiresAt:        time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC),
		IsActive:         true,
	}
	require.NoError(t, db.Create(session).Error)

	require.NoError(t, svc.RequestReset(context.Background(), user.Email))
	msg, _ := mailer.last()

	require.NoError(t, svc.RedeemReset(context.Background(), tokenFromMail(t, msg), "brand-new-password"))

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.False(t, reloaded.IsActive)
}

func TestRedeemResetExpiredToken(t *testing.T) {
	db, svc, mailer, clock := setupResetService(t)
	user := createTestUser(t, db, "reset-expired")

	require.NoError(t, svc.RequestReset(context.Background(), user.Email))
	msg, _ := mailer.last()
	token := tokenFromMail(t, msg)

	clock.Advance(2 * time.Hour)

	err := svc.RedeemReset(context.Background(), token, "brand-new-password")
	require.ErrorIs(t, err, ErrResetTokenInvalid)
}

func TestRedeemResetRejectsGarbageAndWeakPasswords(t *testing.T) {
	_, svc, _, _ := setupResetService(t)

	err := svc.RedeemReset(context.Background(), "", "brand-new-password")
	require.ErrorIs(t, err, ErrResetTokenInvalid)

	err = svc.RedeemReset(context.Background(), "garbage-token", "brand-new-password")
	require.ErrorIs(t, err, ErrResetTokenInvalid)

	err = svc.RedeemReset(context.Background(), "garbage-token", "short")
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestPurgeExpiredResetTokens(t *testing.T) {
	db, svc, mailer, clock := setupResetService(t)
	user := createTestUser(t, db, "reset-purge")

	require.NoError(t, svc.RequestReset(context.Background(), user.Email))
	msg, _ := mailer.last()
	require.NoError(t, svc.RedeemReset(context.Background(), tokenFromMail(t, msg), "brand-new-password"))

	clock.Advance(2 * time.Hour)

	purged, err := svc.PurgeExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	var count int64
	require.NoError(t, db.Model(&models.PasswordResetToken{}).Count(&count).Error)
	require.Zero(t, count)
}
