package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/learnhub-io/learnhub/internal/database/testutil"
	"github.com/learnhub-io/learnhub/internal/models"
	"github.com/learnhub-io/learnhub/pkg/crypto"
	"github.com/learnhub-io/learnhub/pkg/metrics"
)

func TestCreateSessionGeneratesTokens(t *testing.T) {
	db, svc, clock := setupSessionService(t)

	user := createTestUser(t, db, "create")

	tokens, session, err := svc.CreateSession(context.Background(), user, SessionMetadata{
		IPAddress:  "10.0.0.1 ",
		DeviceInfo: "laptop",
	})
	require.NoError(t, err)

	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.NotNil(t, session)
	require.Equal(t, user.ID, session.UserID)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.Equal(t, "laptop", session.DeviceInfo)
	require.Equal(t, int64(0), session.RotationCounter)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.Equal(t, crypto.HashToken(tokens.RefreshToken), reloaded.RefreshTokenHash)
	require.NotEqual(t, tokens.RefreshToken, reloaded.RefreshTokenHash)
	require.True(t, reloaded.IsActive)
	require.True(t, reloaded.ExpiresAt.After(clock.Now()))
}

func TestRefreshSessionRotatesToken(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "rotate")

	tokens, session, err := svc.CreateSession(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	newTokens, updated, err := svc.RefreshSession(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, tokens.RefreshToken, newTokens.RefreshToken)
	require.NotEqual(t, tokens.AccessToken, newTokens.AccessToken)
	require.Equal(t, session.ID, updated.ID)
	require.Equal(t, int64(1), updated.RotationCounter)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.Equal(t, crypto.HashToken(newTokens.RefreshToken), reloaded.RefreshTokenHash)
	require.Equal(t, int64(1), reloaded.RotationCounter)
	require.True(t, reloaded.LastUsedAt.Equal(clock.Now()))
}

func TestRefreshSessionReplayRevokesFamily(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "replay")

	first, session, err := svc.CreateSession(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(time.Minute)

	second, _, err := svc.RefreshSession(context.Background(), first.RefreshToken)
	require.NoError(t, err)

	// Redeeming the rotated-away token burns the whole session.
	_, _, err = svc.RefreshSession(context.Background(), first.RefreshToken)
	require.ErrorIs(t, err, ErrSessionReused)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.False(t, reloaded.IsActive)
	require.NotNil(t, reloaded.RevokedAt)

	// The never-consumed successor fails too because the family is dead.
	_, _, err = svc.RefreshSession(context.Background(), second.RefreshToken)
	require.ErrorIs(t, err, ErrSessionInvalidToken)
}

func TestRefreshSessionExpired(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "expired")

	tokens, session, err := svc.CreateSession(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)

	_, _, err = svc.RefreshSession(context.Background(), tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionExpired)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.False(t, reloaded.IsActive)
}

func TestRefreshSessionUnknownToken(t *testing.T) {
	_, svc, _ := setupSessionService(t)

	_, _, err := svc.RefreshSession(context.Background(), "")
	require.ErrorIs(t, err, ErrSessionInvalidToken)

	_, _, err = svc.RefreshSession(context.Background(), "not-a-session-token")
	require.ErrorIs(t, err, ErrSessionInvalidToken)

	_, _, err = svc.RefreshSession(context.Background(), "2f0c63a1-92be-4f57-8ead-6d44318dbb42.bogus")
	require.ErrorIs(t, err, ErrSessionInvalidToken)
}

func TestRefreshSessionInactiveUser(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "deactivated")

	tokens, session, err := svc.CreateSession(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, db.Model(user).Update("is_active", false).Error)

	_, _, err = svc.RefreshSession(context.Background(), tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionInvalidToken)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.False(t, reloaded.IsActive)
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "race")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	tokens, session, err := svc.CreateSession(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	const attempts = 8

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		rotated  int
		replayed int
		rejected int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.RefreshSession(context.Background(), tokens.RefreshToken)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				rotated++
			case errors.Is(err, ErrSessionReused):
				// The first loser trips replay detection and burns the family.
				replayed++
			case errors.Is(err, ErrSessionInvalidToken):
				// Losers arriving after the family is revoked find the
				// session inactive and are turned away generically.
				rejected++
			default:
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, rotated)
	require.GreaterOrEqual(t, replayed, 1)
	require.Equal(t, attempts-1, replayed+rejected)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.False(t, reloaded.IsActive)
}

func TestConcurrentExpiredRefreshBalancesSessionGauge(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "expired-race")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	tokens, _, err := svc.CreateSession(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)

	before := promtest.ToFloat64(metrics.ActiveSessions)

	const attempts = 8

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.RefreshSession(context.Background(), tokens.RefreshToken)
			if err == nil {
				t.Error("expired refresh token was redeemed")
			}
		}()
	}
	wg.Wait()

	// Only one redemption revokes a row, so the gauge moves by exactly one
	// no matter how many goroutines raced on the expired token.
	require.Equal(t, before-1, promtest.ToFloat64(metrics.ActiveSessions))
}

func TestRevokeSessionIsIdempotent(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "revoke")

	_, session, err := svc.CreateSession(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(context.Background(), session.ID))
	require.NoError(t, svc.RevokeSession(context.Background(), session.ID))
	require.NoError(t, svc.RevokeSession(context.Background(), "ffffffff-0000-0000-0000-000000000000"))

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.False(t, reloaded.IsActive)
}

func TestRevokeUserSessions(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "revoke-all")

	for i := 0; i < 3; i++ {
		_, _, err := svc.CreateSession(context.Background(), user, SessionMetadata{})
		require.NoError(t, err)
	}

	revoked, err := svc.RevokeUserSessions(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), revoked)

	sessions, err := svc.ListUserSessions(context.Background(), user.ID)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestSweepExpiredSessions(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "sweep")

	_, stale, err := svc.CreateSession(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)

	_, fresh, err := svc.CreateSession(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	swept, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), swept)

	var staleRow models.Session
	require.NoError(t, db.Take(&staleRow, "id = ?", stale.ID).Error)
	require.False(t, staleRow.IsActive)

	var freshRow models.Session
	require.NoError(t, db.Take(&freshRow, "id = ?", fresh.ID).Error)
	require.True(t, freshRow.IsActive)
}

func setupSessionService(t *testing.T) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	clock := &testClock{current: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}

	jwtService, err := NewJWTService(JWTConfig{
		Secret:         "session-secret",
		AccessTokenTTL: 15 * time.Minute,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	sessionService, err := NewSessionService(db, jwtService, SessionConfig{
		RefreshTokenTTL: 2 * time.Hour,
		RefreshLength:   24,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	return db, sessionService, clock
}

func createTestUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("password-123")
	require.NoError(t, err)

	user := &models.User{
		Email:    name + "@example.com",
		Password: hashed,
		FullName: name,
		Role:     models.RoleStudent,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}
