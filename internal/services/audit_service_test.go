package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	testutil "github.com/learnhub-io/learnhub/internal/database/testutil"
	"github.com/learnhub-io/learnhub/internal/models"
)

func setupAuditService(t *testing.T) *AuditService {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)
	return svc
}

func TestAuditLogPersistsMetadata(t *testing.T) {
	svc := setupAuditService(t)

	userID := "2f0c63a1-92be-4f57-8ead-6d44318dbb42"
	err := svc.Log(context.Background(), AuditEntry{
		UserID:    &userID,
		Email:     " User@Example.com ",
		Action:    AuditActionReplay,
		Result:    AuditResultFailure,
		IPAddress: "203.0.113.7",
		Metadata:  map[string]any{"session_id": "abc"},
	})
	require.NoError(t, err)

	logs, total, err := svc.List(context.Background(), AuditListOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, AuditActionReplay, logs[0].Action)
	require.Equal(t, "user@example.com", logs[0].Email)
	require.NotNil(t, logs[0].UserID)
	require.Equal(t, userID, *logs[0].UserID)
	require.Contains(t, string(logs[0].Metadata), "session_id")
}

func TestAuditLogRequiresActionAndResult(t *testing.T) {
	svc := setupAuditService(t)

	require.Error(t, svc.Log(context.Background(), AuditEntry{Result: AuditResultSuccess}))
	require.Error(t, svc.Log(context.Background(), AuditEntry{Action: AuditActionLogin}))
}

func TestAuditListFilters(t *testing.T) {
	svc := setupAuditService(t)

	for _, entry := range []AuditEntry{
		{Action: AuditActionLogin, Result: AuditResultSuccess, Email: "a@x.com"},
		{Action: AuditActionLogin, Result: AuditResultFailure, Email: "a@x.com"},
		{Action: AuditActionLogout, Result: AuditResultSuccess, Email: "b@x.com"},
	} {
		require.NoError(t, svc.Log(context.Background(), entry))
	}

	logs, total, err := svc.List(context.Background(), AuditListOptions{
		Filters: AuditFilters{Action: AuditActionLogin},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, logs, 2)

	failures, total, err := svc.List(context.Background(), AuditListOptions{
		Filters: AuditFilters{Action: AuditActionLogin, Result: AuditResultFailure},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, AuditResultFailure, failures[0].Result)
}

func TestAuditCleanupOlderThan(t *testing.T) {
	svc := setupAuditService(t)

	require.NoError(t, svc.Log(context.Background(), AuditEntry{
		Action: AuditActionLogin, Result: AuditResultSuccess,
	}))

	// Entries created just now survive any positive retention window.
	removed, err := svc.CleanupOlderThan(context.Background(), 30)
	require.NoError(t, err)
	require.Zero(t, removed)

	// Backdate the entry beyond the retention window.
	cutoff := time.Now().AddDate(0, 0, -60)
	require.NoError(t, svc.db.Model(&models.AuditLog{}).
		Where("1 = 1").
		Update("created_at", cutoff).Error)

	removed, err = svc.CleanupOlderThan(context.Background(), 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, err = svc.CleanupOlderThan(context.Background(), 0)
	require.Error(t, err)
}
