package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/learnhub-io/learnhub/internal/database/testutil"
	"github.com/learnhub-io/learnhub/internal/models"
	"github.com/learnhub-io/learnhub/pkg/crypto"
)

func setupUserService(t *testing.T) (*gorm.DB, *UserService) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	audit, err := NewAuditService(db)
	require.NoError(t, err)

	svc, err := NewUserService(db, audit)
	require.NoError(t, err)

	return db, svc
}

func TestUserServiceCreate(t *testing.T) {
	_, svc := setupUserService(t)

	user, err := svc.Create(context.Background(), CreateUserInput{
		Email:    " Student@Example.COM ",
		Password: "correct-horse",
		FullName: "  Ada Lovelace ",
	})
	require.NoError(t, err)
	require.Equal(t, "student@example.com", user.Email)
	require.Equal(t, "Ada Lovelace", user.FullName)
	require.Equal(t, models.RoleStudent, user.Role)
	require.True(t, user.IsActive)
	require.True(t, crypto.VerifyPassword(user.Password, "correct-horse"))

	_, err = svc.Create(context.Background(), CreateUserInput{
		Email:    "student@example.com",
		Password: "another-pass",
	})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestUserServiceGet(t *testing.T) {
	_, svc := setupUserService(t)

	created, err := svc.Create(context.Background(), CreateUserInput{
		Email:    "get@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	byID, err := svc.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, created.Email, byID.Email)

	byEmail, err := svc.GetByEmail(context.Background(), " GET@example.com ")
	require.NoError(t, err)
	require.Equal(t, created.ID, byEmail.ID)

	_, err = svc.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.GetByEmail(context.Background(), "missing@example.com")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserServiceListFilters(t *testing.T) {
	_, svc := setupUserService(t)

	_, err := svc.Create(context.Background(), CreateUserInput{
		Email: "alice@example.com", Password: "correct-horse", FullName: "Alice", Role: models.RoleAdmin,
	})
	require.NoError(t, err)
	student, err := svc.Create(context.Background(), CreateUserInput{
		Email: "bob@example.com", Password: "correct-horse", FullName: "Bob",
	})
	require.NoError(t, err)
	require.NoError(t, svc.SetActive(context.Background(), student.ID, false))

	users, total, err := svc.List(context.Background(), ListUsersOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, users, 2)

	admins, total, err := svc.List(context.Background(), ListUsersOptions{
		Filters: UserFilters{Role: models.RoleAdmin},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "alice@example.com", admins[0].Email)

	active := true
	activeUsers, total, err := svc.List(context.Background(), ListUsersOptions{
		Filters: UserFilters{Active: &active},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "alice@example.com", activeUsers[0].Email)

	found, total, err := svc.List(context.Background(), ListUsersOptions{
		Filters: UserFilters{Search: "bOb"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "bob@example.com", found[0].Email)
}

func TestUserServiceUpdate(t *testing.T) {
	_, svc := setupUserService(t)

	user, err := svc.Create(context.Background(), CreateUserInput{
		Email: "update@example.com", Password: "correct-horse",
	})
	require.NoError(t, err)

	name := "Renamed"
	role := models.RoleAdmin
	updated, err := svc.Update(context.Background(), user.ID, UpdateUserInput{
		FullName: &name,
		Role:     &role,
	})
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.FullName)
	require.Equal(t, models.RoleAdmin, updated.Role)

	bogus := "superuser"
	_, err = svc.Update(context.Background(), user.ID, UpdateUserInput{Role: &bogus})
	require.Error(t, err)
}

func TestUserServiceSetActiveWritesAudit(t *testing.T) {
	db, svc := setupUserService(t)

	user, err := svc.Create(context.Background(), CreateUserInput{
		Email: "toggle@example.com", Password: "correct-horse",
	})
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(context.Background(), user.ID, false))
	// No-op toggle writes no second entry.
	require.NoError(t, svc.SetActive(context.Background(), user.ID, false))

	var logs []models.AuditLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, "user.deactivate", logs[0].Action)
	require.Equal(t, user.Email, logs[0].Email)
}
