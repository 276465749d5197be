package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/learnhub-io/learnhub/internal/models"
)

func TestOpenDefaultsToSQLite(t *testing.T) {
	db, err := Open(Config{})
	require.NoError(t, err)
	require.NotNil(t, db)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database driver")
}

func TestAutoMigrateAndSeedCreatesAdmin(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrateAndSeed(db))

	var admin models.User
	require.NoError(t, db.Take(&admin, "role = ?", models.RoleAdmin).Error)
	require.Equal(t, "admin@learnhub.local", admin.Email)
	require.True(t, admin.IsActive)

	// Seeding twice must not duplicate the admin account.
	require.NoError(t, AutoMigrateAndSeed(db))
	var count int64
	require.NoError(t, db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "learnhub", Name: "learnhub", Password: "pw"})
	require.NoError(t, err)
	require.Contains(t, dsn, "host=localhost")
	require.Contains(t, dsn, "sslmode=disable")

	_, err = buildPostgresDSN(Config{})
	require.Error(t, err)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "learnhub", Name: "learnhub"})
	require.NoError(t, err)
	require.Contains(t, dsn, "@tcp(127.0.0.1:3306)/learnhub")
	require.Contains(t, dsn, "parseTime=True")
}
