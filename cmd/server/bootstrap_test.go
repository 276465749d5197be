package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/learnhub-io/learnhub/internal/app"
)

func TestConvertDatabaseConfig(t *testing.T) {
	cfg := &app.Config{}
	dbCfg := convertDatabaseConfig(cfg)
	require.Equal(t, "sqlite", dbCfg.Driver)

	cfg.Database.Driver = "PostgreSQL"
	cfg.Database.Postgres = app.DBAuthConfig{
		Host:     " db.example.com ",
		Port:     5433,
		Database: "learnhub",
		Username: "learnhub",
		Password: "secret",
	}
	dbCfg = convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db.example.com", dbCfg.Host)
	require.Equal(t, 5433, dbCfg.Port)
	require.Equal(t, "learnhub", dbCfg.Name)

	cfg.Database.Driver = "mysql"
	cfg.Database.MySQL = app.DBAuthConfig{Host: "mysql.example.com", Port: 3306, Database: "learnhub"}
	dbCfg = convertDatabaseConfig(cfg)
	require.Equal(t, "mysql", dbCfg.Driver)
	require.Equal(t, "mysql.example.com", dbCfg.Host)
}

func TestBootstrapRuntimeServesHealth(t *testing.T) {
	cfg := &app.Config{
		Server: app.ServerConfig{Port: 0, LogLevel: "error"},
		Database: app.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "learnhub.sqlite"),
		},
		Monitoring: app.MonitoringConfig{
			Health: app.HealthConfig{Enabled: true},
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "bootstrap-test-secret",
				Issuer: "bootstrap-test",
				TTL:    time.Minute,
			},
			Session: app.SessionSettings{
				RefreshTTL:    time.Hour,
				RefreshLength: 32,
			},
		},
		Maintenance: app.MaintenanceConfig{
			Enabled:            true,
			Schedule:           "@every 1h",
			AuditRetentionDays: 7,
			SessionRetention:   "24h",
		},
	}

	log := zap.NewNop()
	stack, err := bootstrapRuntime(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() {
		stack.Shutdown(context.Background(), log)
	})

	require.NotNil(t, stack.Router)
	require.NotNil(t, stack.SessionSvc)
	require.NotNil(t, stack.Cleaner)
	require.Nil(t, stack.Redis)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
