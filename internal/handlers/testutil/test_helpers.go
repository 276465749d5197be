package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/learnhub-io/learnhub/internal/api"
	"github.com/learnhub-io/learnhub/internal/app"
	iauth "github.com/learnhub-io/learnhub/internal/auth"
	"github.com/learnhub-io/learnhub/internal/auth/providers"
	"github.com/learnhub-io/learnhub/internal/cache"
	sharedtestutil "github.com/learnhub-io/learnhub/internal/database/testutil"
	"github.com/learnhub-io/learnhub/internal/models"
	"github.com/learnhub-io/learnhub/internal/services"
	"github.com/learnhub-io/learnhub/pkg/crypto"
	"github.com/learnhub-io/learnhub/pkg/mail"
	"github.com/learnhub-io/learnhub/pkg/response"
)

// CaptureMailer records outbound mail instead of delivering it.
type CaptureMailer struct {
	mu       sync.Mutex
	Messages []mail.Message
}

func (m *CaptureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, msg)
	return nil
}

// Last returns the most recently captured message.
func (m *CaptureMailer) Last() (mail.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return mail.Message{}, false
	}
	return m.Messages[len(m.Messages)-1], true
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Sessions *iauth.SessionService
	Limiter  *iauth.RateLimiter
	Mailer   *CaptureMailer
}

// EnvOption customises the test environment before the router is built.
type EnvOption func(*envConfig)

type envConfig struct {
	rateRules map[string]iauth.RateRule
	clock     func() time.Time
}

// WithRateRules overrides the per-action rate limits for the environment.
func WithRateRules(rules map[string]iauth.RateRule) EnvOption {
	return func(cfg *envConfig) {
		cfg.rateRules = rules
	}
}

// WithClock pins the time source used by the auth services.
func WithClock(clock func() time.Time) EnvOption {
	return func(cfg *envConfig) {
		cfg.clock = clock
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	envCfg := envConfig{}
	for _, opt := range opts {
		opt(&envCfg)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	jwtSecret := "test-suite-super-secret-key-32-bytes!!"
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         jwtSecret,
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
		ResetTokenTTL:  time.Hour,
		Clock:          envCfg.clock,
	})
	require.NoError(t, err)

	cfg := &app.Config{
		Monitoring: app.MonitoringConfig{
			Health: app.HealthConfig{Enabled: true},
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: jwtSecret,
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
			Session: app.SessionSettings{
				RefreshTTL:    24 * time.Hour,
				RefreshLength: 48,
			},
		},
	}

	sessionCfg := cfg.SessionServiceConfig()
	sessionCfg.Clock = envCfg.clock
	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, sessionCfg)
	require.NoError(t, err)

	provider, err := providers.NewLocalProvider(db, providers.LocalConfig{Clock: envCfg.clock})
	require.NoError(t, err)

	mailer := &CaptureMailer{}
	resetSvc, err := iauth.NewPasswordResetService(db, jwtSvc, sessionSvc, mailer, iauth.PasswordResetConfig{
		ResetURL: "https://learnhub.test/reset-password",
		Clock:    envCfg.clock,
	})
	require.NoError(t, err)

	limiter, err := iauth.NewRateLimiter(cache.NewDatabaseStore(db), iauth.RateLimiterConfig{
		Rules: envCfg.rateRules,
	})
	require.NoError(t, err)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	userSvc, err := services.NewUserService(db, auditSvc)
	require.NoError(t, err)

	router, err := api.NewRouter(db, cfg, api.Dependencies{
		JWT:      jwtSvc,
		Sessions: sessionSvc,
		Provider: provider,
		Reset:    resetSvc,
		Limiter:  limiter,
		Users:    userSvc,
		Audit:    auditSvc,
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Sessions: sessionSvc,
		Limiter:  limiter,
		Mailer:   mailer,
	}
}

// CreateUser inserts an active student user with the given credentials.
func (e *Env) CreateUser(email, password string) *models.User {
	return e.createUser(email, password, models.RoleStudent)
}

// CreateAdmin inserts an active admin user with the given credentials.
func (e *Env) CreateAdmin(email, password string) *models.User {
	return e.createUser(email, password, models.RoleAdmin)
}

func (e *Env) createUser(email, password, role string) *models.User {
	e.T.Helper()

	hashed, err := crypto.HashPassword(password)
	require.NoError(e.T, err)

	user := &models.User{
		ID:       uuid.NewString(),
		Email:    email,
		Password: hashed,
		FullName: "Test User",
		Role:     role,
		IsActive: true,
	}
	require.NoError(e.T, e.DB.Create(user).Error)
	return user
}

// TokenPair mirrors the login response payload.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// RefreshResult mirrors the refresh response payload.
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Login authenticates against the local provider and returns the issued token pair.
func (e *Env) Login(email, password string) TokenPair {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var pair TokenPair
	DecodeInto(e.T, resp.Data, &pair)
	require.NotEmpty(e.T, pair.AccessToken)
	require.NotEmpty(e.T, pair.RefreshToken)
	require.Equal(e.T, "bearer", pair.TokenType)
	return pair
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
