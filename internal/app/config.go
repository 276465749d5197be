package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the LearnHub auth backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Email       EmailConfig       `mapstructure:"email"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT       JWTSettings       `mapstructure:"jwt"`
	Session   SessionSettings   `mapstructure:"session"`
	Local     LocalAuthSettings `mapstructure:"local"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Reset     ResetSettings     `mapstructure:"reset"`
}

// JWTSettings configures signed tokens.
type JWTSettings struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TTL      time.Duration `mapstructure:"access_token_ttl"`
	ResetTTL time.Duration `mapstructure:"reset_token_ttl"`
}

// SessionSettings configures refresh tokens and session lifetimes.
type SessionSettings struct {
	RefreshTTL    time.Duration `mapstructure:"refresh_token_ttl"`
	RefreshLength int           `mapstructure:"refresh_token_length"`
	StoreTimeout  time.Duration `mapstructure:"store_timeout"`
}

// LocalAuthSettings defines controls for the local auth provider.
type LocalAuthSettings struct {
	LockoutThreshold int           `mapstructure:"lockout_threshold"`
	LockoutDuration  time.Duration `mapstructure:"lockout_duration"`
}

// RateLimitSettings carries per-action thresholds and the store failure policy.
type RateLimitSettings struct {
	FailOpen bool          `mapstructure:"fail_open"`
	Login    RateRuleEntry `mapstructure:"login"`
	Refresh  RateRuleEntry `mapstructure:"refresh"`
	Forgot   RateRuleEntry `mapstructure:"forgot_password"`
	Register RateRuleEntry `mapstructure:"register"`
}

// RateRuleEntry is one action's threshold within a window.
type RateRuleEntry struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// ResetSettings configures the password reset flow.
type ResetSettings struct {
	URL string `mapstructure:"url"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MaintenanceConfig drives the background cleanup schedule.
type MaintenanceConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Schedule           string `mapstructure:"schedule"`
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
	SessionRetention   string `mapstructure:"session_retention"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("LEARNHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvAliases(v)

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// bindEnvAliases maps the conventional short environment names onto their
// configuration keys, so SECRET_KEY and friends work without the prefix.
func bindEnvAliases(v *viper.Viper) {
	aliases := map[string][]string{
		"auth.jwt.secret":                       {"SECRET_KEY"},
		"auth.jwt.access_token_ttl":             {"ACCESS_TTL"},
		"auth.session.refresh_token_ttl":        {"REFRESH_TTL"},
		"auth.rate_limit.login.limit":           {"RATE_LIMIT_LOGIN"},
		"auth.rate_limit.refresh.limit":         {"RATE_LIMIT_REFRESH"},
		"auth.rate_limit.forgot_password.limit": {"RATE_LIMIT_FORGOT_PASSWORD"},
		"auth.rate_limit.register.limit":        {"RATE_LIMIT_REGISTER"},
	}

	for key, envs := range aliases {
		args := append([]string{key}, envs...)
		_ = v.BindEnv(args...)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/learnhub.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("auth.jwt.issuer", "learnhub")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.jwt.reset_token_ttl", "1h")
	v.SetDefault("auth.session.refresh_token_ttl", "168h") // 7 days
	v.SetDefault("auth.session.refresh_token_length", 48)
	v.SetDefault("auth.session.store_timeout", "5s")
	v.SetDefault("auth.local.lockout_threshold", 5)
	v.SetDefault("auth.local.lockout_duration", "15m")

	v.SetDefault("auth.rate_limit.fail_open", true)
	v.SetDefault("auth.rate_limit.login.limit", 5)
	v.SetDefault("auth.rate_limit.login.window", "15m")
	v.SetDefault("auth.rate_limit.refresh.limit", 10)
	v.SetDefault("auth.rate_limit.refresh.window", "1m")
	v.SetDefault("auth.rate_limit.forgot_password.limit", 3)
	v.SetDefault("auth.rate_limit.forgot_password.window", "1h")
	v.SetDefault("auth.rate_limit.register.limit", 3)
	v.SetDefault("auth.rate_limit.register.window", "1m")

	v.SetDefault("auth.reset.url", "")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "@hourly")
	v.SetDefault("maintenance.audit_retention_days", 90)
	v.SetDefault("maintenance.session_retention", "720h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
