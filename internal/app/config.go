package app

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/odyssey-erp/console/internal/i18n"
	"github.com/odyssey-erp/console/internal/rbac"
	"github.com/odyssey-erp/console/internal/session"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"30s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	BackendURL     string        `envconfig:"BACKEND_URL" required:"true"`
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"8s"`

	SessionSecret     string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	SessionUpdateAge  time.Duration `envconfig:"SESSION_UPDATE_AGE" default:"24h"`
	SessionCookieName string        `envconfig:"SESSION_COOKIE_NAME" default:"console.session-token"`
	CookieDomain      string        `envconfig:"COOKIE_DOMAIN"`

	CSRFSecret string `envconfig:"CSRF_SECRET" required:"true"`

	Locales       []string          `envconfig:"LOCALES" default:"en,pt-BR"`
	DefaultLocale string            `envconfig:"DEFAULT_LOCALE" default:"pt-BR"`
	PublicPaths   []string          `envconfig:"PUBLIC_PATHS"`
	RBACOverrides rbac.OverrideList `envconfig:"RBAC_OVERRIDES"`

	TokenRefreshThreshold time.Duration `envconfig:"TOKEN_REFRESH_THRESHOLD" default:"5m"`
	RolesSyncInterval     time.Duration `envconfig:"ROLES_SYNC_INTERVAL" default:"15m"`
	RolesSyncCooldown     time.Duration `envconfig:"ROLES_SYNC_COOLDOWN" default:"1m"`

	// RedisAddr enables the shared refresh coordinator when set.
	RedisAddr string `envconfig:"REDIS_ADDR"`
	// PGDSN enables the auth event table when set.
	PGDSN string `envconfig:"PG_DSN"`

	MetricsEnabled     bool     `envconfig:"METRICS_ENABLED" default:"true"`
	LoginRateLimit     int      `envconfig:"LOGIN_RATE_LIMIT" default:"10"`
	APIRateLimit       int      `envconfig:"API_RATE_LIMIT" default:"600"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot express.
func (c *Config) Validate() error {
	if len(c.SessionSecret) < session.MinSecretLength {
		return fmt.Errorf("session secret must be at least %d bytes", session.MinSecretLength)
	}
	if c.CSRFSecret == "" {
		return errors.New("csrf secret must be provided")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend url %q must be absolute", c.BackendURL)
	}
	if _, err := i18n.NewLocales(c.Locales, c.DefaultLocale); err != nil {
		return fmt.Errorf("locales: %w", err)
	}
	if c.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.LoginRateLimit < 0 || c.APIRateLimit < 0 {
		return errors.New("rate limits must not be negative")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// LocaleSet builds the validated locale set.
func (c *Config) LocaleSet() *i18n.Locales {
	return i18n.MustLocales(c.Locales, c.DefaultLocale)
}
