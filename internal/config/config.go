// Package config loads server settings from an optional YAML file and
// HYDROFIRMA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server configuration.
type Config struct {
	Addr    string `yaml:"addr"`
	BaseURL string `yaml:"base_url"`

	// ActionSecret signs password-reset and verification links.
	ActionSecret string `yaml:"action_secret"`
	// CookieSecret signs the flash cookie.
	CookieSecret  string `yaml:"cookie_secret"`
	SecureCookies bool   `yaml:"secure_cookies"`

	RecentLoginWindow time.Duration `yaml:"recent_login_window"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// AdminEmail, when set, is promoted to admin at startup.
	AdminEmail string `yaml:"admin_email"`

	Log       LogConfig       `yaml:"log"`
	Sentry    SentryConfig    `yaml:"sentry"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// SMTPConfig is empty when mail is logged instead of sent.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Enabled reports whether an SMTP host is configured.
func (c SMTPConfig) Enabled() bool { return c.Host != "" }

// StorageConfig selects backends. Empty values use the in-memory stores.
type StorageConfig struct {
	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`
	SQLiteDSN   string `yaml:"sqlite_dsn"`
	PostgresURL string `yaml:"postgres_url"`
}

type RateLimitConfig struct {
	// RPS and Burst limit every request per client IP. RPS <= 0 disables it.
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
	// AuthPerMinute and AuthBurst limit sign-in and sign-up attempts per IP.
	AuthPerMinute float64 `yaml:"auth_per_minute"`
	AuthBurst     int     `yaml:"auth_burst"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Addr:              ":8080",
		BaseURL:           "http://localhost:8080",
		RecentLoginWindow: 5 * time.Minute,
		IdleTimeout:       24 * time.Hour,
		CleanupInterval:   15 * time.Minute,
		ShutdownTimeout:   10 * time.Second,
		Log:               LogConfig{Level: "info", Format: "json"},
		SMTP:              SMTPConfig{Port: 587},
		Storage:           StorageConfig{RedisPrefix: "hydrofirma:"},
		RateLimit:         RateLimitConfig{RPS: 20, Burst: 40, AuthPerMinute: 10, AuthBurst: 5},
	}
}

// Load reads path (optional) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	str("HYDROFIRMA_ADDR", &c.Addr)
	str("HYDROFIRMA_BASE_URL", &c.BaseURL)
	str("HYDROFIRMA_ACTION_SECRET", &c.ActionSecret)
	str("HYDROFIRMA_COOKIE_SECRET", &c.CookieSecret)
	if v, ok := lookup("HYDROFIRMA_SECURE_COOKIES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HYDROFIRMA_SECURE_COOKIES: %w", err))
		} else {
			c.SecureCookies = b
		}
	}
	dur("HYDROFIRMA_RECENT_LOGIN_WINDOW", &c.RecentLoginWindow)
	dur("HYDROFIRMA_IDLE_TIMEOUT", &c.IdleTimeout)
	dur("HYDROFIRMA_CLEANUP_INTERVAL", &c.CleanupInterval)
	dur("HYDROFIRMA_SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	str("HYDROFIRMA_ADMIN_EMAIL", &c.AdminEmail)

	str("HYDROFIRMA_LOG_LEVEL", &c.Log.Level)
	str("HYDROFIRMA_LOG_FORMAT", &c.Log.Format)
	str("SENTRY_DSN", &c.Sentry.DSN)
	str("SENTRY_ENVIRONMENT", &c.Sentry.Environment)

	str("HYDROFIRMA_SMTP_HOST", &c.SMTP.Host)
	num("HYDROFIRMA_SMTP_PORT", &c.SMTP.Port)
	str("HYDROFIRMA_SMTP_USERNAME", &c.SMTP.Username)
	str("HYDROFIRMA_SMTP_PASSWORD", &c.SMTP.Password)
	str("HYDROFIRMA_SMTP_FROM", &c.SMTP.From)

	str("HYDROFIRMA_REDIS_URL", &c.Storage.RedisURL)
	str("HYDROFIRMA_REDIS_PREFIX", &c.Storage.RedisPrefix)
	str("HYDROFIRMA_SQLITE_DSN", &c.Storage.SQLiteDSN)
	str("DATABASE_URL", &c.Storage.PostgresURL)
	str("HYDROFIRMA_POSTGRES_URL", &c.Storage.PostgresURL)

	float("HYDROFIRMA_RATE_LIMIT_RPS", &c.RateLimit.RPS)
	num("HYDROFIRMA_RATE_LIMIT_BURST", &c.RateLimit.Burst)
	float("HYDROFIRMA_AUTH_RATE_PER_MINUTE", &c.RateLimit.AuthPerMinute)
	num("HYDROFIRMA_AUTH_RATE_BURST", &c.RateLimit.AuthBurst)

	return errors.Join(errs...)
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url %q must be an absolute http(s) URL", c.BaseURL))
	}
	if c.ActionSecret != "" && len(c.ActionSecret) < 16 {
		errs = append(errs, errors.New("action_secret must be at least 16 bytes"))
	}
	if c.CookieSecret != "" && len(c.CookieSecret) < 16 {
		errs = append(errs, errors.New("cookie_secret must be at least 16 bytes"))
	}
	if c.RecentLoginWindow < time.Minute {
		errs = append(errs, errors.New("recent_login_window must be at least 1 minute"))
	}
	if c.IdleTimeout < time.Minute {
		errs = append(errs, errors.New("idle_timeout must be at least 1 minute"))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("cleanup_interval must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	if c.SMTP.Enabled() {
		if c.SMTP.From == "" {
			errs = append(errs, errors.New("smtp.from is required when smtp.host is set"))
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("smtp.port %d out of range", c.SMTP.Port))
		}
	}
	if c.Storage.SQLiteDSN != "" && c.Storage.PostgresURL != "" {
		errs = append(errs, errors.New("sqlite_dsn and postgres_url are mutually exclusive"))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("rate_limit.burst must be at least 1"))
	}
	if c.RateLimit.AuthPerMinute > 0 && c.RateLimit.AuthBurst < 1 {
		errs = append(errs, errors.New("rate_limit.auth_burst must be at least 1"))
	}
	return errors.Join(errs...)
}
