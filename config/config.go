// Package config loads hostel settings from an optional YAML file overlaid
// with HOSTEL_ prefixed environment variables.
//
// Precedence is defaults, then the file, then the environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hostel"
	"github.com/goliatone/go-hostel/database"
	"github.com/goliatone/go-hostel/identity/local"
	"github.com/goliatone/go-hostel/profiles"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "HOSTEL_"

// FileEnv names the variable holding the config file path when no path is
// passed to Load.
const FileEnv = EnvPrefix + "CONFIG"

// Config is the full hostel configuration.
type Config struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	Identity IdentityConfig `yaml:"identity" envPrefix:"IDENTITY_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	Authd    AuthdConfig    `yaml:"authd" envPrefix:"AUTHD_"`
	Session  SessionConfig  `yaml:"session" envPrefix:"SESSION_"`
}

// IdentityConfig is how clients reach the auth server.
type IdentityConfig struct {
	// URL is the auth API root, e.g. http://localhost:9999/auth/v1.
	URL    string `yaml:"url" env:"URL"`
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// JWKSURL enables signature checks on restored sessions.
	JWKSURL     string `yaml:"jwks_url" env:"JWKS_URL"`
	SessionFile string `yaml:"session_file" env:"SESSION_FILE"`
	// Local runs the identity authority in process against Database.
	Local bool `yaml:"local" env:"LOCAL"`
}

// DatabaseConfig selects the profiles and credentials database.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

// AuthdConfig configures the auth daemon and the local authority.
type AuthdConfig struct {
	Addr       string        `yaml:"addr" env:"ADDR"`
	SigningKey string        `yaml:"signing_key" env:"SIGNING_KEY"`
	Issuer     string        `yaml:"issuer" env:"ISSUER"`
	Audience   []string      `yaml:"audience" env:"AUDIENCE" envSeparator:","`
	AccessTTL  time.Duration `yaml:"access_ttl" env:"ACCESS_TTL"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"REFRESH_TTL"`

	MaxLoginAttempts int    `yaml:"max_login_attempts" env:"MAX_LOGIN_ATTEMPTS"`
	CoolDownPeriod   string `yaml:"cool_down_period" env:"COOL_DOWN_PERIOD"`
	UseHashid        bool   `yaml:"use_hashid" env:"USE_HASHID"`

	// RateLimit is requests per second allowed per client address.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" env:"RATE_BURST"`
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	RegisterSettleDelay time.Duration `yaml:"register_settle_delay" env:"REGISTER_SETTLE_DELAY"`
	PhoneRegion         string        `yaml:"phone_region" env:"PHONE_REGION"`
}

// Defaults returns the built in configuration.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		Identity: IdentityConfig{
			URL: "http://localhost:9999/auth/v1",
		},
		Database: DatabaseConfig{
			Driver: database.DriverSQLite,
			DSN:    "file:hostel.db?_pragma=foreign_keys(1)",
		},
		Authd: AuthdConfig{
			Addr:             ":9999",
			Issuer:           "hostel",
			AccessTTL:        local.DefaultAccessTTL,
			RefreshTTL:       local.DefaultRefreshTTL,
			MaxLoginAttempts: local.DefaultMaxLoginAttempts,
			CoolDownPeriod:   local.DefaultCoolDownPeriod,
			RateLimit:        5,
			RateBurst:        10,
		},
		Session: SessionConfig{
			RegisterSettleDelay: hostel.DefaultRegisterSettleDelay,
			PhoneRegion:         profiles.DefaultPhoneRegion,
		},
	}
}

// Load builds the configuration. path may be empty, in which case the file
// named by HOSTEL_CONFIG is used when set.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return goerrors.New("config file not found", goerrors.CategoryNotFound).
				WithMetadata(map[string]any{"path": path})
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read config file").
			WithMetadata(map[string]any{"path": path})
	}

	if err := yaml.Unmarshal(raw, c); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse config file").
			WithMetadata(map[string]any{"path": path})
	}
	return nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	err := validation.Errors{
		"log_level": validation.Validate(strings.ToLower(c.LogLevel),
			validation.In("trace", "debug", "info", "warn", "error", "fatal")),
		"database.driver": validation.Validate(strings.ToLower(c.Database.Driver),
			validation.Required, validation.In("sqlite", "sqlite3", "postgres", "postgresql", "pgx")),
		"session.register_settle_delay": validation.Validate(int64(c.Session.RegisterSettleDelay), validation.Min(int64(0))),
	}.Filter()
	return invalid("invalid configuration", err)
}

// ValidateDaemon checks the settings required to issue tokens.
func (c *Config) ValidateDaemon() error {
	err := validation.ValidateStruct(&c.Authd,
		validation.Field(&c.Authd.Addr, validation.Required),
		validation.Field(&c.Authd.SigningKey, validation.Required, validation.Length(16, 0)),
		validation.Field(&c.Authd.CoolDownPeriod, validation.By(isDuration)),
		validation.Field(&c.Authd.RateLimit, validation.Min(0.0)),
	)
	return invalid("invalid daemon configuration", err)
}

func isDuration(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return errors.New("must be a duration such as 24h")
	}
	return nil
}

func invalid(message string, err error) error {
	if err == nil {
		return nil
	}
	metadata := map[string]any{}
	var fields validation.Errors
	if errors.As(err, &fields) {
		for key, value := range fields {
			metadata[key] = value.Error()
		}
	} else {
		metadata["error"] = err.Error()
	}
	return goerrors.New(message, goerrors.CategoryValidation).
		WithTextCode("INVALID_CONFIG").
		WithMetadata(metadata)
}

// GetSigningKey returns the HS256 key used for access tokens.
func (c *Config) GetSigningKey() string {
	return c.Authd.SigningKey
}

// GetTokenExpiration returns the access token lifetime.
func (c *Config) GetTokenExpiration() time.Duration {
	return c.Authd.AccessTTL
}

func (c *Config) GetRefreshExpiration() time.Duration {
	return c.Authd.RefreshTTL
}

func (c *Config) GetIssuer() string {
	return c.Authd.Issuer
}

func (c *Config) GetAudience() []string {
	return c.Authd.Audience
}

// LocalAuthority maps the daemon settings onto the authority config.
func (c *Config) LocalAuthority() local.Config {
	return local.Config{
		SigningKey:       []byte(c.Authd.SigningKey),
		Issuer:           c.Authd.Issuer,
		Audience:         c.Authd.Audience,
		AccessTTL:        c.Authd.AccessTTL,
		RefreshTTL:       c.Authd.RefreshTTL,
		MaxLoginAttempts: c.Authd.MaxLoginAttempts,
		CoolDownPeriod:   c.Authd.CoolDownPeriod,
		UseHashid:        c.Authd.UseHashid,
	}
}
