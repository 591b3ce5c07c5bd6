// Package config loads service settings from defaults, an optional TOML or
// YAML file, a RUN_MODE overlay and APP_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation"
	auth "github.com/goliatone/go-auth-rbac"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix      = "APP_"
	DefaultRunMode = "development"
	// MinSecretLength is the shortest accepted signing secret
	MinSecretLength = 32
)

var extensions = []string{".toml", ".yaml", ".yml"}

type SMTPConfig struct {
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
	From     string `toml:"from" yaml:"from"`
}

// Enabled reports whether mail should go through SMTP
func (s SMTPConfig) Enabled() bool {
	return s.Host != ""
}

type Config struct {
	Host        string `toml:"host" yaml:"host"`
	Port        int    `toml:"port" yaml:"port"`
	DatabaseURL string `toml:"database_url" yaml:"database_url"`
	LogLevel    string `toml:"log_level" yaml:"log_level"`
	LogFormat   string `toml:"log_format" yaml:"log_format"`

	JWTSecret            string        `toml:"jwt_secret" yaml:"jwt_secret"`
	AccessTokenTTL       time.Duration `toml:"access_token_ttl" yaml:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `toml:"refresh_token_ttl" yaml:"refresh_token_ttl"`
	PasswordResetTTL     time.Duration `toml:"password_reset_ttl" yaml:"password_reset_ttl"`
	EmailVerificationTTL time.Duration `toml:"email_verification_ttl" yaml:"email_verification_ttl"`

	CookieName   string `toml:"cookie_name" yaml:"cookie_name"`
	CookieSecure bool   `toml:"cookie_secure" yaml:"cookie_secure"`

	APIPrefix      string   `toml:"api_prefix" yaml:"api_prefix"`
	UploadsDir     string   `toml:"uploads_dir" yaml:"uploads_dir"`
	CORSOrigins    []string `toml:"cors_origins" yaml:"cors_origins"`
	RateLimitRPS   float64  `toml:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst" yaml:"rate_limit_burst"`
	FrontendURL    string   `toml:"frontend_url" yaml:"frontend_url"`

	SMTP SMTPConfig `toml:"smtp" yaml:"smtp"`

	// RunMode is the overlay that was applied, it is never read from files
	RunMode string `toml:"-" yaml:"-"`
}

var _ auth.Config = (*Config)(nil)

// Default returns a Config with every optional value set. JWTSecret has no
// default and must be provided.
func Default() *Config {
	return &Config{
		Host:                 "127.0.0.1",
		Port:                 8080,
		DatabaseURL:          "file:auth.db?cache=shared&_pragma=foreign_keys(1)",
		LogLevel:             "info",
		LogFormat:            "text",
		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      7 * 24 * time.Hour,
		PasswordResetTTL:     auth.DefaultPasswordResetTTL,
		EmailVerificationTTL: auth.DefaultEmailVerificationTTL,
		CookieName:           "auth_token",
		APIPrefix:            "/api/v1",
		UploadsDir:           "uploads",
		CORSOrigins:          []string{"http://localhost:5173"},
		RateLimitRPS:         10,
		RateLimitBurst:       20,
		FrontendURL:          "http://localhost:5173",
		SMTP:                 SMTPConfig{Port: 587},
		RunMode:              DefaultRunMode,
	}
}

// Load reads dir/default.<ext>, then dir/<RUN_MODE>.<ext>, then APP_*
// variables. Both files are optional.
func Load(dir string) (*Config, error) {
	cfg := Default()

	runMode := os.Getenv("RUN_MODE")
	if runMode == "" {
		runMode = DefaultRunMode
	}
	cfg.RunMode = runMode

	for _, name := range []string{"default", runMode} {
		if err := mergeFile(cfg, dir, name); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func mergeFile(cfg *Config, dir, name string) error {
	for _, ext := range extensions {
		path := filepath.Join(dir, name+ext)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return fmt.Errorf("parsing config file %s: %w", path, err)
		}
		return nil
	}
	return nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch filepath.Ext(path) {
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

// applyEnvOverrides reads APP_<KEY> for every top level key and
// APP_SMTP_<KEY> for the smtp section
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"HOST":          &cfg.Host,
		"DATABASE_URL":  &cfg.DatabaseURL,
		"LOG_LEVEL":     &cfg.LogLevel,
		"LOG_FORMAT":    &cfg.LogFormat,
		"JWT_SECRET":    &cfg.JWTSecret,
		"COOKIE_NAME":   &cfg.CookieName,
		"API_PREFIX":    &cfg.APIPrefix,
		"UPLOADS_DIR":   &cfg.UploadsDir,
		"FRONTEND_URL":  &cfg.FrontendURL,
		"SMTP_HOST":     &cfg.SMTP.Host,
		"SMTP_USERNAME": &cfg.SMTP.Username,
		"SMTP_PASSWORD": &cfg.SMTP.Password,
		"SMTP_FROM":     &cfg.SMTP.From,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":             &cfg.Port,
		"RATE_LIMIT_BURST": &cfg.RateLimitBurst,
		"SMTP_PORT":        &cfg.SMTP.Port,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"ACCESS_TOKEN_TTL":       &cfg.AccessTokenTTL,
		"REFRESH_TOKEN_TTL":      &cfg.RefreshTokenTTL,
		"PASSWORD_RESET_TTL":     &cfg.PasswordResetTTL,
		"EMAIL_VERIFICATION_TTL": &cfg.EmailVerificationTTL,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup("COOKIE_SECURE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sCOOKIE_SECURE: %w", EnvPrefix, err)
		}
		cfg.CookieSecure = b
	}

	if v, ok := lookup("RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT_RPS: %w", EnvPrefix, err)
		}
		cfg.RateLimitRPS = f
	}

	if v, ok := lookup("CORS_ORIGINS"); ok {
		cfg.CORSOrigins = splitList(v)
	}

	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects a missing or short secret and out of range values
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.JWTSecret, validation.Required, validation.Length(MinSecretLength, 0)),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.DatabaseURL, validation.Required),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.LogFormat, validation.In("text", "json")),
		validation.Field(&c.AccessTokenTTL, validation.Required),
		validation.Field(&c.RefreshTokenTTL, validation.Required),
		validation.Field(&c.CookieName, validation.Required),
		validation.Field(&c.RateLimitRPS, validation.Min(0.0)),
		validation.Field(&c.RateLimitBurst, validation.Min(0)),
	)
}

// Addr returns host:port for the HTTP listener
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) GetSigningKey() string {
	return c.JWTSecret
}

func (c *Config) GetAccessTokenTTL() time.Duration {
	return c.AccessTokenTTL
}

func (c *Config) GetRefreshTokenTTL() time.Duration {
	return c.RefreshTokenTTL
}

func (c *Config) GetPasswordResetTTL() time.Duration {
	return c.PasswordResetTTL
}

func (c *Config) GetEmailVerificationTTL() time.Duration {
	return c.EmailVerificationTTL
}

func (c *Config) GetContextKey() string {
	return "user"
}

func (c *Config) GetCookieName() string {
	return c.CookieName
}

func (c *Config) GetCookieSecure() bool {
	return c.CookieSecure
}
