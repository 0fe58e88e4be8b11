package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/projflow/internal/client/health"
	"github.com/dmitrijs2005/projflow/internal/client/identity"
	"github.com/dmitrijs2005/projflow/internal/client/services"
)

// Config holds runtime settings for the projflow client.
type Config struct {
	APIBaseURL          string        `env:"API_BASE_URL"`
	IdentityBaseURL     string        `env:"IDENTITY_BASE_URL"`
	SecureTokenURL      string        `env:"SECURE_TOKEN_URL"`
	IdentityAPIKey      string        `env:"IDENTITY_API_KEY"`
	SyncPath            string        `env:"SYNC_PATH"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT"`
	DatabasePath        string        `env:"DATABASE_PATH"`
	StoreSecret         string        `env:"STORE_SECRET"`
	HealthAddr          string        `env:"HEALTH_ADDR"`
	HealthPath          string        `env:"HEALTH_PATH"`
	OnlineCheckInterval time.Duration `env:"ONLINE_CHECK_INTERVAL"`
	GoogleClientID      string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret  string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL   string        `env:"GOOGLE_REDIRECT_URL"`
	DeviceToken         string        `env:"DEVICE_TOKEN"`
	Platform            string        `env:"PLATFORM"`
	LogLevel            string        `env:"LOG_LEVEL"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://127.0.0.1:8080"
	c.IdentityBaseURL = identity.DefaultIdentityBaseURL
	c.SecureTokenURL = identity.DefaultSecureTokenURL
	c.SyncPath = services.DefaultSyncPath
	c.RequestTimeout = 15 * time.Second
	c.DatabasePath = "projflow.db"
	c.HealthPath = health.DefaultHealthPath
	c.OnlineCheckInterval = 30 * time.Second
	c.GoogleRedirectURL = "http://127.0.0.1:8085/callback"
	c.Platform = "cli"
	c.LogLevel = "info"
}

// LoadConfig builds a Config from defaults, environment, JSON and flags,
// in that order. args are the command-line arguments without the program
// name.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseEnv(cfg, dotEnvFile); err != nil {
		return nil, err
	}
	if err := parseJSON(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the client cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.APIBaseURL) == "" {
		errs = append(errs, errors.New("api base url is required"))
	}
	if c.IdentityAPIKey == "" {
		errs = append(errs, errors.New("identity api key is required (PROJFLOW_IDENTITY_API_KEY)"))
	}
	if c.StoreSecret == "" {
		errs = append(errs, errors.New("store secret is required (PROJFLOW_STORE_SECRET)"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.OnlineCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("online check interval must be positive, got %s", c.OnlineCheckInterval))
	}
	return errors.Join(errs...)
}

// GoogleEnabled reports whether the Google sign-in flow is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}
