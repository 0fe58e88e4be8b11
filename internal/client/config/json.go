package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/projflow/internal/flagx"
	"github.com/dmitrijs2005/projflow/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Empty
// fields leave the current Config values alone.
type JsonConfig struct {
	APIBaseURL          string         `json:"api_base_url"`
	IdentityBaseURL     string         `json:"identity_base_url"`
	SecureTokenURL      string         `json:"secure_token_url"`
	IdentityAPIKey      string         `json:"identity_api_key"`
	SyncPath            string         `json:"sync_path"`
	RequestTimeout      timex.Duration `json:"request_timeout"`
	DatabasePath        string         `json:"database_path"`
	StoreSecret         string         `json:"store_secret"`
	HealthAddr          string         `json:"health_addr"`
	HealthPath          string         `json:"health_path"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	GoogleClientID      string         `json:"google_client_id"`
	GoogleClientSecret  string         `json:"google_client_secret"`
	GoogleRedirectURL   string         `json:"google_redirect_url"`
	DeviceToken         string         `json:"device_token"`
	Platform            string         `json:"platform"`
	LogLevel            string         `json:"log_level"`
}

// parseJSON overlays cfg with the JSON file named by -c or -config, if any.
func parseJSON(cfg *Config, args []string) error {
	path := flagx.ConfigFile(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	jc.apply(cfg)
	return nil
}

func (jc JsonConfig) apply(cfg *Config) {
	setString(&cfg.APIBaseURL, jc.APIBaseURL)
	setString(&cfg.IdentityBaseURL, jc.IdentityBaseURL)
	setString(&cfg.SecureTokenURL, jc.SecureTokenURL)
	setString(&cfg.IdentityAPIKey, jc.IdentityAPIKey)
	setString(&cfg.SyncPath, jc.SyncPath)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.StoreSecret, jc.StoreSecret)
	setString(&cfg.HealthAddr, jc.HealthAddr)
	setString(&cfg.HealthPath, jc.HealthPath)
	setString(&cfg.GoogleClientID, jc.GoogleClientID)
	setString(&cfg.GoogleClientSecret, jc.GoogleClientSecret)
	setString(&cfg.GoogleRedirectURL, jc.GoogleRedirectURL)
	setString(&cfg.DeviceToken, jc.DeviceToken)
	setString(&cfg.Platform, jc.Platform)
	setString(&cfg.LogLevel, jc.LogLevel)

	if jc.RequestTimeout.Duration != 0 {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.OnlineCheckInterval.Duration != 0 {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
