package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "ORBIT"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "orbit.db"
	defaultLogLevel      = "info"
	defaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	defaultTokenTTL      = 30
	defaultMediaExpiry   = 5
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	SigningSecret   string
	GoogleClientID  string
	GoogleJWKSURL   string
	TokenTTL        time.Duration
	EventWebhookURL string
	MediaBucket     string
	MediaRegion     string
	MediaKeyPrefix  string
	MediaURLExpiry  time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("events.webhook_url", "")
	configViper.SetDefault("media.bucket", "")
	configViper.SetDefault("media.region", "")
	configViper.SetDefault("media.key_prefix", "uploads/")
	configViper.SetDefault("media.url_expiry_minutes", defaultMediaExpiry)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		GoogleClientID:  configViper.GetString("google.client_id"),
		GoogleJWKSURL:   configViper.GetString("google.jwks_url"),
		TokenTTL:        time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		EventWebhookURL: configViper.GetString("events.webhook_url"),
		MediaBucket:     configViper.GetString("media.bucket"),
		MediaRegion:     configViper.GetString("media.region"),
		MediaKeyPrefix:  configViper.GetString("media.key_prefix"),
		MediaURLExpiry:  time.Duration(configViper.GetInt("media.url_expiry_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if strings.TrimSpace(c.GoogleJWKSURL) == "" {
		return fmt.Errorf("google.jwks_url is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if strings.TrimSpace(c.MediaBucket) != "" && strings.TrimSpace(c.MediaRegion) == "" {
		return fmt.Errorf("media.region is required when media.bucket is set")
	}
	return nil
}
