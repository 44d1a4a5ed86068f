package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "MARKSYNC"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "marksync.db"
	defaultLogLevel        = "info"
	defaultTokenTTLMinutes = 30
	defaultAPIBaseURL      = "http://127.0.0.1:8080"
)

// AppConfig captures runtime configuration for the API server and the
// terminal client.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration
	APIBaseURL    string
	RedisAddress  string
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
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("api.base_url", defaultAPIBaseURL)
	configViper.SetDefault("redis.address", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		APIBaseURL:    configViper.GetString("api.base_url"),
		RedisAddress:  configViper.GetString("redis.address"),
	}

	if err := cfg.validateServer(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadClient parses the subset of configuration the terminal client needs.
func LoadClient(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		LogLevel:     configViper.GetString("log.level"),
		APIBaseURL:   configViper.GetString("api.base_url"),
		RedisAddress: configViper.GetString("redis.address"),
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return AppConfig{}, fmt.Errorf("api.base_url is required")
	}
	return cfg, nil
}

func (c AppConfig) validateServer() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}
