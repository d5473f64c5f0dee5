package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "GAVEL"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "gavel.db"
	defaultStoragePath     = "storage/submissions"
	defaultLogLevel        = "info"
	defaultTokenTTLMinutes = 60
	defaultRejudgeBatch    = 16
)

// AppConfig captures runtime configuration for the judging API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	StoragePath      string
	LogLevel         string
	SigningSecret    string
	TokenTTL         time.Duration
	RejudgeBatchSize int
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
	configViper.SetDefault("storage.path", defaultStoragePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("rejudge.batch_size", defaultRejudgeBatch)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		StoragePath:      configViper.GetString("storage.path"),
		LogLevel:         configViper.GetString("log.level"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenTTL:         time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		RejudgeBatchSize: configViper.GetInt("rejudge.batch_size"),
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
	if strings.TrimSpace(c.StoragePath) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.RejudgeBatchSize <= 0 {
		return fmt.Errorf("rejudge.batch_size must be positive")
	}
	return nil
}
