// Package config loads the session service configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	BackendBaseURL     string        `mapstructure:"BACKEND_BASE_URL"`
	BackendEventsURL   string        `mapstructure:"BACKEND_EVENTS_URL"`
	DoctorID           string        `mapstructure:"DOCTOR_ID"`
	QueuePollInterval  time.Duration `mapstructure:"QUEUE_POLL_INTERVAL"`
	QueueDebounce      time.Duration `mapstructure:"QUEUE_DEBOUNCE"`
	RestoreVerifyDelay time.Duration `mapstructure:"RESTORE_VERIFY_DELAY"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	TLSEnabled         bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile        string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile         string        `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("QUEUE_POLL_INTERVAL", "15s")
	v.SetDefault("QUEUE_DEBOUNCE", "500ms")
	v.SetDefault("RESTORE_VERIFY_DELAY", "1s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("BACKEND_BASE_URL")
	v.BindEnv("BACKEND_EVENTS_URL")
	v.BindEnv("DOCTOR_ID")
	v.BindEnv("QUEUE_POLL_INTERVAL")
	v.BindEnv("QUEUE_DEBOUNCE")
	v.BindEnv("RESTORE_VERIFY_DELAY")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. The backend base
// URL and doctor id are required: every outbound call is made on behalf of
// a single authenticated doctor.
func (c *Config) Validate() error {
	if c.BackendBaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if c.DoctorID == "" {
		return fmt.Errorf("DOCTOR_ID is required")
	}
	if c.QueuePollInterval <= 0 {
		return fmt.Errorf("QUEUE_POLL_INTERVAL must be positive, got %s", c.QueuePollInterval)
	}
	if c.QueueDebounce <= 0 {
		return fmt.Errorf("QUEUE_DEBOUNCE must be positive, got %s", c.QueueDebounce)
	}
	if c.RestoreVerifyDelay < 0 {
		return fmt.Errorf("RESTORE_VERIFY_DELAY must not be negative, got %s", c.RestoreVerifyDelay)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
