// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

// DefaultSessionSecret is the development fallback for SESSION_SECRET.
const DefaultSessionSecret = "secretkey"

// Config holds runtime settings for the server.
type Config struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	DBPath          string        `envconfig:"DB_PATH" default:"toll_plaza.db"`
	TemplateDir     string        `envconfig:"TEMPLATE_DIR"`
	SessionSecret   string        `envconfig:"SESSION_SECRET" default:"secretkey"`
	SessionDuration time.Duration `envconfig:"SESSION_DURATION" default:"720h"`
	SecureCookie    bool          `envconfig:"SECURE_COOKIE" default:"false"`

	AdminEmail     string `envconfig:"ADMIN_EMAIL" default:"admin@toll.com"`
	AdminPassword  string `envconfig:"ADMIN_PASSWORD"`
	AdminName      string `envconfig:"ADMIN_NAME" default:"Administrator"`
	AdminCarNumber string `envconfig:"ADMIN_CAR_NUMBER" default:"ADMIN"`

	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogDevelopment bool   `envconfig:"LOG_DEVELOPMENT" default:"false"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.Port == "" {
		err = multierr.Append(err, errors.New("PORT must not be empty"))
	}
	if c.DBPath == "" {
		err = multierr.Append(err, errors.New("DB_PATH must not be empty"))
	}
	if len(c.SessionSecret) < 8 {
		err = multierr.Append(err, errors.New("SESSION_SECRET must be at least 8 characters"))
	}
	if c.SessionDuration <= 0 {
		err = multierr.Append(err, errors.New("SESSION_DURATION must be positive"))
	}
	if _, perr := mail.ParseAddress(c.AdminEmail); perr != nil {
		err = multierr.Append(err, fmt.Errorf("ADMIN_EMAIL: %w", perr))
	}
	if c.AdminPassword != "" && len(c.AdminPassword) < 6 {
		err = multierr.Append(err, errors.New("ADMIN_PASSWORD must be at least 6 characters"))
	}
	if _, perr := zapcore.ParseLevel(c.LogLevel); perr != nil {
		err = multierr.Append(err, fmt.Errorf("LOG_LEVEL: %w", perr))
	}
	return err
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// InsecureSecret reports whether the development session secret is in use.
func (c *Config) InsecureSecret() bool {
	return c.SessionSecret == DefaultSessionSecret
}
