// Package config loads application configuration from environment
// variables into a single struct, so main stays minimal and every
// component receives plain values instead of reading the environment
// itself.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
//
// JWT_SECRET must be a long random string, e.g.:
//
//	JWT_SECRET=$(openssl rand -hex 32)
//
// AVATAR_API_KEY is the media host credential (the imgbb upload key).
// DIRECTORY_URL points at the backing store's user-registration
// endpoint; leave it empty to disable the mirror write.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	DBPath   string `envconfig:"DB_PATH" default:"data/trackauth.db"`

	JWTSecret  string `envconfig:"JWT_SECRET" required:"true"`
	BcryptCost int    `envconfig:"BCRYPT_COST" default:"12"`

	AvatarHostURL string `envconfig:"AVATAR_HOST_URL" default:"https://api.imgbb.com/1/upload"`
	AvatarAPIKey  string `envconfig:"AVATAR_API_KEY" default:""`

	DirectoryURL string `envconfig:"DIRECTORY_URL" default:""`

	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID" default:""`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET" default:""`
	GoogleCallbackURL  string `envconfig:"GOOGLE_CALLBACK_URL" default:""`
}

// Load reads configuration from environment variables into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.GoogleCallbackURL == "" {
		cfg.GoogleCallbackURL = fmt.Sprintf("http://localhost:%d/auth/google/callback", cfg.Port)
	}
	return &cfg, nil
}
