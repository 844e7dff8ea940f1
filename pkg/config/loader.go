package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load populates cfg from environment variables using `env` struct tags.
//
//	type Config struct {
//	    HTTPPort  int    `env:"IDENTITY_HTTP_PORT" envDefault:"8001"`
//	    JWTSecret string `env:"JWT_SECRET"`
//	}
//
// Defaults come from envDefault tags; validation beyond parsing belongs to
// the caller.
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}
