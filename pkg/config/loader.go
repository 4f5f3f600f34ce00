package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into the provided struct.
// The struct should use `env` tags to define mappings; time.Duration
// fields accept Go duration strings such as "15m".
//
// Example:
//
//	type Config struct {
//	    Port   int           `env:"HTTP_PORT" envDefault:"8080"`
//	    OTPTTL time.Duration `env:"OTP_TTL" envDefault:"5m"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
