package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Runtime is the process-level configuration read from TEAMDASH_* variables.
type Runtime struct {
	DBDriver      string `env:"TEAMDASH_DB_DRIVER" envDefault:"sqlite"`
	DBDSN         string `env:"TEAMDASH_DB_DSN"`
	Workspace     string `env:"TEAMDASH_WORKSPACE" envDefault:"."`
	RedisAddr     string `env:"TEAMDASH_REDIS_ADDR"`
	RedisPassword string `env:"TEAMDASH_REDIS_PASSWORD"`
	RedisDB       int    `env:"TEAMDASH_REDIS_DB" envDefault:"0"`
	RedisChannel  string `env:"TEAMDASH_REDIS_CHANNEL" envDefault:"teamdash:events"`
	OTelEndpoint  string `env:"TEAMDASH_OTEL_ENDPOINT"`
	JWTSecret     string `env:"TEAMDASH_JWT_SECRET"`
	Addr          string `env:"TEAMDASH_ADDR" envDefault:"127.0.0.1:8080"`
	InstanceID    string `env:"TEAMDASH_INSTANCE_ID"`
}

// ParseRuntime loads Runtime from the environment.
func ParseRuntime() (Runtime, error) {
	var rt Runtime
	if err := env.Parse(&rt); err != nil {
		return rt, fmt.Errorf("parse env: %w", err)
	}
	return rt, nil
}
