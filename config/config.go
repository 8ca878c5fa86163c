// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the complete service configuration.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`

	S3     S3Config     `envPrefix:"S3_"`
	Resend ResendConfig `envPrefix:"RESEND_"`

	JWTSecret     string        `env:"JWT_SECRET"`
	CredentialTTL time.Duration `env:"CREDENTIAL_TTL" envDefault:"1h"`

	OTPSweepInterval       time.Duration `env:"OTP_SWEEP_INTERVAL" envDefault:"30s"`
	BulkPublishConcurrency int           `env:"BULK_PUBLISH_CONCURRENCY" envDefault:"4"`
	ShutdownTimeout        time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// S3Config selects the blob bucket. An empty bucket keeps blobs in memory.
type S3Config struct {
	Bucket          string        `env:"BUCKET"`
	Region          string        `env:"REGION" envDefault:"us-east-1"`
	Endpoint        string        `env:"ENDPOINT"`
	AccessKeyID     string        `env:"ACCESS_KEY_ID"`
	SecretAccessKey string        `env:"SECRET_ACCESS_KEY"`
	PresignExpiry   time.Duration `env:"PRESIGN_EXPIRY" envDefault:"15m"`
}

// ResendConfig configures outbound mail. An empty API key logs mail instead.
type ResendConfig struct {
	APIKey   string `env:"API_KEY"`
	From     string `env:"FROM" envDefault:"onboarding@resend.dev"`
	Endpoint string `env:"ENDPOINT" envDefault:"https://api.resend.com/emails"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("config: DATABASE_URL required for the postgres driver")
		}
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("config: JWT_SECRET required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.BulkPublishConcurrency <= 0 {
		return fmt.Errorf("config: BULK_PUBLISH_CONCURRENCY must be positive")
	}
	return nil
}
