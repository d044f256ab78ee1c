// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const devJWTSecret = "dev-secret-change-in-production"

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        int    `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"` // "development" | "staging" | "production"

	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" env-default:"true"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" env-default:"25"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" env-default:"5"`

	// Security
	JWTSecret      string   `env:"JWT_SECRET" env-default:"dev-secret-change-in-production"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:5173,http://localhost:3000"`
	RateLimitRPM   int      `env:"RATE_LIMIT_RPM" env-default:"60"`
	RateLimitIPRPM int      `env:"RATE_LIMIT_IP_RPM" env-default:"300"`

	// Redis (rate limiting); empty falls back to the in-process limiter
	RedisURL string `env:"REDIS_URL"`

	// Object storage for incident photos
	Storage StorageConfig

	// Search
	MeiliURL       string `env:"MEILI_URL"`
	MeiliMasterKey string `env:"MEILI_MASTER_KEY"`

	// Audit integrity tree rebuild, cron syntax
	IntegritySchedule string `env:"INTEGRITY_SCHEDULE" env-default:"@every 5m"`
}

// StorageConfig configures the S3-compatible photo bucket
type StorageConfig struct {
	Endpoint       string `env:"STORAGE_ENDPOINT"`
	AccessKey      string `env:"STORAGE_ACCESS_KEY"`
	SecretKey      string `env:"STORAGE_SECRET_KEY"`
	Bucket         string `env:"STORAGE_BUCKET" env-default:"incident-photos"`
	PublicURL      string `env:"STORAGE_PUBLIC_URL"`
	UseSSL         bool   `env:"STORAGE_USE_SSL" env-default:"false"`
	MaxUploadBytes int64  `env:"STORAGE_MAX_UPLOAD_BYTES" env-default:"10485760"`
}

// Enabled is true when an endpoint is configured
func (s StorageConfig) Enabled() bool {
	return s.Endpoint != ""
}

// IsProduction reports whether the server runs with production settings
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields in production
func (c *Config) Validate() error {
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimitIPRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_IP_RPM must be positive")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("STORAGE_MAX_UPLOAD_BYTES must be positive")
	}
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.JWTSecret == devJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}
	return nil
}
