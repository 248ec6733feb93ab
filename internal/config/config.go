package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir      string   `mapstructure:"MIGRATIONS_DIR"`
	JWTSecret          string   `mapstructure:"JWT_SECRET"`
	FieldEncryptionKey string   `mapstructure:"FIELD_ENCRYPTION_KEY"`
	MaxPushBatch       int      `mapstructure:"MAX_PUSH_BATCH"`
	PullPageSize       int      `mapstructure:"PULL_PAGE_SIZE"`
	BodyLimit          string   `mapstructure:"BODY_LIMIT"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
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
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("MAX_PUSH_BATCH", 500)
	v.SetDefault("PULL_PAGE_SIZE", 500)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("FIELD_ENCRYPTION_KEY")
	v.BindEnv("MAX_PUSH_BATCH")
	v.BindEnv("PULL_PAGE_SIZE")
	v.BindEnv("BODY_LIMIT")
	v.BindEnv("CORS_ORIGINS")

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

// Validate checks that the configuration is safe to run. Outside development
// JWT_SECRET is required so that real authentication is enforced, and
// FIELD_ENCRYPTION_KEY must be a 64-character hex string (32 bytes decoded)
// because clinical text fields are never stored unencrypted.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set when ENV=%q; refusing to start without authentication", c.Env)
	}
	if c.MaxPushBatch <= 0 || c.MaxPushBatch > 500 {
		return fmt.Errorf("MAX_PUSH_BATCH must be between 1 and 500, got %d", c.MaxPushBatch)
	}
	if c.FieldEncryptionKey == "" {
		if c.IsDev() {
			return nil
		}
		return fmt.Errorf("FIELD_ENCRYPTION_KEY is required when ENV=%q", c.Env)
	}
	key, err := hex.DecodeString(c.FieldEncryptionKey)
	if err != nil {
		return fmt.Errorf("FIELD_ENCRYPTION_KEY must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("FIELD_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return nil
}

// EncryptionKey returns the decoded 32-byte field encryption key. In
// development mode with no key configured a fixed throwaway key is returned so
// the server can run against local data.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.FieldEncryptionKey == "" && c.IsDev() {
		return []byte("medisync-dev-key-0123456789abcde"), nil
	}
	key, err := hex.DecodeString(c.FieldEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode FIELD_ENCRYPTION_KEY: %w", err)
	}
	return key, nil
}
