package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"

	"pipeline-crm-backend/pkg/database"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config is the application configuration, read from the environment
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"3000"`

	// Store selection: Postgres > Supabase > SQLite (see database.NewDatabase)
	PostgresDSN     string        `env:"POSTGRES_DSN"`
	SupabaseURL     string        `env:"SUPABASE_URL"`
	SupabaseAnonKey string        `env:"SUPABASE_ANON_KEY"`
	SupabaseKey     string        `env:"SUPABASE_SERVICE_KEY"`
	SQLitePath      string        `env:"SQLITE_PATH"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT" envDefault:"10s"`

	// AppBaseURL prefixes invite links; AppDomain scopes the session cookie
	AppBaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`
	AppDomain  string `env:"APP_DOMAIN"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"your-secret-key-change-in-production"`

	// AuthWebhookSecret signs user events from the auth provider. Empty disables the endpoint.
	AuthWebhookSecret string `env:"AUTH_WEBHOOK_SECRET"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	InviteTTL time.Duration `env:"INVITE_TTL" envDefault:"168h"`

	// Optional side channels. Empty disables them.
	RabbitMQURL  string   `env:"RABBITMQ_URL"`
	EmailQueue   string   `env:"EMAIL_QUEUE" envDefault:"invitation-emails"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"pipeline-changes"`

	Debug bool `env:"DEBUG" envDefault:"false"`
}

// LoadConfig reads the .env file for the environment, then parses the
// process environment. Variables already set win over the file.
func LoadConfig() (*Config, error) {
	switch os.Getenv("ENVIRONMENT") {
	case "production":
		loadEnvFile(".env.production")
	default:
		loadEnvFile(".env.local")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	// env sources (dashboards, CI secrets) often carry stray whitespace
	cfg.PostgresDSN = strings.TrimSpace(cfg.PostgresDSN)
	cfg.SupabaseURL = strings.TrimSpace(cfg.SupabaseURL)
	cfg.SupabaseAnonKey = strings.TrimSpace(cfg.SupabaseAnonKey)
	cfg.SupabaseKey = strings.TrimSpace(cfg.SupabaseKey)
	cfg.AuthWebhookSecret = strings.TrimSpace(cfg.AuthWebhookSecret)
	cfg.AppBaseURL = strings.TrimRight(strings.TrimSpace(cfg.AppBaseURL), "/")
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)

	if cfg.IsProduction() {
		cfg.Debug = false
	} else if cfg.PostgresDSN == "" && (cfg.SupabaseURL == "" || cfg.SupabaseKey == "") && cfg.SQLitePath == "" {
		// zero-config local runs get an embedded store
		cfg.SQLitePath = "pipeline-crm.sqlite"
	}
	return cfg, nil
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

var (
	cachedConfig *Config
	cachedErr    error
	configOnce   sync.Once
)

// GetCached returns the process-wide Config. On serverless runtimes it is
// parsed once per cold start and reused across warm invocations.
func GetCached() (*Config, error) {
	configOnce.Do(func() {
		cachedConfig, cachedErr = LoadConfig()
	})
	return cachedConfig, cachedErr
}

// Validate checks settings that have no safe default
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.IsProduction() && (c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret) {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.PostgresDSN == "" && (c.SupabaseURL == "" || c.SupabaseKey == "") && c.SQLitePath == "" {
		return errors.New("incomplete database configuration: set POSTGRES_DSN, SUPABASE_URL+SUPABASE_SERVICE_KEY or SQLITE_PATH")
	}
	if c.InviteTTL <= 0 {
		return fmt.Errorf("INVITE_TTL must be positive, got %s", c.InviteTTL)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	return nil
}

// UsesDefaultSecret reports whether the JWT secret was left at its placeholder
func (c *Config) UsesDefaultSecret() bool {
	return c.JWTSecret == defaultJWTSecret
}

// DatabaseConfig selects the store from the configured credentials
func (c *Config) DatabaseConfig() database.DatabaseConfig {
	return database.DatabaseConfig{
		PostgresDSN: c.PostgresDSN,
		SupabaseURL: c.SupabaseURL,
		SupabaseKey: c.SupabaseKey,
		SQLitePath:  c.SQLitePath,
		Debug:       c.Debug,
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// loadEnvFile copies KEY=VALUE lines from filename into the environment,
// never overriding a variable that is already set.
func loadEnvFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if len(value) >= 2 {
			if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"")) ||
				(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
				value = value[1 : len(value)-1]
			}
		}
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
}
