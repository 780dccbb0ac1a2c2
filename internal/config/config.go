// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds the application configuration.
type Config struct {
	Environment string          `toml:"environment"`
	DemoMode    bool            `toml:"demo_mode"`
	Server      ServerConfig    `toml:"server"`
	Database    DatabaseConfig  `toml:"database"`
	Functions   FunctionsConfig `toml:"functions"`
	Auth        AuthConfig      `toml:"auth"`
	Consent     ConsentConfig   `toml:"consent"`
	Analysis    AnalysisConfig  `toml:"analysis"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port string `toml:"port"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// FunctionsConfig describes the backend functions that talk to the link provider.
type FunctionsConfig struct {
	BaseURL   string  `toml:"base_url"`
	Timeout   string  `toml:"timeout"`
	RateLimit float64 `toml:"rate_limit"` // requests per second
}

// GetTimeout parses and returns the per-request timeout.
func (c *FunctionsConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
}

// ConsentConfig holds settings for the hosted consent bridge.
type ConsentConfig struct {
	PublicURL   string `toml:"public_url"`   // Base URL the consent page is reachable at
	StateSecret string `toml:"state_secret"` // Signs consent callback state
}

// AnalysisConfig holds settings for portfolio analysis text generation.
type AnalysisConfig struct {
	GeminiAPIKey string `toml:"gemini_api_key"`
	Model        string `toml:"model"`
	CacheTTL     string `toml:"cache_ttl"`
}

// GetCacheTTL parses and returns the in-memory analysis cache lifetime.
func (c *AnalysisConfig) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// New creates a Config with defaults overridden by environment variables.
func New() *Config {
	cfg := NewDefault()
	applyEnvOverrides(cfg)
	return cfg
}

// NewDefault returns a Config with sensible defaults.
func NewDefault() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "localhost",
			Port: "8080",
		},
		Database: DatabaseConfig{
			Path: filepath.Join("data", "holdings.db"),
		},
		Functions: FunctionsConfig{
			BaseURL:   "http://localhost:54321/functions/v1",
			Timeout:   "15s",
			RateLimit: 5,
		},
		Auth: AuthConfig{
			JWTSecret: "change-me-in-production-please",
		},
		Consent: ConsentConfig{
			PublicURL:   "http://localhost:8080",
			StateSecret: "change-me-in-production-32chars!",
		},
		Analysis: AnalysisConfig{
			Model:    "gemini-2.0-flash",
			CacheTTL: "1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads an optional .env file and TOML config files, then applies
// environment overrides. Missing files are skipped; later files win.
func Load(paths ...string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := NewDefault()
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Address returns the full address to bind the server to.
func (c *Config) Address() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func applyEnvOverrides(c *Config) {
	c.Environment = getEnv("LINK_ENV", c.Environment)
	c.Server.Host = getEnv("LINK_HOST", c.Server.Host)
	c.Server.Port = getEnv("LINK_PORT", c.Server.Port)
	c.Database.Path = getEnv("LINK_DB_PATH", c.Database.Path)
	c.Functions.BaseURL = getEnv("LINK_FUNCTIONS_URL", c.Functions.BaseURL)
	c.Functions.Timeout = getEnv("LINK_FUNCTIONS_TIMEOUT", c.Functions.Timeout)
	if v := os.Getenv("LINK_FUNCTIONS_RATE_LIMIT"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r > 0 {
			c.Functions.RateLimit = r
		}
	}
	c.Auth.JWTSecret = getEnv("LINK_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Issuer = getEnv("LINK_JWT_ISSUER", c.Auth.Issuer)
	c.Consent.PublicURL = getEnv("LINK_PUBLIC_URL", c.Consent.PublicURL)
	c.Consent.StateSecret = getEnv("LINK_STATE_SECRET", c.Consent.StateSecret)
	c.Analysis.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.Analysis.GeminiAPIKey)
	c.Analysis.Model = getEnv("LINK_ANALYSIS_MODEL", c.Analysis.Model)
	c.Logging.Level = getEnv("LINK_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LINK_LOG_FORMAT", c.Logging.Format)
	if v := os.Getenv("DEMO_MODE"); v != "" {
		c.DemoMode = v == "true"
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
