// Package config reads all environment configuration for the pipeline.
// Only this package calls os.Getenv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the insights pipeline.
type Config struct {
	Env string // development, staging, production

	// Database
	Database DatabaseConfig

	// Remote dataset source (ODS)
	ODS ODSConfig

	// External text generator
	AI AIConfig

	// Local CSV cache for dataset downloads
	CacheDir string

	// Cron schedules used by the serve command
	SyncSchedule     string
	GenerateSchedule string

	// Ops HTTP surface
	StatusAddr string

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL    string
	Schema string // warehouse schema holding the imported tables

	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// ODSConfig holds defaults for the remote dataset source API.
type ODSConfig struct {
	Timezone       string
	RequestTimeout time.Duration
	// RatePerSecond caps outbound requests to the source.
	RatePerSecond float64
}

// AIConfig holds the external text generator settings.
type AIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	Timeout      time.Duration
}

// Load reads configuration from the environment, loading a .env file when
// one is found next to the working directory or the executable.
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Env: getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Schema:          getEnv("DB_DATA_SCHEMA", "opendata"),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		ODS: ODSConfig{
			Timezone:       getEnv("ODS_TIMEZONE", "Europe/Zurich"),
			RequestTimeout: getEnvAsDuration("ODS_REQUEST_TIMEOUT", "60s"),
			RatePerSecond:  getEnvAsFloat("ODS_RATE_PER_SECOND", 4),
		},

		AI: AIConfig{
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			BaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			DefaultModel: getEnv("DEFAULT_AI_MODEL", "gpt-4o"),
			MaxTokens:    getEnvAsInt("AI_MAX_TOKENS", 3000),
			Timeout:      getEnvAsDuration("AI_REQUEST_TIMEOUT", "120s"),
		},

		CacheDir: getEnv("CACHE_DIR", "files"),

		SyncSchedule:     getEnv("SYNC_SCHEDULE", "0 0 4 * * *"),
		GenerateSchedule: getEnv("GENERATE_SCHEDULE", "0 30 5 * * *"),

		StatusAddr: getEnv("STATUS_ADDR", ":8087"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}
	return nil
}

// RequireAI checks the settings needed by generation commands; sync-only
// invocations run without an API key.
func (c *Config) RequireAI() error {
	if c.AI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for story generation")
	}
	return nil
}

// loadEnvFile tries .env in the working directory, then next to the
// executable.
func loadEnvFile() {
	paths := []string{".env"}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}
