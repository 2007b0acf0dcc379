package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/thread2text/models"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig
	Render   RenderConfig
	Database DatabaseConfig
	Server   ServerConfig
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name    string
	Version string
}

// RenderConfig holds the default text rendering settings
type RenderConfig struct {
	IndentWidth int
	ShortenURLs bool // ids instead of full permalinks
	Timestamps  bool // raw timestamps instead of ages
	Parsable    bool
}

// DatabaseConfig holds the conversion ledger configuration; an empty path disables it
type DatabaseConfig struct {
	Path string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port                 int
	MaxRequestsPerMinute int
}

// Options converts the render settings into renderer options
func (r RenderConfig) Options() models.Options {
	return models.Options{
		IndentWidth:   r.IndentWidth,
		AddURLs:       !r.ShortenURLs,
		AddTimestamps: r.Timestamps,
		Parsable:      r.Parsable,
	}
}

// LoadConfig loads configuration from a .env file and the environment. A
// missing .env file is not an error; the environment and defaults are used.
func LoadConfig(envPath string, log *logrus.Logger) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}

	if err := godotenv.Load(envPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
		log.WithField("file", envPath).Debug("No .env file found, using environment")
	} else {
		log.WithField("file", envPath).Info("Loaded .env file")
	}

	defaults := models.DefaultOptions()

	config := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "thread2text"),
			Version: getEnv("APP_VERSION", "1.0.0"),
		},
		Render: RenderConfig{
			IndentWidth: getEnvAsInt("THREAD2TEXT_INDENT", defaults.IndentWidth),
			ShortenURLs: getEnvAsBool("THREAD2TEXT_SHORTEN_URLS", !defaults.AddURLs),
			Timestamps:  getEnvAsBool("THREAD2TEXT_TIMESTAMPS", defaults.AddTimestamps),
			Parsable:    getEnvAsBool("THREAD2TEXT_PARSABLE", defaults.Parsable),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", ""),
		},
		Server: ServerConfig{
			Port:                 getEnvAsInt("SERVER_PORT", 8080),
			MaxRequestsPerMinute: getEnvAsInt("MAX_REQUESTS_PER_MINUTE", 100),
		},
	}

	return config, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(strings.TrimSpace(valueStr)); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(strings.TrimSpace(valueStr)); err == nil {
		return value
	}
	return defaultValue
}

// ValidateConfig validates the configuration
func ValidateConfig(config *Config) error {
	if config.Render.IndentWidth < 0 || config.Render.IndentWidth > models.MaxIndentWidth {
		return fmt.Errorf("THREAD2TEXT_INDENT must be between 0 and %d", models.MaxIndentWidth)
	}
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	if config.Server.MaxRequestsPerMinute < 1 {
		return fmt.Errorf("MAX_REQUESTS_PER_MINUTE must be positive")
	}

	// if we are storing the db in a nested directory, create the directory
	if config.Database.Path != "" {
		dbDir := filepath.Dir(config.Database.Path)
		if dbDir != "." && dbDir != "" {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	return nil
}
