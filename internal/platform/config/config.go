package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// defaultMaxFileSize caps uploads at 50 MiB unless overridden.
const defaultMaxFileSize = 50 * 1024 * 1024

// Config holds the process configuration read from the environment.
type Config struct {
	Port        string
	LogLevel    string
	LogFormat   string
	MediaPath   string
	MaxFileSize int64
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more
// paths to load from specific files; with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// FromEnv builds a Config from the environment, applying defaults for
// unset or invalid variables.
func FromEnv() Config {
	return Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		MediaPath:   getEnv("MEDIA_PATH", "./static/media"),
		MaxFileSize: getEnvInt64("MAX_FILE_SIZE", defaultMaxFileSize),
	}
}

// getEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func getEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// getEnvInt64 returns the integer value of the environment variable named
// by key, or fallback if the variable is unset, empty, or not a valid
// integer.
func getEnvInt64(key string, fallback int64) int64 {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
