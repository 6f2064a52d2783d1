package config

import (
	"os"
	"strconv"
)

// Config carries the process configuration, read from the environment.
// A .env file is loaded by the CLI before this runs.
type Config struct {
	Anonymizer AnonymizerConfig
	Web        WebConfig
}

type AnonymizerConfig struct {
	URL string // base URL of the anonymization service
}

type WebConfig struct {
	Port int
	Host string
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envString reads an environment variable with a default.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	return &Config{
		Anonymizer: AnonymizerConfig{
			URL: envString("ANONYMIZER_URL", "http://localhost:8000"),
		},
		Web: WebConfig{
			Port: envInt("WEB_PORT", 8080),
			Host: envString("WEB_HOST", "0.0.0.0"),
		},
	}
}
