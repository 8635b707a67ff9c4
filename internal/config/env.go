package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv applies ARMOIRE_* environment overrides on top of a
// config.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("ARMOIRE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if level := os.Getenv("ARMOIRE_LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
	}

	if budget := os.Getenv("ARMOIRE_CACHE_BUDGET_MB"); budget != "" {
		if mb, err := strconv.Atoi(budget); err == nil {
			cfg.Cache.MetadataBudgetMB = mb
		}
	}

	if window := os.Getenv("ARMOIRE_DEBOUNCE_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			cfg.Watcher.DebounceWindow = d
		}
	}

	if hidden := os.Getenv("ARMOIRE_SHOW_HIDDEN"); hidden != "" {
		if b, err := strconv.ParseBool(hidden); err == nil {
			cfg.Scanner.ShowHidden = b
		}
	}

	if dir := os.Getenv("ARMOIRE_TRASH_DIR"); dir != "" {
		cfg.Trash.Dir = dir
	}
}

// GetEnvOrDefault returns an environment variable or a default value.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
