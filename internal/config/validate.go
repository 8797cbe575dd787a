package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if len(c.JWT.Secret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 characters")
	}

	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	if c.Limits.Free.Daily > c.Limits.Free.Monthly {
		errs = append(errs, "LIMITS_FREE_DAILY must not exceed LIMITS_FREE_MONTHLY")
	}
	if c.Limits.Pro.Daily > c.Limits.Pro.Monthly {
		errs = append(errs, "LIMITS_PRO_DAILY must not exceed LIMITS_PRO_MONTHLY")
	}

	// Provider key: warn only. Requests fail with a 500 until it is set.
	if c.Provider.APIKey == "" {
		slog.Warn("PROVIDER_API_KEY is empty, completion requests will fail until it is configured")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
