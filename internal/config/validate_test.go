package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		DB: DBConfig{
			Host: "localhost", Port: 5432, User: "hanjaemi",
			Password: "secret", Name: "hanjaemi", SSLMode: "disable", MaxConns: 25,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		JWT:   JWTConfig{Secret: "jwt-secret-that-is-at-least-32-chars!!", Issuer: "hanjaemi"},
		Provider: ProviderConfig{
			APIKey:  "sk-test",
			BaseURL: "https://api.openai.com/v1",
		},
		Limits: LimitsConfig{
			Free: TierLimits{Daily: 10, Monthly: 100},
			Pro:  TierLimits{Daily: 200, Monthly: 3000},
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_JWTSecretTooShort(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.Secret = "short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected JWT_SECRET error, got: %v", err)
	}
}

func TestValidate_DBPasswordRequired(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got: %v", err)
	}
}

func TestValidate_PortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Fatalf("expected SERVER_PORT error, got: %v", err)
	}
}

func TestValidate_DailyMustNotExceedMonthly(t *testing.T) {
	cfg := validConfig()
	cfg.Limits.Free = TierLimits{Daily: 500, Monthly: 100}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "LIMITS_FREE_DAILY") {
		t.Fatalf("expected LIMITS_FREE_DAILY error, got: %v", err)
	}
}

func TestValidate_MissingProviderKeyIsNotFatal(t *testing.T) {
	cfg := validConfig()
	cfg.Provider.APIKey = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("missing provider key should only warn, got: %v", err)
	}
}

func TestForTier(t *testing.T) {
	cfg := validConfig()

	limits, ok := cfg.Limits.ForTier("free")
	if !ok || limits.Daily != 10 {
		t.Fatalf("expected free tier limits, got %+v ok=%v", limits, ok)
	}

	if _, ok := cfg.Limits.ForTier("enterprise"); ok {
		t.Fatal("unknown tier must not resolve")
	}
}
