package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	Provider  ProviderConfig
	Limits    LimitsConfig
	History   HistoryConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL     string
	Enabled bool
}

type JWTConfig struct {
	Secret string
	Issuer string
}

// ProviderConfig holds settings for the upstream completion provider.
// An empty APIKey is allowed at startup; completion requests fail with a
// configuration error before any quota check.
type ProviderConfig struct {
	APIKey          string
	BaseURL         string
	ChatModel       string
	TranscribeModel string
	SpeechModel     string
	SpeechVoice     string
	Timeout         time.Duration
}

// TierLimits are per-period request allowances for one subscription tier.
type TierLimits struct {
	Daily   int
	Monthly int
}

// LimitsConfig maps subscription tiers to their request allowances.
// Users without an active subscription are blocked regardless of these values.
type LimitsConfig struct {
	Free TierLimits
	Pro  TierLimits
}

// ForTier returns the limits for a tier name and whether the tier is known.
func (c LimitsConfig) ForTier(tier string) (TierLimits, bool) {
	switch tier {
	case "free":
		return c.Free, true
	case "pro":
		return c.Pro, true
	default:
		return TierLimits{}, false
	}
}

type HistoryConfig struct {
	Enabled     bool
	RecentLimit int
	RecentTTL   time.Duration
}

type RateLimitConfig struct {
	MaxRequests int
	WindowSec   int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:     k.String("nats.url"),
			Enabled: k.Bool("nats.enabled"),
		},
		JWT: JWTConfig{
			Secret: k.String("jwt.secret"),
			Issuer: k.String("jwt.issuer"),
		},
		Provider: ProviderConfig{
			APIKey:          k.String("provider.api.key"),
			BaseURL:         k.String("provider.base.url"),
			ChatModel:       k.String("provider.chat.model"),
			TranscribeModel: k.String("provider.transcribe.model"),
			SpeechModel:     k.String("provider.speech.model"),
			SpeechVoice:     k.String("provider.speech.voice"),
		},
		Limits: LimitsConfig{
			Free: TierLimits{
				Daily:   k.Int("limits.free.daily"),
				Monthly: k.Int("limits.free.monthly"),
			},
			Pro: TierLimits{
				Daily:   k.Int("limits.pro.daily"),
				Monthly: k.Int("limits.pro.monthly"),
			},
		},
		History: HistoryConfig{
			Enabled:     k.Bool("history.enabled"),
			RecentLimit: k.Int("history.recent.limit"),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: k.Int("ratelimit.max.requests"),
			WindowSec:   k.Int("ratelimit.window.sec"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitOrigins(k.String("cors.allowed.origins")),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "hanjaemi"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "hanjaemi"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "hanjaemi"
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Provider.ChatModel == "" {
		cfg.Provider.ChatModel = "gpt-4o-mini"
	}
	if cfg.Provider.TranscribeModel == "" {
		cfg.Provider.TranscribeModel = "whisper-1"
	}
	if cfg.Provider.SpeechModel == "" {
		cfg.Provider.SpeechModel = "tts-1"
	}
	if cfg.Provider.SpeechVoice == "" {
		cfg.Provider.SpeechVoice = "nova"
	}
	if cfg.Limits.Free.Daily == 0 {
		cfg.Limits.Free.Daily = 10
	}
	if cfg.Limits.Free.Monthly == 0 {
		cfg.Limits.Free.Monthly = 100
	}
	if cfg.Limits.Pro.Daily == 0 {
		cfg.Limits.Pro.Daily = 200
	}
	if cfg.Limits.Pro.Monthly == 0 {
		cfg.Limits.Pro.Monthly = 3000
	}
	if cfg.History.RecentLimit == 0 {
		cfg.History.RecentLimit = 20
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 30
	}
	if cfg.RateLimit.WindowSec == 0 {
		cfg.RateLimit.WindowSec = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	timeoutStr := k.String("provider.timeout")
	if timeoutStr == "" {
		timeoutStr = "120s"
	}
	cfg.Provider.Timeout, err = time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("parsing provider timeout: %w", err)
	}

	ttlStr := k.String("history.recent.ttl")
	if ttlStr == "" {
		ttlStr = "24h"
	}
	cfg.History.RecentTTL, err = time.ParseDuration(ttlStr)
	if err != nil {
		return nil, fmt.Errorf("parsing history recent ttl: %w", err)
	}

	return cfg, nil
}

func splitOrigins(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
