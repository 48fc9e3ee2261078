package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MaxAnalyticsCacheTTL bounds the advisory analytics cache.
const MaxAnalyticsCacheTTL = 10 * time.Minute

type Config struct {
	Port                   string   `mapstructure:"PORT"`
	Env                    string   `mapstructure:"ENV"`
	DatabaseURL            string   `mapstructure:"DATABASE_URL"`
	DBSchema               string   `mapstructure:"DB_SCHEMA"`
	DBMaxConns             int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32    `mapstructure:"DB_MIN_CONNS"`
	StoreTimeoutMS         int      `mapstructure:"STORE_TIMEOUT_MS"`
	RequestTimeoutMS       int      `mapstructure:"REQUEST_TIMEOUT_MS"`
	JWTSecret              string   `mapstructure:"JWT_SECRET"`
	TokenTTLMinutes        int      `mapstructure:"TOKEN_TTL_MINUTES"`
	CORSOrigins            []string `mapstructure:"CORS_ORIGINS"`
	CreateIndexesOnStartup bool     `mapstructure:"CREATE_INDEXES_ON_STARTUP"`
	RedisURL               string   `mapstructure:"REDIS_URL"`
	AnalyticsCacheTTLSec   int      `mapstructure:"ANALYTICS_CACHE_TTL_SECONDS"`
	KafkaBrokers           []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic             string   `mapstructure:"KAFKA_TOPIC"`
	Timezone               string   `mapstructure:"TIMEZONE"`
	Holidays               []string `mapstructure:"HOLIDAYS"`
	ResidentCanSign        bool     `mapstructure:"RESIDENT_CAN_SIGN"`
	RateLimitRPS           float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst         int      `mapstructure:"RATE_LIMIT_BURST"`
}

var boundKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"STORE_TIMEOUT_MS", "REQUEST_TIMEOUT_MS", "JWT_SECRET", "TOKEN_TTL_MINUTES",
	"CORS_ORIGINS", "CREATE_INDEXES_ON_STARTUP", "REDIS_URL", "ANALYTICS_CACHE_TTL_SECONDS",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "TIMEZONE", "HOLIDAYS", "RESIDENT_CAN_SIGN", "RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_SCHEMA", "lis")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("STORE_TIMEOUT_MS", 5000)
	v.SetDefault("REQUEST_TIMEOUT_MS", 30000)
	v.SetDefault("TOKEN_TTL_MINUTES", 480)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CREATE_INDEXES_ON_STARTUP", true)
	v.SetDefault("ANALYTICS_CACHE_TTL_SECONDS", 300)
	v.SetDefault("KAFKA_TOPIC", "lis.events")
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("RESIDENT_CAN_SIGN", false)
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	for _, k := range boundKeys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))
	cfg.Holidays = splitList(cfg.Holidays, v.GetString("HOLIDAYS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.JWTSecret == "" {
		log.Println("WARNING: JWT_SECRET is not set, using an insecure development secret.")
		cfg.JWTSecret = "development-only-secret-change-me-0000"
	}

	return cfg, nil
}

// splitList normalises a list setting that may arrive as a single comma-joined
// environment value.
func splitList(parsed []string, raw string) []string {
	items := parsed
	if raw != "" {
		items = strings.Split(raw, ",")
	}
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

// AnalyticsCacheTTL returns the configured TTL clamped to MaxAnalyticsCacheTTL.
func (c *Config) AnalyticsCacheTTL() time.Duration {
	ttl := time.Duration(c.AnalyticsCacheTTLSec) * time.Second
	if ttl > MaxAnalyticsCacheTTL {
		return MaxAnalyticsCacheTTL
	}
	return ttl
}

// Location resolves TIMEZONE, used to take calendar dates of timestamps.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// HolidayDates parses HOLIDAYS entries (YYYY-MM-DD).
func (c *Config) HolidayDates() ([]time.Time, error) {
	out := make([]time.Time, 0, len(c.Holidays))
	for _, h := range c.Holidays {
		d, err := time.Parse("2006-01-02", h)
		if err != nil {
			return nil, fmt.Errorf("HOLIDAYS entry %q is not a YYYY-MM-DD date: %w", h, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.JWTSecret))
	}
	if c.TokenTTLMinutes <= 0 {
		return fmt.Errorf("TOKEN_TTL_MINUTES must be positive, got %d", c.TokenTTLMinutes)
	}
	if c.StoreTimeoutMS <= 0 {
		return fmt.Errorf("STORE_TIMEOUT_MS must be positive, got %d", c.StoreTimeoutMS)
	}
	if c.DBMaxConns < c.DBMinConns {
		return fmt.Errorf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.DBMaxConns, c.DBMinConns)
	}
	if c.DBSchema == "" {
		return fmt.Errorf("DB_SCHEMA is required")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	if _, err := c.HolidayDates(); err != nil {
		return err
	}
	if c.IsProduction() && len(c.CORSOrigins) == 1 && c.CORSOrigins[0] == "*" {
		return fmt.Errorf("CORS_ORIGINS must not be a wildcard in production")
	}
	return nil
}
