// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/layer-3/sessionauth/core"
	"github.com/layer-3/sessionauth/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// EnvDev enables the console logger and the in-memory ledger when no relay is configured.
const EnvDev = "DEV"

// Config holds all env configuration vars for the session service.
type Config struct {
	Port     string
	Env      string
	LogLevel zerolog.Level
	RedisURL string

	// ServicePrivateKey signs session hashes and relay calls. Required.
	ServicePrivateKey string
	CommunitiesFile   string

	// One relay must be configured outside DEV, where submissions otherwise go to an in-memory ledger.
	// USEROP_CONFIG_FILE takes precedence over RELAY_URL.
	RelayURL    string
	RelaySecret string

	// UserOpConfigFile configures an ERC-4337 bundler and paymaster for the service smart wallet.
	UserOpConfigFile  string
	UserOpWalletIndex decimal.Decimal

	ChallengeTTL    time.Duration
	ChallengeDigits int
	OracleTimeout   time.Duration
	RelayTimeout    time.Duration
	NotifyTimeout   time.Duration

	// Requests allowed per (source, community) in each trailing window.
	RateLimit30s int
	RateLimit10m int
	RateLimit24h int
}

// Dev reports whether the service runs in development mode.
func (c *Config) Dev() bool {
	return c.Env == EnvDev
}

// LoadConfig reads environment variables and returns a validated Config.
// Missing secrets are reported as configuration errors.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:              GetEnv("PORT", "9000"),
		Env:               strings.ToUpper(GetEnv("ENV", "PROD")),
		RedisURL:          GetEnv("REDIS_URL", "redis://localhost:6379/0"),
		ServicePrivateKey: os.Getenv("SERVICE_PRIVATE_KEY"),
		CommunitiesFile:   GetEnv("COMMUNITIES_FILE", "communities.yaml"),
		RelayURL:          os.Getenv("RELAY_URL"),
		RelaySecret:       os.Getenv("RELAY_SECRET"),
		UserOpConfigFile:  os.Getenv("USEROP_CONFIG_FILE"),
	}

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = zerolog.DebugLevel
	case "warn":
		cfg.LogLevel = zerolog.WarnLevel
	case "error":
		cfg.LogLevel = zerolog.ErrorLevel
	default:
		cfg.LogLevel = zerolog.InfoLevel
	}

	if cfg.ServicePrivateKey == "" {
		return nil, missing("SERVICE_PRIVATE_KEY")
	}
	if cfg.RelayURL == "" && cfg.UserOpConfigFile == "" && !cfg.Dev() {
		return nil, missing("RELAY_URL or USEROP_CONFIG_FILE")
	}
	if cfg.RelayURL != "" && cfg.UserOpConfigFile == "" && cfg.RelaySecret == "" {
		return nil, missing("RELAY_SECRET")
	}

	index, err := decimal.NewFromString(GetEnv("USEROP_WALLET_INDEX", "0"))
	if err != nil || index.IsNegative() || !index.IsInteger() {
		return nil, core.Wrap(core.KindConfiguration, "server misconfigured", errors.New("USEROP_WALLET_INDEX must be a non-negative integer"))
	}
	cfg.UserOpWalletIndex = index

	cfg.ChallengeTTL = envDuration("CHALLENGE_TTL", 5*time.Minute)
	if cfg.ChallengeTTL > service.MaxChallengeTTL {
		return nil, core.Wrap(core.KindConfiguration, "server misconfigured", errors.New("CHALLENGE_TTL must be at most "+service.MaxChallengeTTL.String()))
	}
	cfg.ChallengeDigits = envInt("CHALLENGE_DIGITS", 6)
	if cfg.ChallengeDigits > 18 {
		return nil, core.Wrap(core.KindConfiguration, "server misconfigured", errors.New("CHALLENGE_DIGITS must be at most 18"))
	}
	cfg.OracleTimeout = envDuration("ORACLE_TIMEOUT", 5*time.Second)
	cfg.RelayTimeout = envDuration("RELAY_TIMEOUT", 15*time.Second)
	cfg.NotifyTimeout = envDuration("NOTIFY_TIMEOUT", 10*time.Second)

	cfg.RateLimit30s = envInt("RATE_LIMIT_30S", 3)
	cfg.RateLimit10m = envInt("RATE_LIMIT_10M", 10)
	cfg.RateLimit24h = envInt("RATE_LIMIT_24H", 20)

	return cfg, nil
}

// GetEnv returns the value of key, or def when it is unset or empty.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func missing(key string) error {
	return core.Wrap(core.KindConfiguration, "server misconfigured", errors.New(key+" is required"))
}

// envInt reads an env var as a positive int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("invalid env var, using default")
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", v).Dur("default", def).Msg("invalid env var, using default")
		return def
	}
	return d
}
