package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalidPolicy is returned when a policy file fails validation.
var ErrInvalidPolicy = errors.New("invalid policy configuration")

// Config is the environment-supplied service configuration. Absence of the
// shared-store configuration must not crash the process; callers degrade to
// the in-memory fallback instead.
type Config struct {
	ServerPort       string
	RedisURL         string
	UpstreamEndpoint string
	UpstreamAPIKeys  []string
	AdminToken       string

	// DailyLimit is the per-identity request budget inside one 24h window.
	DailyLimit int

	// CacheTTL bounds how long a cached upstream response is served.
	CacheTTL time.Duration

	// BanDuration is how long an abusive identity stays banned.
	BanDuration time.Duration

	// RiskThreshold is the score at which the abuse detector issues a ban.
	RiskThreshold float64

	// Policy tunes the abuse detector signals and weights.
	Policy Policy
}

// Load reads configuration from the environment, with a .env file picked up
// when present. An optional POLICY_FILE overrides the abuse policy.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		RedisURL:         getEnv("REDIS_URL", ""),
		UpstreamEndpoint: getEnv("UPSTREAM_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
		UpstreamAPIKeys:  splitList(getEnv("UPSTREAM_API_KEYS", "")),
		AdminToken:       getEnv("ADMIN_TOKEN", ""),
		DailyLimit:       getEnvInt("DAILY_LIMIT", 10),
		CacheTTL:         getEnvDuration("CACHE_TTL", time.Hour),
		BanDuration:      getEnvDuration("BAN_DURATION", time.Hour),
		RiskThreshold:    getEnvFloat("RISK_BAN_THRESHOLD", 10),
		Policy:           DefaultPolicy(),
	}

	if path := os.Getenv("POLICY_FILE"); path != "" {
		policy, err := LoadPolicyFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Policy = *policy
	}

	if cfg.DailyLimit <= 0 {
		return nil, fmt.Errorf("%w: DAILY_LIMIT must be positive", ErrInvalidPolicy)
	}
	if cfg.RiskThreshold <= 0 {
		return nil, fmt.Errorf("%w: RISK_BAN_THRESHOLD must be positive", ErrInvalidPolicy)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
