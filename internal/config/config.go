package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all server configuration. Values come from a YAML file
// (config.yaml) with environment variable overrides; secrets (tokens,
// mnemonics) must only come from environment variables.
type Config struct {
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	DataDir  string `yaml:"data_dir" env:"DATA_DIR" env-default:"./data"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	// GitHubToken raises the API rate limit; empty means unauthenticated.
	GitHubToken string `yaml:"-" env:"GITHUB_TOKEN"`

	JWTSecret string `yaml:"-" env:"JWT_SECRET" env-default:"trustchain-dev-secret-change-in-production"`

	CORS      CORSConfig      `yaml:"cors"`
	Redis     RedisConfig     `yaml:"redis"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"30s"`
}

// CORSConfig holds the allowed browser origins, comma separated in the env form.
type CORSConfig struct {
	AllowedOriginsStr string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"http://localhost:3000,http://localhost:5173"`

	// AllowedOrigins is parsed from AllowedOriginsStr at load time.
	AllowedOrigins []string `yaml:"-"`
}

// RedisConfig holds the optional Redis connection used for distributed rate
// limiting. An empty address disables Redis and the server falls back to
// in-process limiters.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:""`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// LedgerConfig holds the Algorand node connection and the operator account.
// Empty NodeAddress or Mnemonic disables on-ledger anchoring; projects then
// run entirely off-ledger.
type LedgerConfig struct {
	NodeAddress       string `yaml:"node_address" env:"ALGOD_ADDRESS" env-default:""`
	NodeToken         string `yaml:"-" env:"ALGOD_TOKEN"`
	Mnemonic          string `yaml:"-" env:"LEDGER_MNEMONIC"`
	ReputationAssetID uint64 `yaml:"reputation_asset_id" env:"REPUTATION_ASSET_ID" env-default:"0"`
}

// RateLimitConfig mirrors ratelimit.Config so limits can be tuned without a rebuild.
type RateLimitConfig struct {
	IPLimitPerMin       int `yaml:"ip_limit_per_min" env:"RATE_LIMIT_IP_PER_MIN" env-default:"60"`
	AnalyzeLimitPerHour int `yaml:"analyze_limit_per_hour" env:"RATE_LIMIT_ANALYZE_PER_HOUR" env-default:"10"`
	VoteLimitPerMin     int `yaml:"vote_limit_per_min" env:"RATE_LIMIT_VOTE_PER_MIN" env-default:"20"`
}

// Load reads config.yaml if present, then applies environment overrides.
// A missing config file is not an error; everything has an env default.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.CORS.AllowedOrigins = splitAndTrim(cfg.CORS.AllowedOriginsStr)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Ledger.NodeAddress != "" && c.Ledger.Mnemonic == "" {
		return fmt.Errorf("ALGOD_ADDRESS is set but LEDGER_MNEMONIC is empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}

// SlogLevel maps the configured level string onto slog's levels.
// Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
