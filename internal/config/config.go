package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	AuthModeSecret = "secret"
	AuthModeHeader = "header"
	AuthModeBearer = "bearer"

	StoreDriverFile     = "file"
	StoreDriverRedis    = "redis"
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
)

var (
	ErrMissingBackendURL = errors.New("BACKEND_URL is required")
	ErrMissingSecret     = errors.New("SECRET_TOKEN is required when AUTH_MODE=secret")
	ErrInvalidAuthMode   = errors.New("AUTH_MODE must be 'secret', 'header' or 'bearer'")
	ErrInvalidMasterKey  = errors.New("MASTER_KEY_B64 must decode to 32 bytes")
)

type Config struct {
	ListenAddr  string
	BackendURL  string
	HealthPath  string
	MetricsPath string

	Auth  AuthConfig
	HTTP  HTTPConfig
	Redis RedisConfig
	Rate  RateConfig
	Log   LogConfig
}

type AuthConfig struct {
	Mode         string
	Secret       string
	SecretHeader string
}

type HTTPConfig struct {
	ClientTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateConfig struct {
	PerMinute int64
}

type LogConfig struct {
	Level string
}

// ClientConfig holds everything the chat CLI needs to talk to the relay
// and to persist its session state locally.
type ClientConfig struct {
	RelayURL     string
	AuthRequired bool

	Store StoreConfig
	HTTP  HTTPConfig
	Redis RedisConfig
	Log   LogConfig

	MasterKey []byte
}

type StoreConfig struct {
	Driver string
	DSN    string
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  mustEnv("LISTEN_ADDR", ":3000"),
		BackendURL:  mustEnv("BACKEND_URL", "http://localhost:5000"),
		HealthPath:  mustEnv("HEALTH_PATH", "/api/health"),
		MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
		Auth: AuthConfig{
			Mode:         strings.ToLower(mustEnv("AUTH_MODE", AuthModeSecret)),
			Secret:       mustEnv("SECRET_TOKEN", ""),
			SecretHeader: mustEnv("SECRET_HEADER", "X-Secret-Token"),
		},
		HTTP: HTTPConfig{
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", ""),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		Rate: RateConfig{
			PerMinute: int64(mustInt("RATE_LIMIT_PER_MINUTE", 60)),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.BackendURL == "" {
		return nil, ErrMissingBackendURL
	}
	switch cfg.Auth.Mode {
	case AuthModeSecret:
		if cfg.Auth.Secret == "" {
			return nil, ErrMissingSecret
		}
	case AuthModeHeader, AuthModeBearer:
	default:
		return nil, ErrInvalidAuthMode
	}

	return cfg, nil
}

func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		RelayURL:     mustEnv("RELAY_URL", "http://localhost:3000"),
		AuthRequired: mustBool("AUTH_REQUIRED", false),
		Store: StoreConfig{
			Driver: strings.ToLower(mustEnv("STORE_DRIVER", StoreDriverFile)),
			DSN:    mustEnv("STORE_DSN", defaultStatePath()),
		},
		HTTP: HTTPConfig{
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	switch cfg.Store.Driver {
	case StoreDriverFile, StoreDriverRedis, StoreDriverSQLite, StoreDriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.Store.Driver)
	}

	if b64 := mustEnv("MASTER_KEY_B64", ""); b64 != "" {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode MASTER_KEY_B64: %w", err)
		}
		if len(raw) != 32 {
			return nil, ErrInvalidMasterKey
		}
		cfg.MasterKey = raw
	}

	return cfg, nil
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "nicorelay-state.json"
	}
	return home + "/.nicorelay/state.json"
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
