package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvOptions is the environment-variable surface for constructing a
// snstr Client, grounded on asmogo-nws/config/config.go's EntryConfig
// and ExitConfig. A caller that prefers env-driven setup loads one of
// these and translates it into RelayOptions/ClientOptions, rather than
// snstr depending on it directly.
type EnvOptions struct {
	NostrRelays        []string `env:"NOSTR_RELAYS" envSeparator:";"`
	NostrPrivateKey    string   `env:"NOSTR_PRIVATE_KEY"`
	ConnectionTimeoutMs int64   `env:"NOSTR_CONNECTION_TIMEOUT_MS" envDefault:"10000"`
	BufferFlushDelayMs  int64   `env:"NOSTR_BUFFER_FLUSH_DELAY_MS" envDefault:"50"`
	AutoReconnect       bool    `env:"NOSTR_AUTO_RECONNECT" envDefault:"true"`
	MaxReconnectAttempts int    `env:"NOSTR_MAX_RECONNECT_ATTEMPTS" envDefault:"10"`
	MaxReconnectDelayMs int64   `env:"NOSTR_MAX_RECONNECT_DELAY_MS" envDefault:"60000"`
	RedisURL            string  `env:"NOSTR_CACHE_REDIS_URL"`
}

// LoadConfig loads T from a .env file (home directory, then current
// directory) falling back to plain process environment variables, the
// same search order as asmogo-nws's LoadConfig[T].
func LoadConfig[T any]() (*T, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("could not determine home directory", "error", err)
	}

	if homeDir != "" {
		if _, statErr := os.Stat(homeDir + "/.env"); statErr == nil {
			return loadFromEnv[T](homeDir + "/.env")
		}
	}
	if _, statErr := os.Stat(".env"); statErr == nil {
		return loadFromEnv[T]("")
	}
	return loadFromEnv[T]("")
}

func loadFromEnv[T any](path string) (*T, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			slog.Debug("no .env file loaded, using process environment", "path", path, "error", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := env.ParseAs[T]()
	if err != nil {
		return nil, fmt.Errorf("snstr/config: failed to parse environment: %w", err)
	}
	return &cfg, nil
}

func (e *EnvOptions) ConnectionTimeout() time.Duration {
	return time.Duration(e.ConnectionTimeoutMs) * time.Millisecond
}

func (e *EnvOptions) BufferFlushDelay() time.Duration {
	return time.Duration(e.BufferFlushDelayMs) * time.Millisecond
}

func (e *EnvOptions) MaxReconnectDelay() time.Duration {
	return time.Duration(e.MaxReconnectDelayMs) * time.Millisecond
}
