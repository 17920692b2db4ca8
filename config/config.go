// Package config provides environment-variable driven configuration loading
// for both the server and client sync engines, following the prefixed
// EnvConfig pattern used across this codebase's services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig loads typed values from environment variables under an optional
// prefix (e.g. prefix "DOCSYNC" + key "SERVER_URL" -> "DOCSYNC_SERVER_URL").
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates an environment configuration loader.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// GetString retrieves a string value with a default.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		return v
	}
	return defaultValue
}

// GetInt retrieves an integer value with a default.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value with a default.
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value with a default.
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// ServerConfig configures the sync server process.
type ServerConfig struct {
	Port              int
	DatabaseURL       string // serverstore pgx connection string
	HeartbeatInterval time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	Monitoring        bool // enables structured activity logging
}

// LoadServerConfig loads ServerConfig from environment variables prefixed
// with "DOCSYNC".
func LoadServerConfig() ServerConfig {
	env := NewEnvConfig("DOCSYNC")
	return ServerConfig{
		Port:              env.GetInt("PORT", 8787),
		DatabaseURL:       env.GetString("DATABASE_URL", "postgres://localhost:5432/docsync?sslmode=disable"),
		HeartbeatInterval: env.GetDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		BackoffMin:        env.GetDuration("BACKOFF_MIN", 1*time.Second),
		BackoffMax:        env.GetDuration("BACKOFF_MAX", 30*time.Second),
		Monitoring:        env.GetBool("MONITORING", false),
	}
}

// ClientConfig configures an embedded client engine.
type ClientConfig struct {
	DatabasePath      string // bbolt file path
	ServerURL         string // ws:// or wss://
	Email             string
	APIKey            string
	APISecret         string
	HeartbeatInterval time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	DispatcherQueue   int // event dispatcher queue capacity
	Monitoring        bool
}

// LoadClientConfig loads ClientConfig defaults from environment variables,
// to be overridden by explicit arguments passed to embedder.New.
func LoadClientConfig() ClientConfig {
	env := NewEnvConfig("DOCSYNC_CLIENT")
	return ClientConfig{
		DatabasePath:      env.GetString("DATABASE_PATH", "docsync-client.db"),
		HeartbeatInterval: env.GetDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		BackoffMin:        env.GetDuration("BACKOFF_MIN", 1*time.Second),
		BackoffMax:        env.GetDuration("BACKOFF_MAX", 30*time.Second),
		DispatcherQueue:   env.GetInt("DISPATCHER_QUEUE", 1024),
		Monitoring:        env.GetBool("MONITORING", false),
	}
}

// GetStringSlice retrieves a comma-separated string slice from environment.
func (ec *EnvConfig) GetStringSlice(key string, defaultValue []string) []string {
	v := os.Getenv(ec.buildKey(key))
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
