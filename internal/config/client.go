package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the device-side configuration, read from
// ~/.tokenlink/config.yaml.
type ClientConfig struct {
	ServerURL      string        `yaml:"server_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	LogLevel       string        `yaml:"log_level"`
	SessionPath    string        `yaml:"session_path"`

	Push    PushSettings  `yaml:"push"`
	Lockout ClientLockout `yaml:"lockout"`
}

// PushSettings configures the websocket channel.
type PushSettings struct {
	Enabled      bool          `yaml:"enabled"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	MaxRetries   int           `yaml:"max_retries"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// ClientLockout configures the device governor.
type ClientLockout struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	AttemptWindow   time.Duration `yaml:"attempt_window"`
	LockoutDuration time.Duration `yaml:"lockout_duration"`
	Store           string        `yaml:"store"` // file | sqlite | redis
	Path            string        `yaml:"path"`
	RedisAddr       string        `yaml:"redis_addr"`
}

// ClientDir returns ~/.tokenlink.
func ClientDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".tokenlink"), nil
}

// DefaultClientConfig returns the defaults rooted at dir.
func DefaultClientConfig(dir string) *ClientConfig {
	return &ClientConfig{
		ServerURL:      "http://localhost:8080",
		RequestTimeout: 10 * time.Second,
		PollInterval:   2 * time.Second,
		LogLevel:       "warn",
		SessionPath:    filepath.Join(dir, "session.json"),
		Push: PushSettings{
			Enabled:      true,
			RetryDelay:   3 * time.Second,
			MaxRetries:   5,
			PingInterval: 20 * time.Second,
		},
		Lockout: ClientLockout{
			MaxAttempts:     5,
			AttemptWindow:   15 * time.Minute,
			LockoutDuration: 15 * time.Minute,
			Store:           "file",
			Path:            filepath.Join(dir, "lockout.json"),
		},
	}
}

// LoadClient reads path over the defaults and applies TOKENLINK_*
// environment overrides. A missing file is not an error.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig(filepath.Dir(path))

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.ServerURL = getEnv("TOKENLINK_SERVER_URL", cfg.ServerURL)
	cfg.LogLevel = getEnv("TOKENLINK_LOG_LEVEL", cfg.LogLevel)
	cfg.Lockout.Store = getEnv("TOKENLINK_LOCKOUT_STORE", cfg.Lockout.Store)
	cfg.Lockout.RedisAddr = getEnv("TOKENLINK_REDIS_ADDR", cfg.Lockout.RedisAddr)
	cfg.PollInterval = getEnvAsDuration("TOKENLINK_POLL_INTERVAL", cfg.PollInterval)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.Push.Enabled && (c.Push.PingInterval <= 0 || c.Push.RetryDelay < 0 || c.Push.MaxRetries < 0) {
		return fmt.Errorf("push settings must be non-negative with a positive ping_interval")
	}
	if c.Lockout.MaxAttempts < 1 {
		return fmt.Errorf("lockout.max_attempts must be positive")
	}
	switch c.Lockout.Store {
	case "file", "sqlite":
		if c.Lockout.Path == "" {
			return fmt.Errorf("lockout.path is required for the %s store", c.Lockout.Store)
		}
	case "redis":
		if c.Lockout.RedisAddr == "" {
			return fmt.Errorf("lockout.redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("lockout.store must be file, sqlite or redis, got %q", c.Lockout.Store)
	}
	return nil
}

// Save writes the config to path with owner-only permissions.
func (c *ClientConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
