// Package config holds the relay configuration and loads it from defaults,
// an optional yaml file and CHATRELAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/cyberinferno/chatrelay/session"
)

// History backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

var ErrInvalidConfig = errors.New("config: invalid")

// History selects and configures the chat history sink.
type History struct {
	Backend    string        `mapstructure:"backend" yaml:"backend"`
	Path       string        `mapstructure:"path" yaml:"path"`
	SQLitePath string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	RedisAddr  string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisKey   string        `mapstructure:"redis_key" yaml:"redis_key"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Config holds relay configuration values.
type Config struct {
	Addr                string        `mapstructure:"addr" yaml:"addr"`
	MaxClients          int           `mapstructure:"max_clients" yaml:"max_clients"`
	MaxLineBytes        int           `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
	SendQueueSize       int           `mapstructure:"send_queue_size" yaml:"send_queue_size"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	RegistrationTimeout time.Duration `mapstructure:"registration_timeout" yaml:"registration_timeout"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel            string        `mapstructure:"log_level" yaml:"log_level"`
	LogFile             string        `mapstructure:"log_file" yaml:"log_file"`
	Echo                bool          `mapstructure:"echo" yaml:"echo"`
	History             History       `mapstructure:"history" yaml:"history"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                ":8080",
		MaxClients:          10,
		MaxLineBytes:        1024,
		SendQueueSize:       64,
		WriteTimeout:        5 * time.Second,
		RegistrationTimeout: 30 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		LogLevel:            "info",
		History: History{
			Backend:    BackendFile,
			Path:       "chat_history",
			SQLitePath: "chat_history.db",
			RedisAddr:  "localhost:6379",
			RedisKey:   "chatrelay:history",
			Timeout:    2 * time.Second,
		},
	}
}

// Validate reports every invalid value at once.
//
// Returns:
//   - nil, or an error wrapping ErrInvalidConfig that lists each problem
func (c Config) Validate() error {
	var problems []error

	if c.Addr == "" {
		problems = append(problems, errors.New("addr is empty"))
	}
	if c.MaxClients < 1 {
		problems = append(problems, fmt.Errorf("max_clients must be at least 1, got %d", c.MaxClients))
	}
	if c.MaxLineBytes < 32 {
		problems = append(problems, fmt.Errorf("max_line_bytes must be at least 32, got %d", c.MaxLineBytes))
	}
	if c.SendQueueSize < 1 {
		problems = append(problems, fmt.Errorf("send_queue_size must be at least 1, got %d", c.SendQueueSize))
	}

	for key, d := range map[string]time.Duration{
		"write_timeout":        c.WriteTimeout,
		"registration_timeout": c.RegistrationTimeout,
		"shutdown_timeout":     c.ShutdownTimeout,
		"history.timeout":      c.History.Timeout,
	} {
		if d <= 0 {
			problems = append(problems, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}

	switch c.History.Backend {
	case BackendFile:
		if c.History.Path == "" {
			problems = append(problems, errors.New("history.path is empty"))
		}
	case BackendSQLite:
		if c.History.SQLitePath == "" {
			problems = append(problems, errors.New("history.sqlite_path is empty"))
		}
	case BackendRedis:
		if c.History.RedisAddr == "" || c.History.RedisKey == "" {
			problems = append(problems, errors.New("history.redis_addr and history.redis_key are required"))
		}
	case BackendNone:
	default:
		problems = append(problems, fmt.Errorf("unknown history.backend %q", c.History.Backend))
	}

	if len(problems) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
}

// SessionOptions returns the per-connection settings.
func (c Config) SessionOptions() session.Options {
	return session.Options{
		MaxLineBytes:        c.MaxLineBytes,
		SendQueueSize:       c.SendQueueSize,
		WriteTimeout:        c.WriteTimeout,
		RegistrationTimeout: c.RegistrationTimeout,
	}
}
