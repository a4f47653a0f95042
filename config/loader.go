package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cyberinferno/chatrelay/logger"
)

const (
	envPrefix         = "CHATRELAY"
	envConfigPath     = "CHATRELAY_CONFIG"
	DefaultConfigName = "chatrelay.yaml"
)

// Loader reads configuration and can watch the file for changes.
// Precedence: defaults < config file < env vars.
type Loader struct {
	v        *viper.Viper
	path     string
	fromFile bool
	log      logger.Logger

	mu sync.Mutex
}

// NewLoader prepares a loader for explicitPath. When explicitPath is empty
// the path comes from CHATRELAY_CONFIG, falling back to chatrelay.yaml in
// the working directory.
func NewLoader(explicitPath string, log logger.Logger) *Loader {
	if log == nil {
		log = logger.Nop()
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := resolveConfigPath(explicitPath)
	v.SetConfigFile(path)

	return &Loader{
		v:    v,
		path: path,
		log:  log.With(logger.Field{Key: "component", Value: "config"}),
	}
}

// SetLogger replaces the logger used to report reloads.
func (l *Loader) SetLogger(log logger.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log = log.With(logger.Field{Key: "component", Value: "config"})
}

// Path returns the config file path the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the config file if it exists, applies env overrides and
// validates the result. A missing file is not an error.
//
// Returns:
//   - The resolved configuration
//   - An error if the file cannot be parsed or the result is invalid
func (l *Loader) Load() (Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Default(), fmt.Errorf("read config: %w", err)
		}
		l.log.Debug("no config file, using defaults", logger.Field{Key: "path", Value: l.path})
	} else {
		l.fromFile = true
	}

	return l.decode()
}

// Watch calls fn with the new configuration each time the config file
// changes. Invalid updates are logged and skipped. Watch does nothing when
// Load found no file.
func (l *Loader) Watch(fn func(Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.fromFile {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.mu.Lock()
		cfg, err := l.decode()
		log := l.log
		l.mu.Unlock()

		if err != nil {
			log.Warn("ignoring config change", logger.Field{Key: "path", Value: e.Name}, logger.Err(err))
			return
		}

		log.Info("config reloaded", logger.Field{Key: "path", Value: e.Name}, logger.Field{Key: "op", Value: e.Op.String()})
		fn(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Default(), fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Load is a shortcut for NewLoader(explicitPath, nil).Load().
func Load(explicitPath string) (Config, error) {
	return NewLoader(explicitPath, nil).Load()
}

// WriteDefault writes the default configuration as yaml to path, creating
// parent directories. An existing file is left untouched.
//
// Returns:
//   - An error wrapping os.ErrExist if path already exists
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("write default config %s: %w", path, os.ErrExist)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("max_clients", cfg.MaxClients)
	v.SetDefault("max_line_bytes", cfg.MaxLineBytes)
	v.SetDefault("send_queue_size", cfg.SendQueueSize)
	v.SetDefault("write_timeout", cfg.WriteTimeout)
	v.SetDefault("registration_timeout", cfg.RegistrationTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("echo", cfg.Echo)
	v.SetDefault("history.backend", cfg.History.Backend)
	v.SetDefault("history.path", cfg.History.Path)
	v.SetDefault("history.sqlite_path", cfg.History.SQLitePath)
	v.SetDefault("history.redis_addr", cfg.History.RedisAddr)
	v.SetDefault("history.redis_key", cfg.History.RedisKey)
	v.SetDefault("history.timeout", cfg.History.Timeout)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}

	cwd, err := os.Getwd()
	if err != nil {
		return DefaultConfigName
	}
	return filepath.Join(cwd, DefaultConfigName)
}
