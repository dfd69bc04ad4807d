// Package config provides YAML-based configuration loading for yggdrasil.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the process
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Comm selects the default transport backend and its settings
	Comm CommConfig `mapstructure:"comm"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults. The local ipc
// queue backend is the default transport when nothing else is requested.
func Default() *Config {
	return &Config{
		AppName: "ygg",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/ygg.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Comm: CommConfig{
			Default: "ipc",
			Queue:   QueueConfig{Depth: 64},
			Socket:  SocketConfig{Host: "127.0.0.1", PipeName: `\\.\pipe\ygg`},
			Wire:    WireConfig{Codec: "cbor", MaxFrame: 64 * 1024},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix YGG and `.`/`-` are replaced with `_`.
// Example: YGG_COMM_DEFAULT=socket
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("YGG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("comm.default", cfg.Comm.Default)
	v.SetDefault("comm.queue.depth", cfg.Comm.Queue.Depth)
	v.SetDefault("comm.socket.host", cfg.Comm.Socket.Host)
	v.SetDefault("comm.socket.pipe_name", cfg.Comm.Socket.PipeName)
	v.SetDefault("comm.wire.codec", cfg.Comm.Wire.Codec)
	v.SetDefault("comm.wire.max_frame", cfg.Comm.Wire.MaxFrame)

	// Choose config file
	if path == "" {
		if envPath := os.Getenv("YGG_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `ygg`
		v.SetConfigName("ygg")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ygg"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	c.Comm.Default = strings.ToLower(strings.TrimSpace(c.Comm.Default))
	if c.Comm.Default == "" {
		c.Comm.Default = "ipc"
	}
	if c.Comm.Queue.Depth <= 0 {
		c.Comm.Queue.Depth = 64
	}
	if strings.TrimSpace(c.Comm.Socket.Host) == "" {
		c.Comm.Socket.Host = "127.0.0.1"
	}
	switch strings.ToLower(strings.TrimSpace(c.Comm.Wire.Codec)) {
	case "", "cbor":
		c.Comm.Wire.Codec = "cbor"
	case "json":
		c.Comm.Wire.Codec = "json"
	default:
		return fmt.Errorf("invalid comm.wire.codec: %q", c.Comm.Wire.Codec)
	}
	if c.Comm.Wire.MaxFrame <= 0 {
		c.Comm.Wire.MaxFrame = 64 * 1024
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
