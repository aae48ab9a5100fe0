// Package config loads the relay server configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the relay server runtime parameters.
type Config struct {
	ListenAddress       string        `mapstructure:"listen_address"`
	AdminAddress        string        `mapstructure:"admin_address"`
	WebSocketPath       string        `mapstructure:"websocket_path"`
	MaxFrameSize        int           `mapstructure:"max_frame_size"`
	OutgoingBuffer      int           `mapstructure:"outgoing_buffer"`
	LogLevel            string        `mapstructure:"log_level"`
	LogFormat           string        `mapstructure:"log_format"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

const (
	defaultListenAddress       = ":5464"
	defaultAdminAddress        = "127.0.0.1:9464"
	defaultWebSocketPath       = "/ws"
	defaultMaxFrameSize        = 1 << 20
	defaultOutgoingBuffer      = 64
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultShutdownGracePeriod = 5 * time.Second
)

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		ListenAddress:       defaultListenAddress,
		AdminAddress:        defaultAdminAddress,
		WebSocketPath:       defaultWebSocketPath,
		MaxFrameSize:        defaultMaxFrameSize,
		OutgoingBuffer:      defaultOutgoingBuffer,
		LogLevel:            defaultLogLevel,
		LogFormat:           defaultLogFormat,
		ShutdownGracePeriod: defaultShutdownGracePeriod,
	}
}

// New returns a viper instance with defaults and RELAY_ environment binding.
// Callers may bind command line flags to it before calling FromViper.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("listen_address", d.ListenAddress)
	v.SetDefault("admin_address", d.AdminAddress)
	v.SetDefault("websocket_path", d.WebSocketPath)
	v.SetDefault("max_frame_size", d.MaxFrameSize)
	v.SetDefault("outgoing_buffer", d.OutgoingBuffer)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("shutdown_grace_period", d.ShutdownGracePeriod.String())
	return v
}

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with RELAY_ and override file values.
func Load(path string) (Config, error) {
	return LoadWith(New(), path)
}

// LoadWith is Load on a viper instance prepared by New, typically with
// command line flags bound to it.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// env values arrive as strings, so parse the duration ourselves
	dur, err := time.ParseDuration(v.GetString("shutdown_grace_period"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid shutdown_grace_period: %w", err)
	}
	cfg.ShutdownGracePeriod = dur

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddress == "" {
		errs = append(errs, errors.New("listen_address must not be empty"))
	}
	if !strings.HasPrefix(c.WebSocketPath, "/") {
		errs = append(errs, fmt.Errorf("websocket_path %q must start with /", c.WebSocketPath))
	}
	if c.MaxFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("max_frame_size must be positive, got %d", c.MaxFrameSize))
	}
	if c.OutgoingBuffer <= 0 {
		errs = append(errs, fmt.Errorf("outgoing_buffer must be positive, got %d", c.OutgoingBuffer))
	}
	if c.ShutdownGracePeriod < 0 {
		errs = append(errs, fmt.Errorf("shutdown_grace_period must not be negative, got %s", c.ShutdownGracePeriod))
	}
	return errors.Join(errs...)
}
