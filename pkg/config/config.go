// Package config loads the uberallfs configuration from file, environment
// and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config captures the static configuration of the uberallfs commands.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (UBERALLFS_*), for keys the configuration file sets
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Store holds objectstore defaults.
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Fuse holds filesystem mount defaults.
	Fuse FuseConfig `mapstructure:"fuse" yaml:"fuse"`

	// Metrics contains the Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// StoreConfig holds objectstore defaults.
type StoreConfig struct {
	// Directory is the default objectstore directory used when a command
	// does not name one.
	Directory string `mapstructure:"directory" yaml:"directory"`
}

// FuseConfig holds filesystem mount defaults.
type FuseConfig struct {
	// AllowOther passes the allow_other mount option to the kernel.
	AllowOther bool `mapstructure:"allow_other" yaml:"allow_other"`

	// Foreground keeps the mount process attached to the terminal.
	Foreground bool `mapstructure:"foreground" yaml:"foreground"`

	// PidFile is written by the daemonized mount when non-empty.
	PidFile string `mapstructure:"pid_file" yaml:"pid_file,omitempty"`

	// InodeCacheDir switches the inode table to the disk-backed
	// implementation when non-empty.
	InodeCacheDir string `mapstructure:"inode_cache_dir" yaml:"inode_cache_dir,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server. When
// Enabled is false no metrics are collected.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP server run.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint.
	Port int `mapstructure:"port" yaml:"port"`
}

// GetDefaultConfig returns the built-in defaults.
func GetDefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	defaults := GetDefaultConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = defaults.Logging.Output
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = defaults.Metrics.Port
	}
}

// Validate checks the configuration for consistency.
func Validate(cfg *Config) error {
	switch strings.ToUpper(cfg.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid logging.level: %q", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format: %q", cfg.Logging.Format)
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics.port: %d", cfg.Metrics.Port)
	}
	return nil
}

// Load loads configuration from file, environment and defaults. An empty
// configPath uses the default location and falls back to pure defaults
// when no file exists there.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetDefaultConfigPath returns $XDG_CONFIG_HOME/uberallfs/config.yaml.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "uberallfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "uberallfs"
	}
	return filepath.Join(home, ".config", "uberallfs")
}

// setupViper configures environment variables and config file search.
// Environment variables use the UBERALLFS_ prefix with underscores, e.g.
// UBERALLFS_LOGGING_LEVEL=DEBUG. They override only keys that the loaded
// config file sets; when no config file is found, Load returns the built-in
// defaults and environment variables are not consulted.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("UBERALLFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if present. A missing file is
// not an error; defaults apply.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the decode hooks for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(durationDecodeHook())
}

// durationDecodeHook converts strings like "30s" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) || from.Kind() != reflect.String {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}
