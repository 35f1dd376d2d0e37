// Package config provides configuration management for domplate using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration is read from .domplate.yml (or the file passed with
// --config), overridden by DOMPLATE_ prefixed environment variables and by
// flags bound in cmd. It covers rendering, data loading, file watching, the
// preview server and logging.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	// embedded zone database so render.timezone works without system tzdata
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. DOMPLATE_SERVER_PORT.
const EnvPrefix = "DOMPLATE"

type Config struct {
	Render RenderConfig `yaml:"render"`
	Data   DataConfig   `yaml:"data"`
	Watch  WatchConfig  `yaml:"watch"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	// Target files given on the command line, not from the config file.
	TargetFiles []string `yaml:"-"`
}

type RenderConfig struct {
	Concurrency int    `yaml:"concurrency"`
	Debug       bool   `yaml:"debug"`
	Locale      string `yaml:"locale"`
	Timezone    string `yaml:"timezone"`
	Sanitize    bool   `yaml:"sanitize"`
	Fragment    bool   `yaml:"fragment"`
}

type DataConfig struct {
	// Root is a data file used as :root instead of the data itself.
	Root string `yaml:"root"`
	// Format forces a data format when the extension is not enough.
	Format string `yaml:"format"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Paths    []string      `yaml:"paths"`
	Ignore   []string      `yaml:"ignore"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Open           bool     `yaml:"open"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("render.concurrency", 100)
	v.SetDefault("render.debug", false)
	v.SetDefault("render.locale", "en")
	v.SetDefault("render.timezone", "UTC")
	v.SetDefault("render.sanitize", false)
	v.SetDefault("render.fragment", false)
	v.SetDefault("watch.debounce", 300*time.Millisecond)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Configure prepares v to read the config file and the environment. An empty
// file searches .domplate.yml in the working directory.
func Configure(v *viper.Viper, file string) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(".domplate")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v and validates it.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// viper leaves slices set from flags or env as a single string
	if v.IsSet("watch.paths") && len(config.Watch.Paths) == 0 {
		config.Watch.Paths = v.GetStringSlice("watch.paths")
	}
	if v.IsSet("watch.ignore") && len(config.Watch.Ignore) == 0 {
		config.Watch.Ignore = v.GetStringSlice("watch.ignore")
	}
	if v.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("watch.debounce") {
		config.Watch.Debounce = v.GetDuration("watch.debounce")
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyDefaults fills values that were left empty, so a Config built without
// SetDefaults is still usable.
func applyDefaults(config *Config) {
	if config.Render.Concurrency == 0 {
		config.Render.Concurrency = 100
	}
	if config.Render.Locale == "" {
		config.Render.Locale = "en"
	}
	if config.Render.Timezone == "" {
		config.Render.Timezone = "UTC"
	}
	if config.Watch.Debounce == 0 {
		config.Watch.Debounce = 300 * time.Millisecond
	}
	if len(config.Watch.Ignore) == 0 {
		config.Watch.Ignore = []string{".git", "node_modules"}
	}
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Render.Timezone)
}

// Addr is the listen address of the preview server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateRenderConfig(&config.Render); err != nil {
		return fmt.Errorf("render config: %w", err)
	}

	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateWatchConfig(&config.Watch); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	return nil
}

func validateRenderConfig(config *RenderConfig) error {
	if config.Concurrency < 1 {
		return fmt.Errorf("concurrency %d must be at least 1", config.Concurrency)
	}
	if _, err := time.LoadLocation(config.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", config.Timezone, err)
	}
	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

func validateWatchConfig(config *WatchConfig) error {
	if config.Debounce < 0 {
		return fmt.Errorf("debounce %s must not be negative", config.Debounce)
	}
	for _, path := range config.Paths {
		if err := validatePath(path); err != nil {
			return fmt.Errorf("invalid watch path '%s': %w", path, err)
		}
	}
	return nil
}

func validateLogConfig(config *LogConfig) error {
	switch strings.ToLower(config.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", config.Level)
	}
	switch config.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", config.Format)
	}
	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
