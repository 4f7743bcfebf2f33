// Package config defines the client configuration and its loading pipeline.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (VOLTCLIENT_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// The same Config struct is consumed programmatically by applications that
// embed pkg/volt directly; Load is the path the voltctl CLI takes.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/voltclient/internal/logger"
)

// DefaultPort is the VoltDB client port assumed when a host string carries
// no explicit port.
const DefaultPort = 21212

// Config is the complete client configuration.
type Config struct {
	// Hosts is the ordered list of seed endpoints, "host" or "host:port".
	Hosts []string `mapstructure:"hosts" validate:"required,min=1" yaml:"hosts"`

	// Username and Password are the login credentials. The password is
	// hashed with SHA-1 before it touches the wire.
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// Service selects the connection class: "database" for normal
	// procedure traffic, "export" for export streams.
	Service string `mapstructure:"service" validate:"omitempty,oneof=database export" yaml:"service"`

	// DefaultTimeout is the per-call deadline applied when the caller
	// supplies none. Negative means no deadline.
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`

	// MaxInflight bounds admitted-but-unresolved calls per node. Admission
	// beyond this either blocks or fails fast with backpressure.
	MaxInflight int `mapstructure:"max_inflight" validate:"omitempty,gt=0" yaml:"max_inflight"`

	// KeepAliveInterval is the writer idle threshold before a ping is
	// synthesized to keep the socket alive.
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval" yaml:"keep_alive_interval"`

	// AutoTopology controls whether the pool discovers peer nodes from the
	// cluster after the first login and connects to all of them.
	AutoTopology bool `mapstructure:"auto_topology" yaml:"auto_topology"`

	// ReconnectCeiling caps the exponential backoff between reconnection
	// attempts to a failed node.
	ReconnectCeiling time.Duration `mapstructure:"reconnect_ceiling" yaml:"reconnect_ceiling"`

	// Logging controls log output behavior.
	Logging logger.Config `mapstructure:"logging" yaml:"logging"`

	// Metrics controls the Prometheus metrics registry.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig controls client-side metrics collection.
type MetricsConfig struct {
	// Enabled turns on Prometheus collector registration.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Default returns the configuration used when nothing else is specified.
// Hosts has no default; it must come from the caller.
func Default() *Config {
	return &Config{
		Service:           "database",
		DefaultTimeout:    2 * time.Minute,
		MaxInflight:       3000,
		KeepAliveInterval: 10 * time.Second,
		AutoTopology:      true,
		ReconnectCeiling:  30 * time.Second,
		Logging: logger.Config{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
	}
}

// ApplyDefaults fills zero-valued fields. AutoTopology cannot be defaulted
// here (false is a meaningful setting); Load handles it through viper.
func ApplyDefaults(cfg *Config) {
	def := Default()
	if cfg.Service == "" {
		cfg.Service = def.Service
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.MaxInflight == 0 {
		cfg.MaxInflight = def.MaxInflight
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = def.KeepAliveInterval
	}
	if cfg.ReconnectCeiling == 0 {
		cfg.ReconnectCeiling = def.ReconnectCeiling
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = def.Logging.Output
	}
}

// Validate checks structural constraints and that every host parses as an
// endpoint.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}
	for _, h := range cfg.Hosts {
		if _, err := NormalizeHost(h); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeHost resolves a "host" or "host:port" string to "host:port",
// applying the default client port.
func NormalizeHost(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", fmt.Errorf("empty host entry")
	}
	if _, _, err := net.SplitHostPort(h); err == nil {
		return h, nil
	}
	// No port (or unparseable); reject anything with a stray colon that is
	// not a bracketed IPv6 literal.
	if strings.Contains(h, ":") && !strings.HasPrefix(h, "[") {
		return "", fmt.Errorf("invalid host entry %q", h)
	}
	return net.JoinHostPort(strings.Trim(h, "[]"), fmt.Sprint(DefaultPort)), nil
}

// NormalizedHosts returns every configured host with the default port applied.
func (c *Config) NormalizedHosts() ([]string, error) {
	out := make([]string, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		n, err := NormalizeHost(h)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath searches the default location and falls back to
// defaults (plus environment overrides) when no file exists.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration to path in YAML form. Restricted permissions
// since the file carries credentials.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Example: VOLTCLIENT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("VOLTCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans whose default is true have to be defaulted inside viper,
	// otherwise an explicit false in the file is indistinguishable from
	// an absent key.
	v.SetDefault("auto_topology", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(configDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// durationDecodeHook converts strings like "30s" and raw numbers
// (nanoseconds) to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// configDir returns the configuration directory, honoring XDG_CONFIG_HOME.
func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "voltclient")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "voltclient")
}

// DefaultConfigPath is where voltctl looks for its config file.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}
