// Package config loads and validates the fsmux runtime configuration from
// file, environment, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures everything the fsmux commands can be told: logging,
// multiplexer behavior, the diagnostics server, and per-backend settings.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (FSMUX_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// Mux configures path resolution and handle caching.
	Mux MuxConfig `mapstructure:"mux"`

	// Server configures the diagnostics HTTP server run by fsxd.
	Server ServerConfig `mapstructure:"server"`

	// Backends selects and configures the storage backends to register.
	Backends BackendsConfig `mapstructure:"backends"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// MuxConfig configures the multiplexer itself.
type MuxConfig struct {
	// DefaultURI qualifies scheme-less paths. Empty disables the fallback,
	// making fully qualified URIs mandatory.
	DefaultURI string `mapstructure:"default_uri"`

	// Canonicalizer picks how URI authorities are normalized before handle
	// cache lookups: "fold" (case folding only) or "dns" (CNAME chasing).
	Canonicalizer string `mapstructure:"canonicalizer" validate:"required,oneof=fold dns"`

	// Resolver is the DNS server (host:port) queried by the dns
	// canonicalizer. Ignored for fold.
	Resolver string `mapstructure:"resolver" validate:"omitempty,hostname_port"`

	// Identity overrides the acting principal name. Empty means the current
	// OS user.
	Identity string `mapstructure:"identity"`
}

// ServerConfig configures the fsxd diagnostics server.
type ServerConfig struct {
	// ListenAddr is the diagnostics API address.
	ListenAddr string `mapstructure:"listen_addr" validate:"required,hostname_port"`

	// MetricsAddr is the Prometheus exposition address. Empty disables the
	// dedicated metrics listener; /metrics stays available on ListenAddr.
	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	// EnablePprof mounts the pprof handlers under /debug.
	EnablePprof bool `mapstructure:"enable_pprof"`

	// DrainDuration is how long a draining server waits before closing the
	// cached backend handles.
	DrainDuration time.Duration `mapstructure:"drain_duration" validate:"gte=0"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// BackendsConfig selects which backends the commands register. Disabled
// sections are ignored entirely.
type BackendsConfig struct {
	Local LocalConfig `mapstructure:"local"`
	Mem   MemConfig   `mapstructure:"mem"`
	S3    S3Config    `mapstructure:"s3"`
	IPFS  IPFSConfig  `mapstructure:"ipfs"`
	Vault VaultConfig `mapstructure:"vault"`
	HTTP  HTTPConfig  `mapstructure:"http"`
}

// LocalConfig configures the file:// backend.
type LocalConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Base is the directory all file:// paths resolve under.
	Base string `mapstructure:"base"`
}

// MemConfig configures the mem:// backend.
type MemConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// S3Config configures the s3:// backend. Credentials left empty fall back
// to the ambient AWS credential chain.
type S3Config struct {
	Enabled        bool   `mapstructure:"enabled"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint" validate:"omitempty,url"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// IPFSConfig configures the ipfs:// backend. The node API address comes from
// the URI authority, so there is nothing to configure beyond enablement.
type IPFSConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// VaultConfig configures the vault:// backend.
type VaultConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Address overrides the server address derived from the URI authority.
	Address string `mapstructure:"address" validate:"omitempty,url"`

	// Token authenticates against Vault. Empty falls back to VAULT_TOKEN.
	Token string `mapstructure:"token"`

	// Mount is the KV v2 mount to expose. Defaults to "secret".
	Mount string `mapstructure:"mount"`

	// Timeout bounds individual Vault API calls.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// HTTPConfig configures the read-only http:// and https:// backends.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Timeout bounds individual requests.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default locations)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variable support and config file search.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the FSMUX_ prefix and underscores.
	// Example: FSMUX_BACKENDS_S3_ACCESS_KEY=...
	v.SetEnvPrefix("FSMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("fsmux")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is fine; defaults and environment cover everything.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path, using
// XDG_CONFIG_HOME if set, otherwise ~/.config, falling back to the current
// directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fsmux")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "fsmux")
}
