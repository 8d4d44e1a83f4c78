package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMuxDefaults(&cfg.Mux)
	applyServerDefaults(&cfg.Server)
	applyBackendsDefaults(&cfg.Backends)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
}

func applyMuxDefaults(cfg *MuxConfig) {
	if cfg.Canonicalizer == "" {
		cfg.Canonicalizer = "fold"
	}
	if cfg.Resolver == "" {
		cfg.Resolver = "127.0.0.53:53"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8080"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = "127.0.0.1:8090"
	}
	if cfg.DrainDuration == 0 {
		cfg.DrainDuration = 45 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyBackendsDefaults fills per-backend defaults. When no backend is
// enabled at all, the in-memory backend is switched on so a bare config
// still yields a usable process.
func applyBackendsDefaults(cfg *BackendsConfig) {
	if cfg.Vault.Mount == "" {
		cfg.Vault.Mount = "secret"
	}
	if cfg.Vault.Timeout == 0 {
		cfg.Vault.Timeout = 30 * time.Second
	}
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = 30 * time.Second
	}

	if !cfg.Local.Enabled && !cfg.Mem.Enabled && !cfg.S3.Enabled &&
		!cfg.IPFS.Enabled && !cfg.Vault.Enabled && !cfg.HTTP.Enabled {
		cfg.Mem.Enabled = true
	}
}
