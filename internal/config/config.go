// Package config manages b1b's ambient daemon configuration using
// koanf/v2.
//
// The protocol-level settings in spec.md §6 (debug flag, syslog/stderr
// tagging, and the optional interface name list) are CLI flags, not
// configuration-file settings -- b1b has no persistent state to
// configure beyond them. This package exists for the ambient settings a
// production daemon carries alongside that minimal surface: where to
// expose Prometheus metrics, and at what path.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds b1b's ambient configuration.
type Config struct {
	Metrics MetricsConfig `koanf:"metrics"`
	OVS     OVSConfig     `koanf:"ovs"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g.,
	// ":9110"). Empty disables the metrics server.
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint.
	Path string `koanf:"path"`
}

// OVSConfig holds Open vSwitch control-plane settings.
type OVSConfig struct {
	// PIDFile overrides the path to ovs-vswitchd's PID file, for test
	// environments where /run/openvswitch isn't writable.
	PIDFile string `koanf:"pidfile"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns b1b's baseline ambient configuration.
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: "",
			Path: "/metrics",
		},
		OVS: OVSConfig{
			PIDFile: "/run/openvswitch/ovs-vswitchd.pid",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for b1b configuration.
// Variables are named B1B_<section>_<key>, e.g. B1B_METRICS_ADDR.
const envPrefix = "B1B_"

// Load reads configuration from the optional YAML file at path (skipped
// entirely when path is empty), overlays B1B_-prefixed environment
// variable overrides, and merges on top of DefaultConfig().
//
// Environment variable mapping:
//
//	B1B_METRICS_ADDR  -> metrics.addr
//	B1B_METRICS_PATH  -> metrics.path
//	B1B_OVS_PIDFILE   -> ovs.pidfile
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms B1B_METRICS_ADDR -> metrics.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults sets the default config as koanf's base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr": defaults.Metrics.Addr,
		"metrics.path": defaults.Metrics.Path,
		"ovs.pidfile":  defaults.OVS.PIDFile,
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}
