// Package config is the reference implementation of the configuration
// source spec.md §1 and §6 leave out of scope: a concrete way to load a
// [controlclient.Config]-shaped set of values from a YAML file with
// environment-variable overrides. Nothing under internal/agent or below
// depends on this package; cmd/starbeam-agent is its only consumer.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the agent's full set of startup settings, per spec.md §6's
// Configuration table.
type Config struct {
	Enabled                  bool   `koanf:"enabled"`
	ServerURL                string `koanf:"server_url"`
	AuthKey                  string `koanf:"auth_key"`
	HostID                   string `koanf:"host_id"`
	ReconnectIntervalSeconds int    `koanf:"reconnect_interval_seconds"`
	StreamingHostBasePort    int    `koanf:"streaming_host_base_port"`
	StreamingHostHTTPSPort   int    `koanf:"streaming_host_https_port"`
	StreamingHostRTSPPort    int    `koanf:"streaming_host_rtsp_port"`
	Hostname                 string `koanf:"hostname"`
	UniqueID                 string `koanf:"unique_id"`
	MetricsAddr              string `koanf:"metrics_addr"`
	TLSInsecureSkipVerify    bool   `koanf:"tls_insecure_skip_verify"`
	LogLevel                 string `koanf:"log_level"`
}

// defaults seeds the koanf tree before the file and environment layers are
// loaded, so an unset key (including a bool key, which koanf.Unmarshal
// cannot tell apart from an explicit "false") resolves to the value below
// rather than the Go zero value.
//
// 47989 is Sunshine/nvhttp's well-known HTTP port; see
// original_source/src/starbeam/udp.cpp's config::sunshine.port usage.
var defaults = map[string]any{
	"reconnect_interval_seconds": 5,
	"streaming_host_base_port":   47989,
	"tls_insecure_skip_verify":   true,
	"log_level":                  "info",
}

// Load seeds the defaults, reads an optional YAML file at path over them (an
// empty path skips the file layer; a path to a missing file is an error),
// then applies STARBEAM_*-prefixed environment overrides and validation.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("loading default config: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	envProvider := env.Provider("STARBEAM_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "STARBEAM_"))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.ServerURL == "" {
		return fmt.Errorf("server_url is required when enabled")
	}
	if cfg.AuthKey == "" {
		return fmt.Errorf("auth_key is required when enabled")
	}
	return nil
}
