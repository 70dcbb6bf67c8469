package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, `
enabled: true
server_url: "wss://relay.example.com/agent"
auth_key: "secret"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ReconnectIntervalSeconds != 5 {
		t.Errorf("ReconnectIntervalSeconds = %d, want 5", cfg.ReconnectIntervalSeconds)
	}
	if cfg.StreamingHostBasePort != 47989 {
		t.Errorf("StreamingHostBasePort = %d, want 47989", cfg.StreamingHostBasePort)
	}
	if !cfg.TLSInsecureSkipVerify {
		t.Error("TLSInsecureSkipVerify default should be true")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
enabled: true
server_url: "wss://relay.example.com/agent"
auth_key: "secret"
reconnect_interval_seconds: 30
streaming_host_base_port: 48000
tls_insecure_skip_verify: false
log_level: "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ReconnectIntervalSeconds != 30 {
		t.Errorf("ReconnectIntervalSeconds = %d, want 30", cfg.ReconnectIntervalSeconds)
	}
	if cfg.StreamingHostBasePort != 48000 {
		t.Errorf("StreamingHostBasePort = %d, want 48000", cfg.StreamingHostBasePort)
	}
	if cfg.TLSInsecureSkipVerify {
		t.Error("TLSInsecureSkipVerify should be false when explicitly set")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadStreamingHostPortsDefaultToZero(t *testing.T) {
	path := writeTempConfig(t, `
enabled: true
server_url: "wss://relay.example.com/agent"
auth_key: "secret"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StreamingHostHTTPSPort != 0 || cfg.StreamingHostRTSPPort != 0 {
		t.Errorf("StreamingHostHTTPSPort/RTSPPort = %d/%d, want 0/0 (internal/agent falls back to base port)",
			cfg.StreamingHostHTTPSPort, cfg.StreamingHostRTSPPort)
	}
}

func TestLoadStreamingHostPortsOverride(t *testing.T) {
	path := writeTempConfig(t, `
enabled: true
server_url: "wss://relay.example.com/agent"
auth_key: "secret"
streaming_host_https_port: 47984
streaming_host_rtsp_port: 48010
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StreamingHostHTTPSPort != 47984 {
		t.Errorf("StreamingHostHTTPSPort = %d, want 47984", cfg.StreamingHostHTTPSPort)
	}
	if cfg.StreamingHostRTSPPort != 48010 {
		t.Errorf("StreamingHostRTSPPort = %d, want 48010", cfg.StreamingHostRTSPPort)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeTempConfig(t, `
enabled: true
server_url: "wss://relay.example.com/agent"
auth_key: "file-secret"
`)

	t.Setenv("STARBEAM_AUTH_KEY", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuthKey != "env-secret" {
		t.Errorf("AuthKey = %q, want env-secret (environment should win over file)", cfg.AuthKey)
	}
}

func TestLoadDisabledSkipsValidation(t *testing.T) {
	path := writeTempConfig(t, `enabled: false`)

	if _, err := Load(path); err != nil {
		t.Fatalf("Load with enabled=false should not require server_url/auth_key: %v", err)
	}
}

func TestLoadMissingServerURL(t *testing.T) {
	path := writeTempConfig(t, `
enabled: true
auth_key: "secret"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing server_url")
	}
}

func TestLoadMissingAuthKey(t *testing.T) {
	path := writeTempConfig(t, `
enabled: true
server_url: "wss://relay.example.com/agent"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing auth_key")
	}
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") should succeed with defaults only: %v", err)
	}
	if cfg.Enabled {
		t.Error("Enabled should default to false")
	}
}
