package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.ListenAddr != ":8080" {
		t.Errorf("Expected listen addr :8080, got %q", cfg.ListenAddr)
	}
	if cfg.ServerURL != "" {
		t.Errorf("Expected empty server URL, got %q", cfg.ServerURL)
	}
	if cfg.BufferSize != 100 {
		t.Errorf("Expected buffer size 100, got %d", cfg.BufferSize)
	}
	if cfg.FlushInterval != 30*time.Second {
		t.Errorf("Expected flush interval 30s, got %v", cfg.FlushInterval)
	}
	if cfg.UpstreamTimeout != 60*time.Second {
		t.Errorf("Expected upstream timeout 60s, got %v", cfg.UpstreamTimeout)
	}
	if cfg.ReportingEnabled() {
		t.Error("Reporting should be disabled without SERVER_URL")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PROXY_PORT", "9001")
	t.Setenv("SERVER_URL", "https://tunnels.example.com/")
	t.Setenv("METRICS_BUFFER_SIZE", "5")
	t.Setenv("METRICS_FLUSH_INTERVAL", "2")

	cfg := Load()

	if cfg.ListenAddr != ":9001" {
		t.Errorf("Expected :9001, got %q", cfg.ListenAddr)
	}
	// Trailing slash must be trimmed so URL joining stays simple
	if cfg.ServerURL != "https://tunnels.example.com" {
		t.Errorf("Expected trimmed server URL, got %q", cfg.ServerURL)
	}
	if cfg.BufferSize != 5 {
		t.Errorf("Expected buffer size 5, got %d", cfg.BufferSize)
	}
	if cfg.FlushInterval != 2*time.Second {
		t.Errorf("Expected flush interval 2s, got %v", cfg.FlushInterval)
	}
	if !cfg.ReportingEnabled() {
		t.Error("Reporting should be enabled with SERVER_URL set")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error for empty config")
	}
	msg := err.Error()
	for _, want := range []string{"listen address", "targets file", "buffer size"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected validation message to mention %q, got:\n%s", want, msg)
		}
	}
}

func TestParseIntOrDefault(t *testing.T) {
	if got := parseIntOrDefault("250", 1); got != 250 {
		t.Errorf("Expected 250, got %d", got)
	}
	if got := parseIntOrDefault("nope", 7); got != 7 {
		t.Errorf("Expected default 7, got %d", got)
	}
	if got := parseIntOrDefault("", 3); got != 3 {
		t.Errorf("Expected default 3, got %d", got)
	}
}
