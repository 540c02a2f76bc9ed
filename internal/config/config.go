package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

// Config holds all proxy configuration values. Everything is loaded from
// environment variables; main folds an optional .env file into the
// environment before Load runs.
type Config struct {
	// ListenAddr is the address the proxy listens on (PROXY_PORT)
	ListenAddr string

	// ServerURL is the base URL of the metrics collector (SERVER_URL).
	// Empty disables metrics reporting entirely.
	ServerURL string

	// TargetsFile is the path of the tunnel target mapping file (TARGETS_FILE)
	TargetsFile string

	// CredentialsFile is the path of the credentials file holding the
	// collector access token (CREDENTIALS_FILE)
	CredentialsFile string

	// BufferSize is the soft capacity of the metrics buffer; reaching it
	// triggers an out-of-band flush (METRICS_BUFFER_SIZE)
	BufferSize int

	// FlushInterval is the period of the background flush loop
	// (METRICS_FLUSH_INTERVAL, seconds)
	FlushInterval time.Duration

	// MetricsListen is the address of the Prometheus endpoint (METRICS_LISTEN)
	MetricsListen string

	// UpstreamTimeout is the total budget for a single proxied request
	// (UPSTREAM_TIMEOUT, seconds)
	UpstreamTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ListenAddr:      listenAddr(getEnvOrDefault("PROXY_PORT", "8080")),
		ServerURL:       strings.TrimRight(getEnvOrDefault("SERVER_URL", ""), "/"),
		TargetsFile:     getEnvOrDefault("TARGETS_FILE", "/etc/frp/tunnel_targets.json"),
		CredentialsFile: getEnvOrDefault("CREDENTIALS_FILE", "/etc/frp/credentials.json"),
		BufferSize:      parseIntOrDefault(getEnvOrDefault("METRICS_BUFFER_SIZE", "100"), 100),
		FlushInterval:   time.Duration(parseIntOrDefault(getEnvOrDefault("METRICS_FLUSH_INTERVAL", "30"), 30)) * time.Second,
		MetricsListen:   getEnvOrDefault("METRICS_LISTEN", ":9090"),
		UpstreamTimeout: time.Duration(parseIntOrDefault(getEnvOrDefault("UPSTREAM_TIMEOUT", "60"), 60)) * time.Second,
	}
}

// Validate checks the configuration for errors and returns helpful messages.
func (c *Config) Validate() error {
	var errs []string

	if c.ListenAddr == "" {
		errs = append(errs, "listen address is required")
	}
	if c.TargetsFile == "" {
		errs = append(errs, "targets file path is required")
	}
	if c.CredentialsFile == "" {
		errs = append(errs, "credentials file path is required")
	}
	if c.BufferSize <= 0 {
		errs = append(errs, "metrics buffer size must be positive")
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, "metrics flush interval must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, "upstream timeout must be positive")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// ReportingEnabled returns true if a collector URL is configured.
func (c *Config) ReportingEnabled() bool {
	return c.ServerURL != ""
}

// listenAddr normalizes a bare port number to a listen address.
func listenAddr(port string) string {
	if port == "" || strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntOrDefault parses a string as int, returning default on error
func parseIntOrDefault(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	result := 0
	for _, c := range s {
		if c >= '0' && c <= '9' {
			result = result*10 + int(c-'0')
		} else {
			return defaultValue
		}
	}
	return result
}
