// Package config provides configuration management for previewd.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the previewd server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7180").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// GitHubToken is the personal access token for snapshot fetches.
	GitHubToken string

	// DockerImage is the base sandbox Docker image name.
	DockerImage string

	// DockerNetwork is the Docker network for sandbox containers.
	DockerNetwork string

	// RulesPath points to an optional YAML file overriding the detection
	// marker lists. Empty means built-in defaults only.
	RulesPath string

	// InstallTimeout bounds dependency installation inside a sandbox.
	// Default: 90 seconds.
	InstallTimeout time.Duration

	// StartTimeout bounds the wait for a dev server's ready signal.
	// Default: 30 seconds.
	StartTimeout time.Duration

	// EmulationTimeout replaces StartTimeout for projects that need the
	// full toolchain. Default: 2 minutes.
	EmulationTimeout time.Duration

	// IdleTimeout is how long an environment stays alive without anyone
	// observing it before its sandbox is reclaimed. Default: 30 minutes.
	IdleTimeout time.Duration

	// OutputLines is the number of recent process output lines kept in
	// memory per view. Default: 2000.
	OutputLines int
}

// Load creates a Config from the config file and environment variables.
// Values are resolved in order: environment variable > config file > default.
func Load() (*Config, error) {
	// Load config file (~/.previewd/config.env) into the environment.
	// Existing env vars take precedence (loadConfigFile only sets unset vars).
	loadConfigFile()

	dataDir := envOr("PREVIEWD_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:       envOr("PREVIEWD_ADDR", ":7180"),
		DataDir:          dataDir,
		DatabasePath:     filepath.Join(dataDir, "previewd.db"),
		GitHubToken:      os.Getenv("GITHUB_TOKEN"),
		DockerImage:      envOr("PREVIEWD_DOCKER_IMAGE", "previewd-sandbox"),
		DockerNetwork:    envOr("PREVIEWD_DOCKER_NETWORK", "previewd-net"),
		RulesPath:        os.Getenv("PREVIEWD_RULES_PATH"),
		InstallTimeout:   envOrDuration("PREVIEWD_INSTALL_TIMEOUT", 90*time.Second),
		StartTimeout:     envOrDuration("PREVIEWD_START_TIMEOUT", 30*time.Second),
		EmulationTimeout: envOrDuration("PREVIEWD_EMULATION_TIMEOUT", 2*time.Minute),
		IdleTimeout:      envOrDuration("PREVIEWD_IDLE_TIMEOUT", 30*time.Minute),
		OutputLines:      envOrInt("PREVIEWD_OUTPUT_LINES", 2000),
	}

	return cfg, nil
}

// loadConfigFile reads ~/.previewd/config.env and sets any values that are
// not already present in the environment. This ensures env vars always win.
func loadConfigFile() {
	path := filepath.Join(defaultDataDir(), "config.env")
	f, err := os.Open(path)
	if err != nil {
		return // file doesn't exist or can't be read, that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		// Only set if not already in the environment.
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	return nil
}

// SandboxEnv returns environment variables to pass to sandbox containers.
func (c *Config) SandboxEnv() []string {
	return []string{
		"CI=true",
		"FORCE_COLOR=0",
	}
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".previewd"
	}
	return filepath.Join(home, ".previewd")
}
