package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Queue contains configuration for the offline request queue.
type Queue struct {
	// Backend selects the persistent store: "sqlite", "bolt", or "file".
	Backend    string `toml:"backend"`
	MaxRetries int    `toml:"max_retries"`
	// EvictTerminalFailures drops requests whose failure the executor
	// classifies as terminal (for example HTTP 404) instead of retrying them.
	EvictTerminalFailures bool `toml:"evict_terminal_failures"`
}

// Executor contains configuration for the HTTP request executor.
type Executor struct {
	BaseURL           string            `toml:"base_url"`
	TimeoutSeconds    int               `toml:"timeout_seconds"`
	RatePerSecond     float64           `toml:"rate_per_second"`
	IdempotencyHeader string            `toml:"idempotency_header"`
	UserAgent         string            `toml:"user_agent"`
	Headers           map[string]string `toml:"headers"`
}

// Network contains configuration for connectivity detection.
type Network struct {
	// Mode is "auto" (netlink + probe) or "manual" (toggled over IPC).
	Mode                string `toml:"mode"`
	Probe               string `toml:"probe"`
	ProbeAddress        string `toml:"probe_address"`
	ProbeTimeoutSeconds int    `toml:"probe_timeout_seconds"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	InitiallyOnline     bool   `toml:"initially_online"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Evictions      bool   `toml:"evictions"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for tether.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories and API bind address
//   - Queue: persistence backend and retry policy
//   - Executor: upstream HTTP target for queued requests
//   - Network: connectivity detection
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Executor      Executor      `toml:"executor"`
	Network       Network       `toml:"network"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tether.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the daemon IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "tether.sock")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "tether.lock")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "tether.log")
}

// StorePath returns the file backing the configured queue backend.
func (c *Config) StorePath() string {
	switch c.Queue.Backend {
	case BackendBolt:
		return filepath.Join(c.Paths.StateDir, "queue.bolt")
	case BackendFile:
		return filepath.Join(c.Paths.StateDir, "queue.json")
	default:
		return filepath.Join(c.Paths.StateDir, "queue.db")
	}
}

// ExecutorTimeout returns the per-request executor timeout.
func (c *Config) ExecutorTimeout() time.Duration {
	return time.Duration(c.Executor.TimeoutSeconds) * time.Second
}

// ProbeTimeout returns the connectivity probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Network.ProbeTimeoutSeconds) * time.Second
}

// PollInterval returns how often the network monitor re-probes without a netlink event.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Network.PollIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() (string, error) {
	var b strings.Builder
	encoder := toml.NewEncoder(&b)
	encoder.SetIndentTables(true)
	if err := encoder.Encode(c); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return b.String(), nil
}
