package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeExecutor()
	c.normalizeNetwork()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv(envAPIToken); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeQueue() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = defaultBackend
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = defaultMaxRetries
	}
}

func (c *Config) normalizeExecutor() {
	c.Executor.BaseURL = strings.TrimSpace(c.Executor.BaseURL)
	if c.Executor.BaseURL == "" {
		if value, ok := os.LookupEnv(envBaseURL); ok {
			c.Executor.BaseURL = strings.TrimSpace(value)
		}
	}
	c.Executor.BaseURL = strings.TrimRight(c.Executor.BaseURL, "/")
	if c.Executor.TimeoutSeconds == 0 {
		c.Executor.TimeoutSeconds = defaultExecutorTimeout
	}
	c.Executor.IdempotencyHeader = strings.TrimSpace(c.Executor.IdempotencyHeader)
	if strings.TrimSpace(c.Executor.UserAgent) == "" {
		c.Executor.UserAgent = defaultUserAgent
	}
}

func (c *Config) normalizeNetwork() {
	c.Network.Mode = strings.ToLower(strings.TrimSpace(c.Network.Mode))
	if c.Network.Mode == "" {
		c.Network.Mode = defaultNetworkMode
	}
	c.Network.Probe = strings.ToLower(strings.TrimSpace(c.Network.Probe))
	if c.Network.Probe == "" {
		c.Network.Probe = defaultProbe
	}
	c.Network.ProbeAddress = strings.TrimSpace(c.Network.ProbeAddress)
	if c.Network.ProbeAddress == "" && c.Network.Probe == ProbeDial {
		c.Network.ProbeAddress = defaultProbeAddress
	}
	if c.Network.ProbeTimeoutSeconds == 0 {
		c.Network.ProbeTimeoutSeconds = defaultProbeTimeout
	}
	if c.Network.PollIntervalSeconds == 0 {
		c.Network.PollIntervalSeconds = defaultPollInterval
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv(envNtfyTopic); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text", "pretty":
		c.Logging.Format = "console"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
