package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateExecutor(); err != nil {
		return err
	}
	if err := c.validateNetwork(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case BackendSQLite, BackendBolt, BackendFile:
	default:
		return fmt.Errorf("queue.backend: unsupported value %q (expected sqlite, bolt, or file)", c.Queue.Backend)
	}
	if c.Queue.MaxRetries < 1 {
		return errors.New("queue.max_retries must be at least 1")
	}
	if c.Queue.MaxRetries > maxConfiguredRetryCeiling {
		return fmt.Errorf("queue.max_retries must be at most %d", maxConfiguredRetryCeiling)
	}
	return nil
}

func (c *Config) validateExecutor() error {
	if c.Executor.BaseURL != "" {
		parsed, err := url.Parse(c.Executor.BaseURL)
		if err != nil {
			return fmt.Errorf("executor.base_url: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("executor.base_url must use http or https, got %q", c.Executor.BaseURL)
		}
		if parsed.Host == "" {
			return fmt.Errorf("executor.base_url is missing a host: %q", c.Executor.BaseURL)
		}
	}
	if c.Executor.TimeoutSeconds < 0 || c.Executor.TimeoutSeconds > maxExecutorTimeoutSeconds {
		return fmt.Errorf("executor.timeout_seconds must be between 0 and %d", maxExecutorTimeoutSeconds)
	}
	if c.Executor.RatePerSecond < 0 {
		return errors.New("executor.rate_per_second must be zero (unlimited) or positive")
	}
	for key := range c.Executor.Headers {
		if strings.TrimSpace(key) == "" {
			return errors.New("executor.headers contains an empty header name")
		}
	}
	return nil
}

func (c *Config) validateNetwork() error {
	switch c.Network.Mode {
	case NetworkModeAuto, NetworkModeManual:
	default:
		return fmt.Errorf("network.mode: unsupported value %q (expected auto or manual)", c.Network.Mode)
	}
	if c.Network.Mode == NetworkModeManual {
		return nil
	}
	switch c.Network.Probe {
	case ProbeDial:
		if _, _, err := net.SplitHostPort(c.Network.ProbeAddress); err != nil {
			return fmt.Errorf("network.probe_address must be host:port: %w", err)
		}
	case ProbeInterface:
	default:
		return fmt.Errorf("network.probe: unsupported value %q (expected dial or interface)", c.Network.Probe)
	}
	if c.Network.ProbeTimeoutSeconds < 1 || c.Network.ProbeTimeoutSeconds > maxProbeTimeoutSeconds {
		return fmt.Errorf("network.probe_timeout_seconds must be between 1 and %d", maxProbeTimeoutSeconds)
	}
	if c.Network.PollIntervalSeconds < minPollIntervalSeconds {
		return fmt.Errorf("network.poll_interval_seconds must be at least %d", minPollIntervalSeconds)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
