package testsupport

import (
	"path/filepath"
	"testing"

	"tether/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults to the file backend and a manual, online network monitor so
// tests never touch netlink or the real network.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Queue.Backend = config.BackendFile
	cfgVal.Executor.BaseURL = "http://127.0.0.1:1"
	cfgVal.Network.Mode = config.NetworkModeManual
	cfgVal.Network.InitiallyOnline = true

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithBackend selects the queue store backend.
func WithBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.Backend = backend
	}
}

// WithBaseURL points the executor at url (typically an httptest server).
func WithBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Executor.BaseURL = url
	}
}

// WithMaxRetries overrides the retry ceiling.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxRetries = n
	}
}

// WithInitiallyOffline starts the manual network monitor offline.
func WithInitiallyOffline() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Network.InitiallyOnline = false
	}
}

// WithAPIBind overrides the HTTP API listen address; empty disables it.
func WithAPIBind(bind string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIBind = bind
	}
}

// WithAPIToken requires bearer authentication on the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithNtfyTopic enables notifications against the given topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
