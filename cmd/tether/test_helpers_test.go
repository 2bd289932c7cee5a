package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"tether/internal/config"
	"tether/internal/daemon"
	"tether/internal/ipc"
	"tether/internal/logging"
	"tether/internal/netmon"
	"tether/internal/store"
	"tether/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	monitor    *netmon.Manual
	executor   *testsupport.Executor
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

// writeTestConfig persists cfg so CLI invocations resolve the same state
// directory as the in-process daemon.
func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	encoded, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	testsupport.WriteFile(t, path, []byte(encoded))
	return path
}

// setupOfflineEnv writes a config without starting a daemon.
func setupOfflineEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithAPIBind("")}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	return &cliTestEnv{
		cfg:        cfg,
		socketPath: cfg.SocketPath(),
		configPath: writeTestConfig(t, cfg),
	}
}

// setupCLITestEnv starts a daemon and its IPC server in-process.
func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	env := setupOfflineEnv(t, opts...)
	cfg := env.cfg
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	backend, err := store.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	env.monitor = netmon.NewManual(cfg.Network.InitiallyOnline)
	env.executor = testsupport.NewExecutor()

	logger := logging.NewNop()
	d, err := daemon.New(cfg, daemon.Dependencies{
		Store:    backend,
		Monitor:  env.monitor,
		Executor: env.executor,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}

	srv, err := ipc.NewServer(ctx, env.socketPath, d, logger)
	if err != nil {
		cancel()
		_ = d.Close()
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})

	env.daemon = d
	return env
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, args, e.socketPath, e.configPath)
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\n%s", needle, haystack)
	}
}
