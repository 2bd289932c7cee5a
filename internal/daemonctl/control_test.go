package daemonctl

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"tether/internal/testsupport"
)

func TestLaunchArgs(t *testing.T) {
	got := LaunchArgs(LaunchOptions{ConfigPath: "/etc/tether.toml", LogLevel: "debug", Ephemeral: true})
	want := []string{"daemon", "run", "--config", "/etc/tether.toml", "--log-level", "debug", "--ephemeral"}
	if !slices.Equal(got, want) {
		t.Fatalf("LaunchArgs = %v, want %v", got, want)
	}
	if got := LaunchArgs(LaunchOptions{ConfigPath: "  "}); !slices.Equal(got, []string{"daemon", "run"}) {
		t.Fatalf("expected blank options to be skipped, got %v", got)
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadPID(filepath.Join(dir, "missing.pid")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}

	good := filepath.Join(dir, "good.pid")
	testsupport.WriteFile(t, good, []byte("4242\n"))
	pid, err := ReadPID(good)
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPID = %d, %v", pid, err)
	}

	bad := filepath.Join(dir, "bad.pid")
	testsupport.WriteFile(t, bad, []byte("not-a-pid"))
	if _, err := ReadPID(bad); err == nil {
		t.Fatal("expected error for malformed pid file")
	}
}

func TestForceKillProcessRefusesSelfAndUnknown(t *testing.T) {
	dir := t.TempDir()
	if _, err := ForceKillProcess(filepath.Join(dir, "missing.pid"), 0); err == nil {
		t.Fatal("expected error without any pid")
	}
	if _, err := ForceKillProcess(filepath.Join(dir, "missing.pid"), os.Getpid()); err == nil {
		t.Fatal("expected refusal to kill current process")
	}
}

func TestDaemonNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	alive, pid, err := ProcessInfo(cfg.SocketPath())
	if err != nil || alive || pid != 0 {
		t.Fatalf("ProcessInfo = %v, %d, %v", alive, pid, err)
	}
	if err := WaitForShutdown(cfg.SocketPath(), time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
	if _, err := StopAndTerminate(cfg, time.Second); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}
