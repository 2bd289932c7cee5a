package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"tether/internal/config"
	"tether/internal/daemon"
	"tether/internal/executor"
	"tether/internal/fileutil"
	"tether/internal/ipc"
	"tether/internal/logging"
	"tether/internal/netmon"
	"tether/internal/notifications"
	"tether/internal/preflight"
	"tether/internal/queue"
	"tether/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Ephemeral keeps the queue in memory; nothing survives a restart.
	Ephemeral bool
}

// Run starts the tether daemon and blocks until a signal or an IPC stop request.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", cfg.LogPath()},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logPreflight(signalCtx, logger, cfg)

	pidPath := PIDPath(cfg)
	if err := fileutil.WriteFileAtomic(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	var backend store.Backend
	if opts.Ephemeral {
		backend = store.NewMemory()
		logger.Warn("queue persistence disabled; pending requests are lost on exit",
			logging.String(logging.FieldEventType, "ephemeral_store"))
	} else {
		backend, err = store.Open(cfg, logger)
		if err != nil {
			logging.ErrorWithContext(logger, "open queue store", "store_open_failed",
				logging.Error(err),
				logging.String("path", cfg.StorePath()),
				logging.String(logging.FieldErrorHint, "check queue.backend and state_dir permissions"),
			)
			return err
		}
	}

	monitor, err := BuildMonitor(cfg, logger)
	if err != nil {
		_ = backend.Close()
		return err
	}

	execOpts := executor.OptionsFromConfig(cfg)
	execOpts.Logger = logger
	exec, err := executor.New(execOpts)
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("create executor: %w", err)
	}

	d, err := daemon.New(cfg, daemon.Dependencies{
		Store:    backend,
		Monitor:  monitor,
		Executor: exec,
		Notifier: notifications.NewService(cfg),
		Logger:   logger,
	})
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("daemon close reported errors", logging.Error(err))
		}
	}()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger, ipc.WithShutdown(cancel))
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	<-signalCtx.Done()
	logger.Info("tether daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// PIDPath returns the pid file written while the daemon runs.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "tether.pid")
}

// BuildMonitor constructs the network monitor selected by network.mode.
func BuildMonitor(cfg *config.Config, logger *slog.Logger) (queue.Monitor, error) {
	if cfg.Network.Mode == config.NetworkModeManual {
		return netmon.NewManual(cfg.Network.InitiallyOnline), nil
	}

	var prober netmon.Prober
	switch cfg.Network.Probe {
	case config.ProbeInterface:
		prober = netmon.InterfaceProber{}
	case config.ProbeDial, "":
		prober = netmon.DialProber{Address: cfg.Network.ProbeAddress, Timeout: cfg.ProbeTimeout()}
	default:
		return nil, fmt.Errorf("network.probe: unsupported value %q", cfg.Network.Probe)
	}
	return netmon.NewAuto(prober, netmon.AutoOptions{
		PollInterval:    cfg.PollInterval(),
		InitiallyOnline: cfg.Network.InitiallyOnline,
		Logger:          logger,
	})
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "queued requests may not deliver until resolved"),
		)
	}
}
