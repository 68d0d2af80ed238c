package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"hopper/internal/config"
	"hopper/internal/daemon"
	"hopper/internal/ipc"
	"hopper/internal/ledger"
	"hopper/internal/logging"
	"hopper/internal/notifications"
	"hopper/internal/pipeline"
	"hopper/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel   string
	SocketPath string
}

// Run starts the hopper daemon and blocks until a signal arrives or a
// client asks it to stop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.ValidateRoots(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, logPath, err := logging.NewFromConfig(cfg, opts.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: logging.RunLogPattern, Exclude: []string{logPath}},
	)
	logDependencySnapshot(logger, cfg)
	logPreflight(signalCtx, logger, cfg)

	store, err := ledger.Open(cfg)
	if err != nil {
		logger.Error("open ledger", logging.Error(err))
		return err
	}
	defer store.Close()

	owner := uuid.NewString()
	p, err := pipeline.New(cfg, store, owner, logger,
		pipeline.WithNotifier(notifications.NewService(cfg)))
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	d, err := daemon.New(cfg, store, logger, p, logPath)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Stop()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "stop the other hopper instance or remove a stale lock"),
			logging.String(logging.FieldImpact, "no files will be processed"),
		)
		return err
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	select {
	case <-signalCtx.Done():
		logger.Info("hopper daemon shutting down", logging.String("reason", "signal"))
	case <-d.Done():
		logger.Info("hopper daemon shutting down", logging.String("reason", "stop requested"))
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []any{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Int("roots", len(cfg.Paths.Roots)),
		logging.String("library_dir", cfg.Paths.LibraryDir),
		logging.String("host_os", cfg.Safety.HostOS),
		logging.Bool("unattended_install", cfg.Safety.AllowUnattendedInstall),
		logging.String("sync_targets", strings.Join(cfg.Sync.Enabled, ",")),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	}
	for _, dep := range preflight.CheckSystemDeps(cfg) {
		attrs = append(attrs, logging.Bool(strings.ToLower(dep.Name)+"_available", dep.Available))
	}
	logger.Info("dependency snapshot", attrs...)
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "files under this path or target may fail"),
			logging.String(logging.FieldErrorHint, "fix the path or endpoint and run hopper status"),
		)
	}
}
