package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"hopper/internal/config"
	"hopper/internal/ledger"
	"hopper/internal/logging"
	"hopper/internal/notifications"
	"hopper/internal/pipeline"
	"hopper/internal/scanner"
)

// Daemon coordinates the scan schedules and scan triggers and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *ledger.Store
	pipeline *pipeline.Pipeline
	logPath  string

	lockPath string
	lock     *flock.Flock
	media    *mediaMonitor

	mu        sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	startedAt time.Time
	watching  atomic.Bool
	lastErr   atomic.Value
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Owner        string
	StartedAt    time.Time
	LedgerPath   string
	LockFilePath string
	LogPath      string
	Counts       map[ledger.Status]int
	LastTick     *pipeline.Summary
	Watching     bool
	MediaMonitor bool
	LastError    string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *ledger.Store, logger *slog.Logger, p *pipeline.Pipeline, logPath string) (*Daemon, error) {
	if cfg == nil || store == nil || p == nil {
		return nil, errors.New("daemon requires config, store, and pipeline")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.StateDir, "hopper.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		pipeline: p,
		logPath:  logPath,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	if cfg.Scan.WatchMedia {
		d.media = newMediaMonitor(logger, func(reason string) { p.RequestScan(reason) })
	}
	return d, nil
}

// Start acquires the daemon lock and launches the schedules and triggers.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another hopper daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.startedAt = time.Now()
	d.running.Store(true)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.pipeline.Run(runCtx); err != nil {
			d.lastErr.Store(err.Error())
			logging.ErrorWithContext(d.logger, "scan scheduler stopped", "scheduler_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "no further scans until restart"),
				logging.String(logging.FieldErrorHint, "check ledger database access"),
			)
		}
	}()

	if d.cfg.Scan.Watch {
		d.startWatcher(runCtx)
	}
	if err := d.media.Start(runCtx); err != nil {
		d.logger.Warn("media monitor unavailable", logging.Error(err))
	}

	d.logger.Info("hopper daemon started",
		logging.String("lock", d.lockPath),
		logging.String("owner", d.pipeline.Owner()),
		logging.Int("roots", len(d.cfg.Paths.Roots)),
	)
	return nil
}

func (d *Daemon) startWatcher(ctx context.Context) {
	watcher, err := scanner.NewWatcher(d.cfg, d.logger)
	if err != nil {
		d.logger.Warn("filesystem watcher unavailable; relying on interval scans",
			logging.Error(err),
			logging.String(logging.FieldEventType, "watcher_unavailable"),
			logging.String(logging.FieldImpact, "new files wait for the next interval scan"),
		)
		return
	}
	d.watching.Store(true)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.watching.Store(false)
		if err := watcher.Run(ctx, func(reason string) { d.pipeline.RequestScan(reason) }); err != nil {
			d.logger.Warn("filesystem watcher stopped", logging.Error(err))
		}
	}()
}

// Stop cancels the schedules, waits for in-flight work to drain within the
// shutdown grace, and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.media.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	close(d.done)
	d.logger.Info("hopper daemon stopped")
}

// Done returns a channel closed when the current run stops. It is nil
// before the first Start.
func (d *Daemon) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// RequestScan asks for an early scan. It reports false when a request is
// already pending.
func (d *Daemon) RequestScan(reason string) (bool, error) {
	if !d.running.Load() {
		return false, errors.New("daemon is not running")
	}
	return d.pipeline.RequestScan(reason), nil
}

// ListRecords returns records filtered by optional statuses.
func (d *Daemon) ListRecords(ctx context.Context, statuses []ledger.Status) ([]ledger.Record, error) {
	return d.store.List(ctx, statuses...)
}

// Describe returns everything known about hash.
func (d *Daemon) Describe(ctx context.Context, hash string) (*ledger.Entry, error) {
	return d.store.Describe(ctx, strings.TrimSpace(hash))
}

// ListErrors returns the newest error log entries.
func (d *Daemon) ListErrors(ctx context.Context, limit int) ([]ledger.ErrorEntry, error) {
	return d.store.ListErrors(ctx, limit)
}

// Invalidate forgets hash so its content is processed again when next seen.
func (d *Daemon) Invalidate(ctx context.Context, hash string) error {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return errors.New("hash is required")
	}
	if err := d.store.Invalidate(ctx, hash); err != nil {
		return err
	}
	d.logger.Info("record invalidated", logging.Hash(hash), logging.String(logging.FieldEventType, "record_invalidated"))
	return nil
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Owner:        d.pipeline.Owner(),
		LedgerPath:   d.store.Path(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		Watching:     d.watching.Load(),
		MediaMonitor: d.media.Running(),
	}
	d.mu.Lock()
	if status.Running {
		status.StartedAt = d.startedAt
	}
	d.mu.Unlock()
	if counts, err := d.store.Counts(ctx); err == nil {
		status.Counts = counts
	} else {
		status.LastError = err.Error()
	}
	if summary, ok := d.pipeline.LastSummary(); ok {
		status.LastTick = &summary
	}
	if v, ok := d.lastErr.Load().(string); ok && v != "" {
		status.LastError = v
	}
	return status
}
