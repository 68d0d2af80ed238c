package scanner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"hopper/internal/config"
	"hopper/internal/logging"
)

// Watcher turns filesystem events under the roots into debounced scan
// requests. It never walks files itself; it only says "something changed".
type Watcher struct {
	cfg      *config.Config
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher registers watches on every root directory and its
// subdirectories up to scan.max_depth.
func NewWatcher(cfg *config.Config, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		cfg:      cfg,
		watcher:  fw,
		debounce: time.Duration(cfg.Scan.DebounceMillis) * time.Millisecond,
		logger:   logging.NewComponentLogger(logger, "watcher"),
	}
	for _, root := range cfg.Paths.Roots {
		w.addTree(root, 0)
	}
	return w, nil
}

// Run delivers debounced triggers until ctx is cancelled. trigger is
// called from the Run goroutine and must not block for long.
func (w *Watcher) Run(ctx context.Context, trigger func(reason string)) error {
	defer w.watcher.Close()

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending string
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("fsnotify event channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addTree(event.Name, w.depthOf(event.Name))
				}
			}
			pending = event.Name
			if w.debounce <= 0 {
				trigger("fsnotify: " + pending)
				continue
			}
			stopTimer()
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("fsnotify error channel closed")
			}
			w.logger.Warn("filesystem watch error", logging.Error(err))
		case <-timerC:
			timerC = nil
			trigger("fsnotify: " + pending)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if w.cfg.IsExcluded(event.Name) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}

func (w *Watcher) addTree(dir string, depth int) {
	if depth > w.cfg.Scan.MaxDepth || w.cfg.IsExcluded(dir) {
		return
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("watch directory failed", logging.String(logging.FieldDir, dir), logging.Error(err))
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			w.addTree(filepath.Join(dir, entry.Name()), depth+1)
		}
	}
}

func (w *Watcher) depthOf(path string) int {
	sep := string(filepath.Separator)
	for _, root := range w.cfg.Paths.Roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+sep) {
			continue
		}
		if rel == "." {
			return 0
		}
		return strings.Count(rel, sep) + 1
	}
	return 0
}
