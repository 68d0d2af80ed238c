package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"hopper/internal/config"
	"hopper/internal/instruction"
	"hopper/internal/logging"
)

// Batch is one directory's worth of work: its marker, if any, and the
// regular files directly inside it. Batches arrive in pre-order, so a
// directory is always yielded before any of its descendants.
type Batch struct {
	Dir    string
	Root   string
	Depth  int
	Marker string
	Files  []string
}

// Stats summarizes one walk.
type Stats struct {
	Dirs     int
	Files    int
	Cycles   int
	Skipped  int
	Errors   int
	Excluded int
}

type dirID struct {
	dev uint64
	ino uint64
}

// Scanner walks the configured roots. It never modifies anything.
type Scanner struct {
	roots          []string
	markerName     string
	maxDepth       int
	followSymlinks bool
	excluded       func(string) bool
	logger         *slog.Logger
}

// New creates a scanner for cfg.
func New(cfg *config.Config, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scanner{
		roots:          append([]string(nil), cfg.Paths.Roots...),
		markerName:     cfg.Scan.MarkerName,
		maxDepth:       cfg.Scan.MaxDepth,
		followSymlinks: cfg.Scan.FollowSymlinks,
		excluded:       cfg.IsExcluded,
		logger:         logging.NewComponentLogger(logger, "scanner"),
	}
}

// Walk visits every root and calls fn for each directory batch. An
// unreadable root or directory is logged and skipped. Walk stops early only
// when ctx is cancelled or fn returns an error.
func (s *Scanner) Walk(ctx context.Context, fn func(Batch) error) (Stats, error) {
	var stats Stats
	visited := make(map[dirID]string)
	for _, root := range s.roots {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		w := walk{scanner: s, root: root, visited: visited, stats: &stats, fn: fn}
		if err := w.visit(ctx, root, 0); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// Collect walks every root and returns the batches in order.
func (s *Scanner) Collect(ctx context.Context) ([]Batch, Stats, error) {
	var batches []Batch
	stats, err := s.Walk(ctx, func(b Batch) error {
		batches = append(batches, b)
		return nil
	})
	return batches, stats, err
}

type walk struct {
	scanner *Scanner
	root    string
	visited map[dirID]string
	stats   *Stats
	fn      func(Batch) error
}

func (w *walk) visit(ctx context.Context, dir string, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := w.scanner.logger

	var st unix.Stat_t
	if err := unix.Stat(dir, &st); err != nil {
		w.stats.Errors++
		logging.WarnWithContext(logger, "directory unreadable", "scan_dir_unreadable",
			logging.String(logging.FieldDir, dir),
			logging.Error(err),
			logging.String(logging.FieldImpact, "directory skipped this tick"),
		)
		return nil
	}
	id := dirID{dev: uint64(st.Dev), ino: uint64(st.Ino)}
	if first, seen := w.visited[id]; seen {
		w.stats.Cycles++
		logger.Info("directory already visited; skipping",
			logging.String(logging.FieldDir, dir),
			logging.String("first_seen", first),
		)
		return nil
	}
	w.visited[id] = dir

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.stats.Errors++
		logging.WarnWithContext(logger, "directory listing failed", "scan_dir_unreadable",
			logging.String(logging.FieldDir, dir),
			logging.Error(err),
			logging.String(logging.FieldImpact, "directory skipped this tick"),
		)
		return nil
	}
	w.stats.Dirs++

	batch := Batch{Dir: dir, Root: w.root, Depth: depth}
	var subdirs []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if w.scanner.excluded(path) {
			w.stats.Excluded++
			continue
		}
		kind, err := w.resolve(path, entry)
		if err != nil {
			w.stats.Errors++
			logger.Debug("entry unreadable", logging.Path(path), logging.Error(err))
			continue
		}
		switch kind {
		case fs.ModeDir:
			subdirs = append(subdirs, path)
		case 0:
			if instruction.IsMarker(entry.Name(), w.scanner.markerName) {
				if batch.Marker == "" {
					batch.Marker = path
				} else {
					logger.Warn("multiple instruction markers; using the first",
						logging.String(logging.FieldDir, dir),
						logging.String("ignored", path),
					)
				}
				continue
			}
			batch.Files = append(batch.Files, path)
		default:
			w.stats.Skipped++
		}
	}
	sort.Strings(batch.Files)
	w.stats.Files += len(batch.Files)

	if err := w.fn(batch); err != nil {
		return err
	}

	if depth >= w.scanner.maxDepth {
		if len(subdirs) > 0 {
			logger.Debug("max depth reached", logging.String(logging.FieldDir, dir), logging.Int("depth", depth))
		}
		return nil
	}
	for _, sub := range subdirs {
		if err := w.visit(ctx, sub, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// resolve classifies an entry as a directory (fs.ModeDir), a regular file
// (0) or something to skip. Symlinks are followed only when configured.
func (w *walk) resolve(path string, entry fs.DirEntry) (fs.FileMode, error) {
	mode := entry.Type()
	switch {
	case mode.IsDir():
		return fs.ModeDir, nil
	case mode.IsRegular():
		return 0, nil
	case mode&fs.ModeSymlink != 0:
		if !w.scanner.followSymlinks {
			return fs.ModeSymlink, nil
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.ModeSymlink, nil
			}
			return 0, fmt.Errorf("follow symlink: %w", err)
		}
		if info.IsDir() {
			return fs.ModeDir, nil
		}
		if info.Mode().IsRegular() {
			return 0, nil
		}
		return info.Mode().Type(), nil
	default:
		return mode.Type(), nil
	}
}
