package instruction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"hopper/internal/config"
	"hopper/internal/fileutil"
	"hopper/internal/ledger"
	"hopper/internal/logging"
	"hopper/internal/services"
)

const (
	maxMarkerBytes = 1 << 20
	maxFileList    = 10000
)

// Interpreter turns marker files into stored plans.
type Interpreter struct {
	cfg    *config.Config
	store  *ledger.Store
	logger *slog.Logger
}

// New constructs an interpreter.
func New(cfg *config.Config, store *ledger.Store, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Interpreter{
		cfg:    cfg,
		store:  store,
		logger: logger.With(logging.String(logging.FieldComponent, "instruction")),
	}
}

// Apply returns the plan of the marker at markerPath governing dir. The
// first time a marker's content is seen for dir the plan is parsed, stored,
// and its custom commands run; fresh reports that case. An unchanged marker
// is served from the ledger without being re-applied.
func (i *Interpreter) Apply(ctx context.Context, dir, markerPath string) (*Plan, bool, error) {
	digest, _, err := fileutil.HashFile(markerPath, i.cfg.Workflow.HashChunkKiB<<10)
	if err != nil {
		return nil, false, services.Wrap(services.ErrIO, "instruction", "hash marker", markerPath, err)
	}
	if plan, ok, err := i.lookup(ctx, dir, digest); err != nil || ok {
		return plan, false, err
	}

	text, err := readMarker(markerPath)
	if err != nil {
		return nil, false, services.Wrap(services.ErrIO, "instruction", "read marker", markerPath, err)
	}
	plan := Parse(text, ParseOptions{
		DefaultSync: i.cfg.Sync.Enabled,
		Platforms:   i.cfg.Publish.Platforms,
	})
	plan.Dir = dir
	plan.MarkerPath = markerPath
	plan.MarkerHash = digest
	plan.FileList = i.listFiles(dir)

	encoded, err := json.Marshal(plan)
	if err != nil {
		return nil, false, fmt.Errorf("encode instruction plan: %w", err)
	}
	stored, err := i.store.SaveMarker(ctx, dir, digest, string(encoded))
	if err != nil {
		return nil, false, err
	}
	if !stored {
		existing, _, err := i.lookup(ctx, dir, digest)
		return existing, false, err
	}

	logger := i.logger.With(logging.String(logging.FieldDir, dir))
	logger.Info("instruction marker applied",
		logging.String(logging.FieldEventType, "instruction_applied"),
		logging.Any("operations", plan.Operations),
		logging.Any("sync_targets", plan.SyncTargets),
		logging.Int("files", len(plan.FileList)),
		logging.Int("ignored_lines", plan.Ignored),
	)
	i.runCommands(ctx, &plan, logger)
	return &plan, true, nil
}

func (i *Interpreter) lookup(ctx context.Context, dir, digest string) (*Plan, bool, error) {
	raw, ok, err := i.store.LookupMarker(ctx, dir, digest)
	if err != nil || !ok {
		return nil, false, err
	}
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, false, fmt.Errorf("decode instruction plan for %s: %w", dir, err)
	}
	return &plan, true, nil
}

func (i *Interpreter) runCommands(ctx context.Context, plan *Plan, logger *slog.Logger) {
	if len(plan.CustomCommands) == 0 {
		return
	}
	workspace := WorkspaceDir(i.cfg.Paths.LibraryDir, plan.Dir)
	for _, result := range RunCommands(ctx, plan.CustomCommands, workspace, logger) {
		if result.Err == nil {
			continue
		}
		kind := services.KindOf(result.Err)
		logging.WarnWithContext(logger, "instruction command refused", "instruction_command_refused",
			logging.String("command", result.Command),
			logging.Error(result.Err),
			logging.String(logging.FieldImpact, "command skipped; remaining directives still apply"),
			logging.String(logging.FieldErrorHint, "only echo, create folder and modify file are supported"),
		)
		// Ledger writes outlive cancellation of the caller.
		if err := i.store.AppendError(context.WithoutCancel(ctx), ledger.ErrorEntry{
			Path:    plan.MarkerPath,
			Kind:    string(kind),
			Message: result.Err.Error(),
		}); err != nil {
			logger.Error("append command error", logging.Error(err))
		}
	}
}

func (i *Interpreter) listFiles(dir string) []string {
	var files []string
	errStop := errors.New("stop")
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && i.cfg.IsExcluded(path) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || IsMarker(d.Name(), i.cfg.Scan.MarkerName) {
			return nil
		}
		files = append(files, path)
		if len(files) >= maxFileList {
			return errStop
		}
		return nil
	})
	return files
}

func readMarker(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxMarkerBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Scope tracks the plans seen during one walk and answers which plan governs
// a directory: its own, or the nearest ancestor's.
type Scope struct {
	mu    sync.RWMutex
	plans map[string]*Plan
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{plans: make(map[string]*Plan)}
}

// Set records the plan governing dir and its descendants.
func (s *Scope) Set(dir string, plan *Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[filepath.Clean(dir)] = plan
}

// Governing returns the nearest plan at or above dir, or nil.
func (s *Scope) Governing(dir string) *Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir = filepath.Clean(dir)
	for {
		if plan, ok := s.plans[dir]; ok {
			return plan
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}
