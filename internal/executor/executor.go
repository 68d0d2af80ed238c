package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hopper/internal/classify"
	"hopper/internal/config"
	"hopper/internal/ledger"
	"hopper/internal/logging"
	"hopper/internal/planner"
	"hopper/internal/services"
)

// Request is one admitted record ready to execute.
type Request struct {
	Hash      string
	Path      string
	Depth     int
	Structure classify.Structure
	Plan      planner.Plan
}

// Member is a file produced by extract that must go back through the scanner.
type Member struct {
	Path       string
	Depth      int
	OriginHash string
}

// Result describes how a record left the executor.
type Result struct {
	Status     ledger.Status
	Outcome    string
	Placements []string
	Members    []Member
	Err        error
}

type placement struct {
	action planner.Kind
	path   string
}

type output struct {
	placements []placement
	members    []Member
}

// Executor runs plans. Each action runs under a hard timeout, and a failure
// is contained to its record.
type Executor struct {
	cfg    *config.Config
	store  *ledger.Store
	locks  *DirLocks
	logger *slog.Logger
}

// New constructs an executor.
func New(cfg *config.Config, store *ledger.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		cfg:    cfg,
		store:  store,
		locks:  NewDirLocks(cfg.LockDir()),
		logger: logging.NewComponentLogger(logger, "executor"),
	}
}

// Run moves a planned record to executing, performs its actions in order,
// and records the terminal state. Ledger writes are not tied to ctx so a
// stop request never loses a result that was already produced.
func (e *Executor) Run(ctx context.Context, req Request) Result {
	ctx = services.WithHash(ctx, req.Hash)
	logger := logging.WithContext(ctx, e.logger).With(logging.Path(req.Path))
	persist := context.WithoutCancel(ctx)

	if err := e.store.MarkExecuting(persist, req.Hash); err != nil {
		return e.failLedger(persist, logger, req, fmt.Errorf("mark executing: %w", err))
	}

	started := time.Now()
	var (
		placements []string
		members    []Member
	)
	for _, action := range req.Plan.Actions {
		out, err := e.runAction(ctx, req, action)
		if err != nil && action.Kind == planner.ActionExtract && errors.Is(err, services.ErrUnsupportedFormat) {
			logger.Info("archive format unsupported; organizing instead",
				logging.String(logging.FieldEventType, "extract_fallback"),
				logging.Error(err),
			)
			out, err = e.runAction(ctx, req, planner.Action{Kind: planner.ActionOrganize, Target: "data/archives"})
		}
		if err != nil {
			return e.fail(persist, logger, req, action.Kind, err)
		}
		for _, p := range out.placements {
			if err := e.store.AddPlacement(persist, req.Hash, string(p.action), p.path); err != nil {
				return e.fail(persist, logger, req, action.Kind, err)
			}
			placements = append(placements, p.path)
		}
		members = append(members, out.members...)
	}

	outcome := ledger.OutcomeDone
	if req.Plan.IsBlocked() {
		outcome = ledger.OutcomeBlocked
	}
	if err := e.store.MarkCompleted(persist, req.Hash, outcome); err != nil {
		return e.failLedger(persist, logger, req, fmt.Errorf("mark completed: %w", err))
	}
	logger.Info("record completed",
		logging.String(logging.FieldEventType, "record_completed"),
		logging.String("plan", req.Plan.String()),
		logging.String("outcome", outcome),
		logging.Int("placements", len(placements)),
		logging.Int("members", len(members)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return Result{Status: ledger.StatusCompleted, Outcome: outcome, Placements: placements, Members: members}
}

func (e *Executor) fail(ctx context.Context, logger *slog.Logger, req Request, kind planner.Kind, err error) Result {
	errKind := services.KindOf(err)
	reason := fmt.Sprintf("%s: %v", kind, err)
	logging.ErrorWithContext(logger, "action failed", "action_failed",
		logging.String(logging.FieldAction, string(kind)),
		logging.String("failure_kind", string(errKind)),
		logging.Error(err),
		logging.String(logging.FieldImpact, "record marked failed; other files continue"),
		logging.String(logging.FieldErrorHint, failureHint(errKind)),
	)
	if markErr := e.store.MarkFailed(ctx, req.Hash, req.Path, string(errKind), reason); markErr != nil {
		return Result{Status: ledger.StatusFailed, Err: errors.Join(err, markErr)}
	}
	return Result{Status: ledger.StatusFailed, Err: err}
}

// failLedger handles a ledger write that failed around the actions. The
// record is still moved to failed when the store allows it.
func (e *Executor) failLedger(ctx context.Context, logger *slog.Logger, req Request, err error) Result {
	logger.Error("ledger update failed",
		logging.String(logging.FieldEventType, "ledger_update_failed"),
		logging.Error(err),
	)
	if markErr := e.store.MarkFailed(ctx, req.Hash, req.Path, string(services.KindOf(err)), err.Error()); markErr != nil {
		return Result{Status: ledger.StatusFailed, Err: errors.Join(err, markErr)}
	}
	return Result{Status: ledger.StatusFailed, Err: err}
}

type actionResult struct {
	out output
	err error
}

// runAction applies the hard timeout. An action that does not return by the
// deadline is abandoned and reported as a timeout.
func (e *Executor) runAction(ctx context.Context, req Request, action planner.Action) (output, error) {
	timeout := e.cfg.ActionTimeout()
	if action.Kind == planner.ActionInstall {
		timeout = e.cfg.InstallTimeout()
	}
	actx, cancel := context.WithTimeout(services.WithAction(ctx, string(action.Kind)), timeout)
	defer cancel()

	done := make(chan actionResult, 1)
	go func() {
		out, err := e.dispatch(actx, req, action)
		done <- actionResult{out, err}
	}()
	select {
	case r := <-done:
		if r.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(r.err, services.ErrExecutionTimeout) {
			return output{}, services.Wrap(services.ErrExecutionTimeout, string(action.Kind), "run", fmt.Sprintf("exceeded %s", timeout), r.err)
		}
		return r.out, r.err
	case <-actx.Done():
		// The action may still finish; whatever it places then is removed
		// so a failed record never owns library files.
		go func() { discard(<-done) }()
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return output{}, services.Wrap(services.ErrExecutionTimeout, string(action.Kind), "run", fmt.Sprintf("exceeded %s", timeout), nil)
		}
		return output{}, actx.Err()
	}
}

func discard(r actionResult) {
	for _, p := range r.out.placements {
		_ = os.RemoveAll(p.path)
	}
}

func (e *Executor) dispatch(ctx context.Context, req Request, action planner.Action) (output, error) {
	switch action.Kind {
	case planner.ActionExtract:
		return e.extract(ctx, req, action)
	case planner.ActionInstall:
		return e.install(ctx, req, action)
	case planner.ActionConvert:
		return e.convert(ctx, req, action)
	case planner.ActionConvertMetadata:
		return e.convertMetadata(ctx, req, action)
	case planner.ActionOrganize:
		return e.organize(ctx, req, action)
	case planner.ActionIntegrate:
		return e.integrate(ctx, req, action)
	default:
		return output{}, services.Wrap(services.ErrExecutionFailure, "executor", "dispatch", fmt.Sprintf("unknown action %q", action.Kind), nil)
	}
}

// libraryPath resolves a library-relative target and refuses escapes.
func (e *Executor) libraryPath(target string) (string, error) {
	root := e.cfg.Paths.LibraryDir
	path := filepath.Join(root, filepath.FromSlash(target))
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", services.Wrap(services.ErrUnsafeActionBlocked, "executor", "resolve target", target, err)
	}
	return path, nil
}

func failureHint(kind services.Kind) string {
	switch kind {
	case services.KindExecutionTimeout:
		return "raise workflow.action_timeout or safety.install_timeout if the action is legitimately slow"
	case services.KindIO:
		return "check permissions and free space on the library and source paths"
	case services.KindUnsupportedFormat:
		return "install the tool for this format or disable the category"
	default:
		return "run hopper show <hash> for the stored reason"
	}
}
