package executor

import (
	"context"
	"path/filepath"

	"hopper/internal/fileutil"
	"hopper/internal/ledger"
	"hopper/internal/logging"
	"hopper/internal/planner"
	"hopper/internal/services"
)

// organize copies the source into its bucket. The source is never moved or
// modified.
func (e *Executor) organize(ctx context.Context, req Request, action planner.Action) (output, error) {
	dest, err := e.copyInto(ctx, req, action.Target)
	if err != nil {
		return output{}, err
	}
	return output{placements: []placement{{action: planner.ActionOrganize, path: dest}}}, nil
}

// integrate files a browser extension and registers it in the capability
// index. The copy carries no execute permission.
func (e *Executor) integrate(ctx context.Context, req Request, action planner.Action) (output, error) {
	dest, err := e.copyInto(ctx, req, action.Target)
	if err != nil {
		return output{}, err
	}
	browser := action.Params["browser"]
	if err := e.store.RegisterCapability(context.WithoutCancel(ctx), ledger.Capability{
		Hash:    req.Hash,
		Browser: browser,
		Name:    filepath.Base(req.Path),
		Path:    dest,
	}); err != nil {
		return output{}, err
	}
	return output{placements: []placement{{action: planner.ActionIntegrate, path: dest}}}, nil
}

func (e *Executor) copyInto(ctx context.Context, req Request, target string) (string, error) {
	dir, err := e.libraryPath(target)
	if err != nil {
		return "", err
	}
	release, err := e.locks.Acquire(ctx, dir)
	if err != nil {
		return "", err
	}
	defer release()

	name := fileutil.SanitizeSegment(filepath.Base(req.Path))
	dest, _, err := fileutil.CopyIntoUnique(ctx, req.Path, dir, name)
	if err != nil {
		return "", services.Wrap(services.ErrIO, "organize", "copy", req.Path, err)
	}
	if filepath.Base(dest) != name {
		e.logger.Debug("destination name taken; suffixed",
			logging.Hash(req.Hash),
			logging.String("requested", name),
			logging.String("resolved", filepath.Base(dest)),
			logging.String("failure_kind", string(services.KindConflict)),
		)
	}
	return dest, nil
}
