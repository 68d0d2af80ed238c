package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"hopper/internal/classify"
	"hopper/internal/logging"
	"hopper/internal/planner"
	"hopper/internal/services"
)

const installOutputTail = 2048

// install files a copy of the installer and runs it non-interactively from
// that copy. A non-zero exit or a timeout fails the record; installs are
// never retried.
func (e *Executor) install(ctx context.Context, req Request, action planner.Action) (output, error) {
	rule, ok := classify.LookupInstaller(action.Params["ext"])
	if !ok || !rule.Unattended {
		return output{}, services.Wrap(services.ErrUnsafeActionBlocked, "install", "lookup", fmt.Sprintf("no unattended form for %q", action.Params["ext"]), nil)
	}

	dest, err := e.copyInto(ctx, req, action.Target)
	if err != nil {
		return output{}, err
	}
	if err := os.Chmod(dest, 0o755); err != nil {
		return output{}, services.Wrap(services.ErrIO, "install", "chmod", dest, err)
	}

	command := substitute(rule.Command, dest)
	args := make([]string, len(rule.Args))
	for i, arg := range rule.Args {
		args[i] = substitute(arg, dest)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = append(os.Environ(), rule.Env...)
	cmd.Stdin = nil
	cmd.WaitDelay = 5 * time.Second
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	logger := logging.WithContext(ctx, e.logger)
	logger.Info("running installer",
		logging.String(logging.FieldEventType, "install_start"),
		logging.String("command", command),
		logging.Any("args", args),
	)
	runErr := cmd.Run()
	if runErr != nil {
		tail := outputTail(combined.Bytes())
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return output{}, services.Wrap(services.ErrExecutionTimeout, "install", command, tail, runErr)
		}
		return output{}, services.Wrap(services.ErrExecutionFailure, "install", command, tail, runErr)
	}
	logger.Info("installer finished", logging.String(logging.FieldEventType, "install_complete"))
	return output{placements: []placement{{action: planner.ActionInstall, path: dest}}}, nil
}

func substitute(value, file string) string {
	return strings.ReplaceAll(value, "{file}", file)
}

func outputTail(data []byte) string {
	text := strings.TrimSpace(string(data))
	if len(text) > installOutputTail {
		text = text[len(text)-installOutputTail:]
	}
	return text
}
