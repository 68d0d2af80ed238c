package instruction

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"hopper/internal/fileutil"
	"hopper/internal/logging"
	"hopper/internal/services"
)

// CommandResult is the outcome of one custom command.
type CommandResult struct {
	Command string
	Blocked bool
	Err     error
}

// WorkspaceDir returns the per-directory workspace under the library that
// custom commands are confined to.
func WorkspaceDir(libraryDir, dir string) string {
	slug := fileutil.SanitizeSegment(filepath.Base(dir)) + "_" + fileutil.HashString(dir)[:8]
	return filepath.Join(libraryDir, "instructions", slug)
}

// RunCommands executes marker commands in order inside workspace. Commands
// never start a process; anything outside the small built-in set is refused.
func RunCommands(ctx context.Context, commands []string, workspace string, logger *slog.Logger) []CommandResult {
	if logger == nil {
		logger = logging.NewNop()
	}
	results := make([]CommandResult, 0, len(commands))
	for _, command := range commands {
		if ctx.Err() != nil {
			results = append(results, CommandResult{Command: command, Err: ctx.Err()})
			continue
		}
		err := runCommand(command, workspace, logger)
		result := CommandResult{Command: command, Err: err}
		if services.KindOf(err) == services.KindUnsafeActionBlocked {
			result.Blocked = true
		}
		results = append(results, result)
	}
	return results
}

func runCommand(command, workspace string, logger *slog.Logger) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return blocked(command, "empty command")
	}
	switch strings.ToLower(fields[0]) {
	case "echo":
		text := strings.TrimSpace(command[len(fields[0]):])
		logger.Info("instruction echo",
			logging.String(logging.FieldEventType, "instruction_echo"),
			logging.String("text", text),
		)
		return nil
	case "create":
		if len(fields) < 3 || strings.ToLower(fields[1]) != "folder" {
			return blocked(command, "unsupported create command")
		}
		target, err := confine(workspace, strings.Join(fields[2:], " "))
		if err != nil {
			return blocked(command, err.Error())
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return services.Wrap(services.ErrIO, "instruction", "create folder", target, err)
		}
		logger.Info("instruction folder created", logging.String(logging.FieldPath, target))
		return nil
	case "modify":
		// modify file <name> add <text>
		if len(fields) < 5 || strings.ToLower(fields[1]) != "file" || strings.ToLower(fields[3]) != "add" {
			return blocked(command, "unsupported modify command")
		}
		target, err := confine(workspace, fields[2])
		if err != nil {
			return blocked(command, err.Error())
		}
		text := strings.Join(fields[4:], " ")
		if err := appendLine(target, text); err != nil {
			return services.Wrap(services.ErrIO, "instruction", "modify file", target, err)
		}
		logger.Info("instruction file modified", logging.String(logging.FieldPath, target))
		return nil
	default:
		return blocked(command, "unknown command")
	}
}

func blocked(command, reason string) error {
	return services.Wrap(services.ErrUnsafeActionBlocked, "instruction", "command", fmt.Sprintf("%s: %q", reason, command), nil)
}

// confine resolves name inside workspace and refuses anything that escapes.
func confine(workspace, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("path %q is not relative", name)
	}
	target := filepath.Join(workspace, name)
	rel, err := filepath.Rel(workspace, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", name)
	}
	return target, nil
}

func appendLine(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(text + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
