package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// RetentionTarget names a directory of run logs. Files matching Pattern are
// pruned once they age out; Exclude lists paths that stay regardless, such
// as the log the current run is writing.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs deletes run logs last written more than retentionDays ago.
// Zero or a negative value keeps every log. Failures are logged and never
// stop the daemon from starting.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) {
	if retentionDays <= 0 {
		return
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, target := range targets {
		for _, path := range expired(target, cutoff) {
			if err := os.Remove(path); err != nil {
				WarnWithContext(logger, "old run log not removed", "log_retention_failed",
					Path(path),
					Error(err),
					String(FieldErrorHint, "check permissions on paths.log_dir"),
					String(FieldImpact, "the log stays on disk until the next daemon start"),
				)
				continue
			}
			logger.Info("old run log removed",
				Path(path),
				String(FieldEventType, "log_pruned"),
			)
		}
	}
}

// expired lists the files of target older than cutoff.
func expired(target RetentionTarget, cutoff time.Time) []string {
	if target.Dir == "" {
		return nil
	}
	pattern := target.Pattern
	if pattern == "" {
		pattern = "*"
	}
	matches, err := filepath.Glob(filepath.Join(target.Dir, pattern))
	if err != nil {
		return nil
	}
	keep := make([]string, 0, len(target.Exclude))
	for _, path := range target.Exclude {
		if abs, err := filepath.Abs(path); err == nil {
			keep = append(keep, abs)
		}
	}
	var out []string
	for _, path := range matches {
		if abs, err := filepath.Abs(path); err == nil && slices.Contains(keep, abs) {
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		out = append(out, path)
	}
	return out
}
