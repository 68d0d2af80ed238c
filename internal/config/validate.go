package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateScan(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateExtract(); err != nil {
		return err
	}
	if err := c.validateSafety(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

// ValidateRoots reports an error when no watched root is configured. It is
// separate from Validate so CLI commands that only talk to the daemon can
// load a config without roots.
func (c *Config) ValidateRoots() error {
	if len(c.Paths.Roots) == 0 {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/hopper/config.toml"
		}
		return fmt.Errorf("paths.roots is empty. Set HOPPER_ROOTS or edit %s (create with 'hopper config init')", defaultPath)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.LibraryDir) == "" {
		return errors.New("paths.library_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	for _, root := range c.Paths.Roots {
		for _, owned := range []string{c.Paths.LibraryDir, c.Paths.StateDir} {
			if root == owned || isWithin(root, owned) {
				return fmt.Errorf("paths.roots entry %q must not be inside %q", root, owned)
			}
		}
	}
	return nil
}

func (c *Config) validateScan() error {
	if err := ensurePositiveMap(map[string]int{
		"scan.interval":         c.Scan.Interval,
		"scan.pattern_interval": c.Scan.PatternInterval,
		"scan.max_depth":        c.Scan.MaxDepth,
	}); err != nil {
		return err
	}
	if c.Scan.PatternInterval < c.Scan.Interval {
		return errors.New("scan.pattern_interval must not be shorter than scan.interval")
	}
	if strings.ContainsAny(c.Scan.MarkerName, `/\`) {
		return errors.New("scan.marker_name must be a bare file name")
	}
	if c.Scan.DebounceMillis < 0 {
		return errors.New("scan.debounce_ms must be >= 0")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.workers":              c.Workflow.Workers,
		"workflow.action_timeout":       c.Workflow.ActionTimeout,
		"workflow.shutdown_grace":       c.Workflow.ShutdownGrace,
		"workflow.hash_chunk_kib":       c.Workflow.HashChunkKiB,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
	})
}

func (c *Config) validateExtract() error {
	if c.Extract.MaxDepth < 0 {
		return errors.New("extract.max_depth must be >= 0")
	}
	if c.Extract.MaxMembers <= 0 {
		return errors.New("extract.max_members must be positive")
	}
	if c.Extract.MaxTotalBytes <= 0 {
		return errors.New("extract.max_total_bytes must be positive")
	}
	return nil
}

func (c *Config) validateSafety() error {
	if c.Safety.InstallTimeout <= 0 {
		return errors.New("safety.install_timeout must be positive (seconds)")
	}
	switch c.Safety.HostOS {
	case "linux", "macos", "windows":
	default:
		return fmt.Errorf("safety.host_os: unsupported value %q", c.Safety.HostOS)
	}
	return nil
}

func (c *Config) validateSync() error {
	if err := ensurePositiveMap(map[string]int{
		"sync.max_attempts":    c.Sync.MaxAttempts,
		"sync.timeout_seconds": c.Sync.TimeoutSeconds,
	}); err != nil {
		return err
	}
	known := make(map[string]struct{}, len(c.Sync.Targets))
	for _, target := range c.Sync.Targets {
		switch target.Type {
		case SyncTypeDirectory:
		case SyncTypeWebhook:
			if target.URL == "" {
				return fmt.Errorf("sync.targets[%s].url must be set for webhook targets", target.Name)
			}
		case SyncTypeNtfy:
			if target.URL == "" && c.Notifications.NtfyTopic == "" {
				return fmt.Errorf("sync.targets[%s] needs a url or notifications.ntfy_topic", target.Name)
			}
		default:
			return fmt.Errorf("sync.targets[%s].type: unsupported value %q", target.Name, target.Type)
		}
		known[target.Name] = struct{}{}
	}
	for _, name := range c.Sync.Enabled {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("sync.enabled references unknown target %q", name)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
