package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeScan()
	c.normalizeSafety()
	if err := c.normalizeSync(); err != nil {
		return err
	}
	if err := c.normalizePublish(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if len(c.Paths.Roots) == 0 {
		if value, ok := os.LookupEnv("HOPPER_ROOTS"); ok {
			c.Paths.Roots = filepath.SplitList(value)
		}
	}
	roots := make([]string, 0, len(c.Paths.Roots))
	seen := make(map[string]struct{}, len(c.Paths.Roots))
	for _, root := range c.Paths.Roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		expanded, err := expandPath(root)
		if err != nil {
			return fmt.Errorf("paths.roots: %w", err)
		}
		if _, ok := seen[expanded]; ok {
			continue
		}
		seen[expanded] = struct{}{}
		roots = append(roots, expanded)
	}
	c.Paths.Roots = roots

	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LibraryDir) == "" {
		c.Paths.LibraryDir = defaultLibraryDir
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeScan() {
	c.Scan.MarkerName = strings.TrimSpace(c.Scan.MarkerName)
	if c.Scan.MarkerName == "" {
		c.Scan.MarkerName = defaultMarkerName
	}
}

func (c *Config) normalizeSafety() {
	c.Safety.HostOS = NormalizePlatform(c.Safety.HostOS)
}

// NormalizePlatform maps GOOS-style names onto the platform names used by
// installer compatibility tables.
func NormalizePlatform(value string) string {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "darwin", "macos", "osx":
		return "macos"
	case "":
		return "linux"
	default:
		return v
	}
}

func (c *Config) normalizeSync() error {
	// A user-provided [[sync.targets]] entry replaces a default with the same name.
	byName := make(map[string]int, len(c.Sync.Targets))
	targets := make([]SyncTarget, 0, len(c.Sync.Targets))
	for _, target := range c.Sync.Targets {
		target.Name = strings.ToLower(strings.TrimSpace(target.Name))
		target.Type = strings.ToLower(strings.TrimSpace(target.Type))
		target.URL = strings.TrimSpace(target.URL)
		if target.Name == "" {
			continue
		}
		if target.Type == "" {
			target.Type = SyncTypeDirectory
		}
		if target.Type == SyncTypeDirectory {
			if strings.TrimSpace(target.Path) == "" {
				target.Path = filepath.Join(c.Paths.StateDir, "sync", target.Name)
			}
			expanded, err := expandPath(target.Path)
			if err != nil {
				return fmt.Errorf("sync.targets[%s].path: %w", target.Name, err)
			}
			target.Path = expanded
		}
		if idx, ok := byName[target.Name]; ok {
			targets[idx] = target
			continue
		}
		byName[target.Name] = len(targets)
		targets = append(targets, target)
	}
	// Built-in directory targets stay addressable even when a config file
	// declares its own target list.
	for _, name := range DefaultSyncTargets {
		if _, ok := byName[name]; ok {
			continue
		}
		byName[name] = len(targets)
		targets = append(targets, SyncTarget{
			Name: name,
			Type: SyncTypeDirectory,
			Path: filepath.Join(c.Paths.StateDir, "sync", name),
		})
	}
	c.Sync.Targets = targets
	c.Sync.Enabled = normalizeNames(c.Sync.Enabled)
	return nil
}

func (c *Config) normalizePublish() error {
	if strings.TrimSpace(c.Publish.OutboxDir) == "" {
		c.Publish.OutboxDir = filepath.Join(c.Paths.StateDir, "publishing")
	}
	expanded, err := expandPath(c.Publish.OutboxDir)
	if err != nil {
		return fmt.Errorf("publish.outbox_dir: %w", err)
	}
	c.Publish.OutboxDir = expanded
	c.Publish.Platforms = normalizeNames(c.Publish.Platforms)
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("HOPPER_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func normalizeNames(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
