package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the watched roots and the directories hopper owns.
type Paths struct {
	Roots      []string `toml:"roots"`
	LibraryDir string   `toml:"library_dir"`
	StateDir   string   `toml:"state_dir"`
	LogDir     string   `toml:"log_dir"`
}

// Scan controls the tree walker and its triggers.
type Scan struct {
	Interval        int    `toml:"interval"`
	PatternInterval int    `toml:"pattern_interval"`
	MarkerName      string `toml:"marker_name"`
	MaxDepth        int    `toml:"max_depth"`
	FollowSymlinks  bool   `toml:"follow_symlinks"`
	Watch           bool   `toml:"watch"`
	WatchMedia      bool   `toml:"watch_media"`
	DebounceMillis  int    `toml:"debounce_ms"`
}

// Workflow contains worker pool sizing and action limits.
type Workflow struct {
	Workers             int `toml:"workers"`
	ActionTimeout       int `toml:"action_timeout"`
	ShutdownGrace       int `toml:"shutdown_grace"`
	HashChunkKiB        int `toml:"hash_chunk_kib"`
	ErrorRetryInterval  int `toml:"error_retry_interval"`
	ErrorLogRetainLimit int `toml:"error_log_retain"`
}

// Extract bounds archive unpacking.
type Extract struct {
	MaxDepth      int    `toml:"max_depth"`
	MaxMembers    int    `toml:"max_members"`
	MaxTotalBytes int64  `toml:"max_total_bytes"`
	SevenZipPath  string `toml:"sevenzip_path"`
}

// Safety gates actions that touch the host system.
type Safety struct {
	AllowUnattendedInstall bool   `toml:"allow_unattended_install"`
	InstallTimeout         int    `toml:"install_timeout"`
	HostOS                 string `toml:"host_os"`
}

// Categories toggles the primary action of each category. A disabled
// category is still recorded and organized.
type Categories struct {
	Archive          bool `toml:"archive"`
	Installer        bool `toml:"installer"`
	BrowserExtension bool `toml:"browser_extension"`
	NativeLibrary    bool `toml:"native_library"`
	Script           bool `toml:"script"`
	Credential       bool `toml:"credential"`
	MobileApp        bool `toml:"mobile_app"`
	StructuredData   bool `toml:"structured_data"`
	Unknown          bool `toml:"unknown"`
}

// SyncTarget describes one downstream subscriber.
type SyncTarget struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
	Path string `toml:"path"`
	URL  string `toml:"url"`
}

// Sync configures the broadcaster.
type Sync struct {
	Enabled        []string     `toml:"enabled"`
	MaxAttempts    int          `toml:"max_attempts"`
	TimeoutSeconds int          `toml:"timeout_seconds"`
	Targets        []SyncTarget `toml:"targets"`
}

// Publish configures the publishing collaborator.
type Publish struct {
	OutboxDir string   `toml:"outbox_dir"`
	Platforms []string `toml:"platforms"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	TickFailures   bool   `toml:"tick_failures"`
	UnsafeBlocked  bool   `toml:"unsafe_blocked"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for hopper.
//
// Configuration sections by subsystem:
//   - Paths: watched roots, organized library, state and logs
//   - Scan: walk interval, pattern analysis interval, marker file, triggers
//   - Workflow: worker pool, action timeout, shutdown grace
//   - Extract: archive recursion and size bounds
//   - Safety: unattended install gate
//   - Categories: per-category enable flags
//   - Sync: downstream targets
//   - Publish: publishing outbox
//   - Notifications: ntfy operator alerts
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Scan          Scan          `toml:"scan"`
	Workflow      Workflow      `toml:"workflow"`
	Extract       Extract       `toml:"extract"`
	Safety        Safety        `toml:"safety"`
	Categories    Categories    `toml:"categories"`
	Sync          Sync          `toml:"sync"`
	Publish       Publish       `toml:"publish"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/hopper/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("hopper.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// Roots are never created: a missing root is reported by preflight.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.LibraryDir, c.LockDir()} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	for _, target := range c.Sync.Targets {
		if target.Type != SyncTypeDirectory || strings.TrimSpace(target.Path) == "" {
			continue
		}
		if err := os.MkdirAll(target.Path, 0o755); err != nil {
			return fmt.Errorf("create sync target directory %q: %w", target.Path, err)
		}
	}
	return nil
}

// LedgerPath returns the SQLite ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}

// SocketPath returns the daemon control socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "hopper.sock")
}

// PIDPath is where the running daemon records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "hopper.pid")
}

// LockDir holds per-destination lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

// ScanInterval returns the scan tick period.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scan.Interval) * time.Second
}

// PatternInterval returns the pattern/statistics tick period.
func (c *Config) PatternInterval() time.Duration {
	return time.Duration(c.Scan.PatternInterval) * time.Second
}

// ErrorRetryInterval returns how often nacked sync deliveries are retried
// between scans.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Workflow.ErrorRetryInterval) * time.Second
}

// ActionTimeout returns the hard limit applied to each executor action.
func (c *Config) ActionTimeout() time.Duration {
	return time.Duration(c.Workflow.ActionTimeout) * time.Second
}

// InstallTimeout returns the hard limit applied to unattended installs.
func (c *Config) InstallTimeout() time.Duration {
	return time.Duration(c.Safety.InstallTimeout) * time.Second
}

// ShutdownGrace returns how long in-flight work may run after a stop request.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Workflow.ShutdownGrace) * time.Second
}

// IsExcluded reports whether path lies inside a directory hopper writes to.
// The scanner uses this to avoid ingesting its own output.
func (c *Config) IsExcluded(path string) bool {
	for _, dir := range c.ownedDirs() {
		if dir == "" {
			continue
		}
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (c *Config) ownedDirs() []string {
	dirs := []string{c.Paths.LibraryDir, c.Paths.StateDir, c.Paths.LogDir, c.Publish.OutboxDir}
	for _, target := range c.Sync.Targets {
		if target.Type == SyncTypeDirectory {
			dirs = append(dirs, target.Path)
		}
	}
	return dirs
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
