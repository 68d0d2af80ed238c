package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"hopper/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The single watched root is <base>/inbox and already exists; the host is
// pinned to linux so classification does not depend on the machine running
// the tests.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.Roots = []string{filepath.Join(base, "inbox")}
	cfgVal.Paths.LibraryDir = filepath.Join(base, "library")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "state", "logs")
	cfgVal.Publish.OutboxDir = filepath.Join(base, "state", "publishing")
	cfgVal.Safety.HostOS = "linux"
	cfgVal.Workflow.Workers = 2
	for i := range cfgVal.Sync.Targets {
		cfgVal.Sync.Targets[i].Path = filepath.Join(base, "state", "sync", cfgVal.Sync.Targets[i].Name)
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, root := range builder.cfg.Paths.Roots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			t.Fatalf("mkdir root %s: %v", root, err)
		}
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	return builder.cfg
}

// WithHostOS overrides the host platform used by installer compatibility checks.
func WithHostOS(platform string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Safety.HostOS = platform
	}
}

// WithUnattendedInstall enables installs without a marker directive.
func WithUnattendedInstall() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Safety.AllowUnattendedInstall = true
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. Each stub runs body, or exits 0 when body is empty.
func WithStubbedBinaries(body string, names ...string) ConfigOption {
	return func(b *configBuilder) {
		if body == "" {
			body = "exit 0"
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\n" + body + "\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// Root returns the first watched root of cfg.
func Root(cfg *config.Config) string {
	return cfg.Paths.Roots[0]
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LibraryDir)
}
