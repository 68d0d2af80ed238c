package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hopper/internal/config"
	"hopper/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckRootAccess_ReadOnlyRootPasses(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	if result := CheckRootAccess("root", dir); !result.Passed {
		t.Fatalf("expected read-only root to pass, got: %s", result.Detail)
	}
	if result := CheckDirectoryAccess("state", dir); result.Passed {
		t.Fatal("expected read-only directory to fail the writable check")
	}
}

func TestCheckEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		status int
		pass   bool
	}{
		{"ok", http.StatusOK, true},
		{"unauthorized still reachable", http.StatusUnauthorized, true},
		{"server error", http.StatusBadGateway, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodHead {
					t.Errorf("unexpected method %s", r.Method)
				}
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			result := CheckEndpoint(context.Background(), "hook", srv.URL)
			if result.Passed != tc.pass {
				t.Fatalf("expected passed=%v, got %+v", tc.pass, result)
			}
		})
	}
}

func TestCheckEndpoint_MissingURL(t *testing.T) {
	if result := CheckEndpoint(context.Background(), "hook", " "); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_TestConfigPasses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"Root ", "State directory", "Library directory", "Sync target pages"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q among checks, got %s", want, joined)
		}
	}
}

func TestRunAll_ReportsMissingRootAndWebhook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	cfg.Paths.Roots = append(cfg.Paths.Roots, filepath.Join(testsupport.BaseDir(cfg), "missing"))
	cfg.Sync.Targets = append(cfg.Sync.Targets, config.SyncTarget{Name: "hook", Type: config.SyncTypeWebhook, URL: srv.URL})
	cfg.Sync.Enabled = append(cfg.Sync.Enabled, "hook")

	failed := Failed(RunAll(context.Background(), cfg))
	if len(failed) != 2 {
		t.Fatalf("expected 2 failures, got %+v", failed)
	}
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	results := CheckBinaries([]Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: " "},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Available {
		t.Fatalf("expected present binary available: %+v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary detail: %+v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected blank detail %q", results[2].Detail)
	}
}

func TestCheckSystemDepsIncludesInstallersWhenEnabled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithUnattendedInstall())
	statuses := CheckSystemDeps(cfg)
	var names []string
	for _, s := range statuses {
		names = append(names, s.Name)
	}
	if strings.Join(names, ",") != "7-Zip,dpkg,rpm" {
		t.Fatalf("unexpected requirements %v", names)
	}

	cfg.Safety.AllowUnattendedInstall = false
	if got := CheckSystemDeps(cfg); len(got) != 1 {
		t.Fatalf("expected only 7-Zip without unattended install, got %+v", got)
	}
}
