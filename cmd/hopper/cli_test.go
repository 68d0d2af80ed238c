package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"hopper/internal/config"
	"hopper/internal/daemon"
	"hopper/internal/ipc"
	"hopper/internal/ledger"
	"hopper/internal/logging"
	"hopper/internal/pipeline"
	"hopper/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	t.Setenv("HOME", filepath.Join(testsupport.BaseDir(cfg), "home"))
	configPath := writeTestConfig(t, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	p, err := pipeline.New(cfg, store, "run-cli", logger)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	d, err := daemon.New(cfg, store, logger, p, filepath.Join(cfg.Paths.LogDir, "hopper-test.log"))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Stop()
	})

	return &cliTestEnv{cfg: cfg, daemon: d, socketPath: cfg.SocketPath(), configPath: configPath}
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestDaemonCommandsAgainstRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteText(t, filepath.Join(testsupport.Root(env.cfg), "settings.yaml"), "name: hopper\nlevel: 3\n")
	if err := env.daemon.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	var records []ledger.Record
	waitFor(t, 10*time.Second, func() bool {
		var err error
		records, err = env.daemon.ListRecords(context.Background(), []ledger.Status{ledger.StatusCompleted})
		return err == nil && len(records) == 1
	})
	hash := records[0].Hash

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "Running (pid")
	requireContains(t, out, "completed")

	out, _, err = runCLI(t, []string{"records"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	requireContains(t, out, shortHash(hash))
	requireContains(t, out, "structured_data")

	out, _, err = runCLI(t, []string{"records", "--status", "failed"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("records --status: %v", err)
	}
	requireContains(t, out, "No records")

	out, _, err = runCLI(t, []string{"show", hash}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "Placements:")
	requireContains(t, out, "organize")

	out, _, err = runCLI(t, []string{"show", "--json", hash}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("show --json: %v", err)
	}
	var entry ipc.Entry
	if err := json.Unmarshal([]byte(out), &entry); err != nil {
		t.Fatalf("decode show output: %v\n%s", err, out)
	}
	if entry.Record.Hash != hash || len(entry.Deliveries) != 3 {
		t.Fatalf("unexpected entry %+v", entry)
	}

	out, _, err = runCLI(t, []string{"errors"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("errors: %v", err)
	}
	requireContains(t, out, "No errors recorded")

	out, _, err = runCLI(t, []string{"invalidate", hash}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	requireContains(t, out, "Invalidated "+shortHash(hash))

	out, _, err = runCLI(t, []string{"scan"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !strings.Contains(out, "Scan requested") && !strings.Contains(out, "A scan is already pending") {
		t.Fatalf("unexpected scan output %q", out)
	}

	out, _, err = runCLI(t, []string{"stop"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon stopped")
	if env.daemon.Status(context.Background()).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	t.Setenv("HOME", filepath.Join(testsupport.BaseDir(cfg), "home"))
	configPath := writeTestConfig(t, cfg)

	out, _, err := runCLI(t, []string{"status"}, "", configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Not running")
	requireContains(t, out, "State directory")
	requireContains(t, out, "record counts unavailable")

	if _, _, err := runCLI(t, []string{"records"}, "", configPath); err == nil || !strings.Contains(err.Error(), "hopper start") {
		t.Fatalf("expected dial error mentioning hopper start, got %v", err)
	}

	out, _, err = runCLI(t, []string{"stop"}, "", configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon not running")
}

func TestClassifyCommandIsOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	t.Setenv("HOME", filepath.Join(testsupport.BaseDir(cfg), "home"))
	configPath := writeTestConfig(t, cfg)

	dir := filepath.Join(testsupport.BaseDir(cfg), "samples")
	deb := filepath.Join(dir, "tool.deb")
	script := filepath.Join(dir, "deploy.sh")
	testsupport.WriteText(t, deb, "!<arch>\n")
	testsupport.WriteText(t, script, "#!/bin/sh\necho hi\n")

	out, _, err := runCLI(t, []string{"classify", "--json", deb, script, filepath.Join(dir, "missing.bin")}, "", configPath)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	var results []classification
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode classify output: %v\n%s", err, out)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %+v", results)
	}
	if results[0].Category != "installer" || results[0].Plan != "[organize]" || !strings.Contains(results[0].Blocked, "not confirmed") {
		t.Fatalf("unexpected installer result %+v", results[0])
	}
	if results[1].Category != "script" || results[1].Blocked != "" {
		t.Fatalf("unexpected script result %+v", results[1])
	}
	if results[2].Error == "" {
		t.Fatalf("expected error for missing file, got %+v", results[2])
	}

	entries, err := os.ReadDir(cfg.Paths.LibraryDir)
	if err != nil {
		t.Fatalf("read library: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("classify must not touch the library, found %d entries", len(entries))
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("HOPPER_ROOTS", "")
	target := filepath.Join(home, "conf", "hopper.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, "", target)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, filepath.Join(home, "inbox"))
}

func TestRenderTablePadsRowsAndAlignsCounts(t *testing.T) {
	out := renderTable([]column{col("Status"), num("Count")}, [][]string{
		{"completed", "1200"},
		{"failed", "7"},
		{"pending"},
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 7 {
		t.Fatalf("expected header, rule and three rows framed, got %d lines:\n%s", len(lines), out)
	}
	completed, failed := lines[3], lines[4]
	if strings.Index(completed, "1200")+len("1200") != strings.Index(failed, "7")+1 {
		t.Fatalf("counts not right-aligned:\n%s", out)
	}
	if !strings.Contains(lines[5], "pending") {
		t.Fatalf("short row dropped:\n%s", out)
	}
	if renderTable(nil, [][]string{{"x"}}) != "" {
		t.Fatal("expected no output without columns")
	}
}
