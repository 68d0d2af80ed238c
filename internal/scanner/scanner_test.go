package scanner_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"hopper/internal/logging"
	"hopper/internal/scanner"
	"hopper/internal/testsupport"
)

func TestWalkYieldsPreOrderBatches(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := testsupport.Root(cfg)
	testsupport.WriteText(t, filepath.Join(root, "a.txt"), "a")
	testsupport.WriteText(t, filepath.Join(root, "project", "Instruction.TXT"), "install")
	testsupport.WriteText(t, filepath.Join(root, "project", "setup.deb"), "deb")
	testsupport.WriteText(t, filepath.Join(root, "project", "nested", "readme.md"), "hi")

	batches, stats, err := scanner.New(cfg, logging.NewNop()).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d: %+v", len(batches), batches)
	}
	if batches[0].Dir != root || len(batches[0].Files) != 1 {
		t.Fatalf("unexpected root batch %+v", batches[0])
	}
	project := batches[1]
	if project.Dir != filepath.Join(root, "project") || project.Depth != 1 {
		t.Fatalf("unexpected project batch %+v", project)
	}
	if project.Marker != filepath.Join(root, "project", "Instruction.TXT") {
		t.Fatalf("marker not detected case-insensitively: %+v", project)
	}
	if len(project.Files) != 1 || filepath.Base(project.Files[0]) != "setup.deb" {
		t.Fatalf("marker must not be yielded as a file: %v", project.Files)
	}
	if batches[2].Dir != filepath.Join(root, "project", "nested") || batches[2].Depth != 2 {
		t.Fatalf("unexpected nested batch %+v", batches[2])
	}
	if stats.Files != 3 || stats.Dirs != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestWalkRespectsMaxDepth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Scan.MaxDepth = 1
	root := testsupport.Root(cfg)
	testsupport.WriteText(t, filepath.Join(root, "one", "two", "deep.txt"), "deep")
	testsupport.WriteText(t, filepath.Join(root, "one", "shallow.txt"), "shallow")

	batches, _, err := scanner.New(cfg, logging.NewNop()).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, b := range batches {
		if b.Depth > 1 {
			t.Fatalf("walked beyond max depth: %+v", b)
		}
	}
	if len(batches) != 2 {
		t.Fatalf("expected root and one/, got %d", len(batches))
	}
}

func TestWalkSkipsOwnedDirectories(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := testsupport.Root(cfg)
	cfg.Paths.LibraryDir = filepath.Join(root, "library")
	testsupport.WriteText(t, filepath.Join(cfg.Paths.LibraryDir, "configs", "x.json"), "{}")
	testsupport.WriteText(t, filepath.Join(root, "incoming.json"), "{}")

	batches, stats, err := scanner.New(cfg, logging.NewNop()).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(batches) != 1 || len(batches[0].Files) != 1 {
		t.Fatalf("library must not be walked: %+v", batches)
	}
	if stats.Excluded != 1 {
		t.Fatalf("expected one excluded entry, got %d", stats.Excluded)
	}
}

func TestWalkSymlinkCycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Scan.FollowSymlinks = true
	root := testsupport.Root(cfg)
	testsupport.WriteText(t, filepath.Join(root, "sub", "file.txt"), "x")
	if err := os.Symlink(root, filepath.Join(root, "sub", "loop")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	batches, stats, err := scanner.New(cfg, logging.NewNop()).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected root and sub only, got %d", len(batches))
	}
	if stats.Cycles != 1 {
		t.Fatalf("expected one cycle, got %+v", stats)
	}
}

func TestWalkIgnoresSymlinksByDefault(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := testsupport.Root(cfg)
	outside := filepath.Join(testsupport.BaseDir(cfg), "outside")
	testsupport.WriteText(t, filepath.Join(outside, "secret.txt"), "x")
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "file-link.txt")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	batches, stats, err := scanner.New(cfg, logging.NewNop()).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(batches) != 1 || len(batches[0].Files) != 0 {
		t.Fatalf("symlinks must be skipped: %+v", batches)
	}
	if stats.Skipped != 2 {
		t.Fatalf("expected 2 skipped entries, got %+v", stats)
	}
}

func TestWalkIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := testsupport.Root(cfg)
	testsupport.WriteText(t, filepath.Join(root, "b.txt"), "b")
	testsupport.WriteText(t, filepath.Join(root, "a.txt"), "a")
	s := scanner.New(cfg, logging.NewNop())

	first, _, err := s.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := s.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) || first[0].Files[0] != second[0].Files[0] || filepath.Base(first[0].Files[0]) != "a.txt" {
		t.Fatalf("walks differ: %+v vs %+v", first, second)
	}
}

func TestWatcherTriggersOnCreate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Scan.DebounceMillis = 20
	w, err := scanner.NewWatcher(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(string) { fired.Add(1) })
	}()

	for i := 0; i < 3; i++ {
		testsupport.WriteText(t, filepath.Join(testsupport.Root(cfg), "new.txt"), "burst")
	}
	deadline := time.Now().Add(3 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("expected watcher to trigger a scan")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
