package instruction_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hopper/internal/instruction"
	"hopper/internal/logging"
	"hopper/internal/services"
	"hopper/internal/testsupport"
)

func TestApplyStoresPlanOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	interp := instruction.New(cfg, store, logging.NewNop())
	ctx := context.Background()

	dir := filepath.Join(testsupport.Root(cfg), "drop")
	marker := filepath.Join(dir, "Instruction.TXT")
	testsupport.WriteText(t, marker, "install\nsync: pages\ncommand: modify file notes.txt add first\n")
	testsupport.WriteText(t, filepath.Join(dir, "setup.exe"), "MZ")
	testsupport.WriteText(t, filepath.Join(dir, "nested", "readme.md"), "hi")

	plan, fresh, err := interp.Apply(ctx, dir, marker)
	require.NoError(t, err)
	require.True(t, fresh)
	require.True(t, plan.Has(instruction.OpInstallation))
	require.Equal(t, []string{"pages"}, plan.SyncTargets)
	require.ElementsMatch(t, []string{
		filepath.Join(dir, "setup.exe"),
		filepath.Join(dir, "nested", "readme.md"),
	}, plan.FileList)

	again, fresh, err := interp.Apply(ctx, dir, marker)
	require.NoError(t, err)
	require.False(t, fresh)
	require.Equal(t, plan.MarkerHash, again.MarkerHash)

	notes := filepath.Join(instruction.WorkspaceDir(cfg.Paths.LibraryDir, dir), "notes.txt")
	data, err := os.ReadFile(notes)
	require.NoError(t, err)
	require.Equal(t, "first\n", string(data), "commands run only on first application")
}

func TestApplyRecordsBlockedCommands(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	interp := instruction.New(cfg, store, logging.NewNop())
	ctx := context.Background()

	dir := filepath.Join(testsupport.Root(cfg), "evil")
	marker := filepath.Join(dir, "instruction.txt")
	testsupport.WriteText(t, marker, "command: rm -rf /\ncommand: create folder ../../escape\n")

	_, _, err := interp.Apply(ctx, dir, marker)
	require.NoError(t, err)

	entries, err := store.ListErrors(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, string(services.KindUnsafeActionBlocked), e.Kind)
		require.Equal(t, marker, e.Path)
	}
	_, err = os.Stat(filepath.Join(cfg.Paths.LibraryDir, "escape"))
	require.True(t, os.IsNotExist(err))
}

func TestRunCommandsConfinedToWorkspace(t *testing.T) {
	workspace := t.TempDir()
	results := instruction.RunCommands(context.Background(), []string{
		"echo hello there",
		"create folder assets/icons",
		"modify file /etc/passwd add root",
		"launch rockets",
	}, workspace, logging.NewNop())

	require.Len(t, results, 4)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	require.DirExists(t, filepath.Join(workspace, "assets", "icons"))
	require.True(t, results[2].Blocked)
	require.True(t, results[3].Blocked)
}
