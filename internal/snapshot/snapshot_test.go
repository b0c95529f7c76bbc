package snapshot

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jscraik/ralph-gold/internal/state"
)

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) string {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
		return string(out)
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "seed")
	return dir
}

func TestCreateRejectsInvalidName(t *testing.T) {
	repo := initGitRepo(t)
	ralphDir := filepath.Join(repo, ".ralph")
	store := state.NewStore(ralphDir)

	_, err := Create(context.Background(), repo, ralphDir, "bad name!", "", store)
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestCreateAndRollbackRoundTrips(t *testing.T) {
	repo := initGitRepo(t)
	ralphDir := filepath.Join(repo, ".ralph")
	store := state.NewStore(ralphDir)

	// Seed some existing state so Rollback has something non-trivial to
	// restore.
	_, err := store.Mutate(func(s *state.PersistentState) error {
		s.NoProgressStreak = 7
		return nil
	})
	require.NoError(t, err)

	yPath := filepath.Join(repo, "y.txt")
	require.NoError(t, os.WriteFile(yPath, []byte("pre-snapshot\n"), 0o644))
	addCmd := exec.Command("git", "add", "y.txt")
	addCmd.Dir = repo
	require.NoError(t, addCmd.Run())
	commitCmd := exec.Command("git", "commit", "-m", "add y.txt")
	commitCmd.Dir = repo
	require.NoError(t, commitCmd.Run())

	// Create needs something uncommitted to actually push a stash entry.
	require.NoError(t, os.WriteFile(yPath, []byte("staged-for-snapshot\n"), 0o644))

	meta, err := Create(context.Background(), repo, ralphDir, "S", "before change", store)
	require.NoError(t, err)
	require.Equal(t, "S", meta.Name)
	require.NotEmpty(t, meta.GitStashRef)
	require.FileExists(t, meta.StateBackupPath)

	st, err := store.Load()
	require.NoError(t, err)
	require.Len(t, List(st), 1)

	// Mutate state after the snapshot; the working tree is untouched so
	// stash apply has nothing to conflict with.
	_, err = store.Mutate(func(s *state.PersistentState) error {
		s.NoProgressStreak = 99
		return nil
	})
	require.NoError(t, err)

	found, err := Find(st, "S")
	require.NoError(t, err)

	require.NoError(t, Rollback(context.Background(), repo, store, found, true))

	restored, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 7, restored.NoProgressStreak)

	restoredContent, err := os.ReadFile(yPath)
	require.NoError(t, err)
	require.Equal(t, "staged-for-snapshot\n", string(restoredContent))
}

func TestRollbackRefusesDirtyWorkingTreeWithoutForce(t *testing.T) {
	repo := initGitRepo(t)
	ralphDir := filepath.Join(repo, ".ralph")
	store := state.NewStore(ralphDir)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("seed\nedited\n"), 0o644))
	meta, err := Create(context.Background(), repo, ralphDir, "S", "", store)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "dirty.txt"), []byte("uncommitted\n"), 0o644))

	err = Rollback(context.Background(), repo, store, meta, false)
	require.ErrorIs(t, err, ErrDirtyWorkingTree)
}

func TestCleanupKeepsMostRecentN(t *testing.T) {
	repo := initGitRepo(t)
	ralphDir := filepath.Join(repo, ".ralph")
	store := state.NewStore(ralphDir)

	names := []string{"S1", "S2", "S3"}
	for i, n := range names {
		path := filepath.Join(repo, n+".txt")
		require.NoError(t, os.WriteFile(path, []byte(n), 0o644))
		addCmd := exec.Command("git", "add", n+".txt")
		addCmd.Dir = repo
		require.NoError(t, addCmd.Run())
		commitCmd := exec.Command("git", "commit", "-m", n)
		commitCmd.Dir = repo
		require.NoError(t, commitCmd.Run())

		require.NoError(t, os.WriteFile(path, []byte(n+"-mod"), 0o644))
		_, err := Create(context.Background(), repo, ralphDir, n, "", store)
		require.NoError(t, err)
		_ = i
	}

	removed, err := Cleanup(context.Background(), repo, store, 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"S1", "S2"}, removed)

	st, err := store.Load()
	require.NoError(t, err)
	require.Len(t, List(st), 1)
	require.Equal(t, "S3", st.Snapshots[0].Name)
}

func TestNamePatternRejectsSlashes(t *testing.T) {
	require.False(t, NamePattern.MatchString("bad/name"))
	require.True(t, NamePattern.MatchString("good-name_1"))
}
