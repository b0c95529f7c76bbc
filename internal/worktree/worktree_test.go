package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
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

func TestBranchNameSanitizesSlashesAndWhitespace(t *testing.T) {
	require.Equal(t, "ralph/worker-1-task-fix-the-bug", BranchName(1, "fix/the bug"))
}

func TestCreateAddsWorktreeWithDedicatedBranch(t *testing.T) {
	repo := initGitRepo(t)
	root := t.TempDir()

	path, branch, err := Create(repo, root, 0, "task-1")
	require.NoError(t, err)
	require.Equal(t, "ralph/worker-0-task-task-1", branch)
	require.DirExists(t, path)

	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = path
	out, err := cmd.Output()
	require.NoError(t, err)
	require.Contains(t, string(out), branch)
}

func TestCreateRemovesPreExistingPathFirst(t *testing.T) {
	repo := initGitRepo(t)
	root := t.TempDir()

	path1, _, err := Create(repo, root, 0, "task-1")
	require.NoError(t, err)
	require.NoError(t, Remove(repo, path1))

	require.NoError(t, os.MkdirAll(path1, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path1, "stray.txt"), []byte("x"), 0o644))

	path2, _, err := Create(repo, root, 0, "task-1")
	require.NoError(t, err)
	require.Equal(t, path1, path2)
	require.NoFileExists(t, filepath.Join(path2, "stray.txt"))
}

func TestRemoveDeletesWorktree(t *testing.T) {
	repo := initGitRepo(t)
	root := t.TempDir()

	path, _, err := Create(repo, root, 1, "task-2")
	require.NoError(t, err)
	require.NoError(t, Remove(repo, path))
	require.NoDirExists(t, path)
}

func TestCleanupStaleWorktreesRemovesUnregisteredDirs(t *testing.T) {
	repo := initGitRepo(t)
	root := t.TempDir()

	_, _, err := Create(repo, root, 0, "keep")
	require.NoError(t, err)

	stalePath := filepath.Join(root, "worker-9-stale")
	require.NoError(t, os.MkdirAll(stalePath, 0o755))

	removed, err := CleanupStaleWorktrees(repo, root)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.NoDirExists(t, stalePath)
}

func TestMergeBringsWorktreeCommitIntoMainBranch(t *testing.T) {
	repo := initGitRepo(t)
	root := t.TempDir()

	path, branch, err := Create(repo, root, 0, "task-3")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(path, "new.txt"), []byte("hi\n"), 0o644))
	runIn := func(dir string, args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	runIn(path, "add", ".")
	runIn(path, "commit", "-m", "add new.txt")

	require.NoError(t, Merge(repo, path, branch, 30*time.Second))
	require.FileExists(t, filepath.Join(repo, "new.txt"))
}

func TestMergeReturnsConflictDetailsOnFailure(t *testing.T) {
	repo := initGitRepo(t)
	root := t.TempDir()

	path, branch, err := Create(repo, root, 0, "task-4")
	require.NoError(t, err)

	runIn := func(dir string, args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	require.NoError(t, os.WriteFile(filepath.Join(path, "README.md"), []byte("worktree version\n"), 0o644))
	runIn(path, "add", ".")
	runIn(path, "commit", "-m", "conflicting change")

	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("main version\n"), 0o644))
	runIn(repo, "add", ".")
	runIn(repo, "commit", "-m", "main change")

	err = Merge(repo, path, branch, 30*time.Second)
	require.Error(t, err)
	require.Contains(t, err.Error(), "README.md")
}
