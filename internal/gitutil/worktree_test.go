package gitutil_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shepherdjerred/clauderon/internal/gitutil"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	run("add", ".")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestWorktreeBackendCreateDeleteRoundTrip(t *testing.T) {
	repo := initRepo(t)
	wt := gitutil.NewWorktreeBackend()

	worktreePath := filepath.Join(t.TempDir(), "session-1")
	warn, err := wt.CreateWorktree(repo, worktreePath, "session/one", "HEAD")
	require.NoError(t, err)
	require.Nil(t, warn)
	require.True(t, wt.WorktreeExists(worktreePath))

	branch, err := wt.GetBranch(worktreePath)
	require.NoError(t, err)
	require.Equal(t, "session/one", branch)

	require.NoError(t, wt.DeleteWorktree(repo, worktreePath))
	require.False(t, wt.WorktreeExists(worktreePath))
}

func TestWorktreeBackendDeleteFallsBackToFilesystemRemoval(t *testing.T) {
	repo := initRepo(t)
	wt := gitutil.NewWorktreeBackend()

	worktreePath := filepath.Join(t.TempDir(), "session-2")
	_, err := wt.CreateWorktree(repo, worktreePath, "session/two", "HEAD")
	require.NoError(t, err)

	// Simulate git forgetting about the worktree entirely (e.g. the
	// repo's worktree metadata was corrupted) — removal must still
	// succeed via the filesystem fallback.
	require.NoError(t, os.RemoveAll(filepath.Join(repo, ".git", "worktrees")))

	require.NoError(t, wt.DeleteWorktree(repo, worktreePath))
	_, statErr := os.Stat(worktreePath)
	require.True(t, os.IsNotExist(statErr))
}

func TestWorktreeExistsFalseForNonWorktree(t *testing.T) {
	wt := gitutil.NewWorktreeBackend()
	require.False(t, wt.WorktreeExists(t.TempDir()))
}

func TestCountChangedFilesReflectsUntrackedAndModified(t *testing.T) {
	repo := initRepo(t)

	n, err := gitutil.CountChangedFiles(repo)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("changed"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "new.txt"), []byte("new"), 0o644))

	n, err = gitutil.CountChangedFiles(repo)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
