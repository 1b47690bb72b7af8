package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-ai/hephaestus/internal/config"
	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/store"
)

func gitCmd(t *testing.T, dir string, env []string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	cmd.Env = append(cmd.Env, env...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

// initTrunk creates a repository with one commit on main.
func initTrunk(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitCmd(t, dir, nil, "init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	gitCmd(t, dir, nil, "add", "-A")
	gitCmd(t, dir, nil, "commit", "-m", "initial")
	return dir
}

func newTestEngine(t *testing.T, trunkDir string) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	eng, err := NewEngine(config.WorktreeConfig{
		BasePath:         filepath.Join(t.TempDir(), "worktrees"),
		BranchPrefix:     "agent",
		MainRepoPath:     trunkDir,
		BaseBranch:       "main",
		MergeLockTimeout: "5s",
	}, st, logging.NewNop())
	require.NoError(t, err)
	return eng, st
}

// commitAt writes a file and commits it with a fixed commit time.
func commitAt(t *testing.T, dir, file, content, message string, at time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
	gitCmd(t, dir, nil, "add", "-A")
	stamp := at.Format(time.RFC3339)
	gitCmd(t, dir, []string{"GIT_AUTHOR_DATE=" + stamp, "GIT_COMMITTER_DATE=" + stamp},
		"commit", "--no-verify", "-m", message)
}

func TestCreateAgentWorktree(t *testing.T) {
	trunk := initTrunk(t)
	eng, st := newTestEngine(t, trunk)
	ctx := context.Background()

	path, err := eng.CreateAgentWorktree(ctx, "agent-a", "", "")
	require.NoError(t, err)
	assert.DirExists(t, path)
	assert.FileExists(t, filepath.Join(path, "README.md"))

	row, err := st.GetWorktree(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, "agent/agent-a", row.BranchName)
	assert.Equal(t, core.MergeStatusActive, row.MergeStatus)
	assert.NotEmpty(t, row.BaseCommitSHA)
}

func TestCreateAgentWorktreeInheritsParentCheckpoint(t *testing.T) {
	trunk := initTrunk(t)
	eng, st := newTestEngine(t, trunk)
	ctx := context.Background()

	parentPath, err := eng.CreateAgentWorktree(ctx, "parent-a", "", "")
	require.NoError(t, err)

	// Dirty, uncommitted work in the parent worktree.
	require.NoError(t, os.WriteFile(filepath.Join(parentPath, "draft.txt"), []byte("wip\n"), 0o644))

	childPath, err := eng.CreateAgentWorktree(ctx, "child-a", "parent-a", "")
	require.NoError(t, err)

	// The checkpoint commit carries the parent's dirt into the child.
	assert.FileExists(t, filepath.Join(childPath, "draft.txt"))

	child, err := st.GetWorktree(ctx, "child-a")
	require.NoError(t, err)
	assert.Equal(t, "parent-a", child.ParentAgentID)
	assert.NotEmpty(t, child.ParentCommitSHA)
	assert.Equal(t, child.ParentCommitSHA, child.BaseCommitSHA)
}

func TestCommitForValidationCleanWorktreeIsNoOp(t *testing.T) {
	trunk := initTrunk(t)
	eng, _ := newTestEngine(t, trunk)
	ctx := context.Background()

	path, err := eng.CreateAgentWorktree(ctx, "agent-a", "", "")
	require.NoError(t, err)

	head := gitCmd(t, path, nil, "rev-parse", "HEAD")
	res, err := eng.CommitForValidation(ctx, "agent-a", 1, "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.FilesChanged)
	assert.Equal(t, head[:40], res.CommitSHA)
}

func TestCommitForValidationCommitsDirtyWork(t *testing.T) {
	trunk := initTrunk(t)
	eng, _ := newTestEngine(t, trunk)
	ctx := context.Background()

	path, err := eng.CreateAgentWorktree(ctx, "agent-a", "", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "work.go"), []byte("package work\n"), 0o644))

	res, err := eng.CommitForValidation(ctx, "agent-a", 2, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesChanged)
	assert.NotEmpty(t, res.CommitSHA)
}

func TestMergeMainIntoBranchUpToDate(t *testing.T) {
	trunk := initTrunk(t)
	eng, _ := newTestEngine(t, trunk)
	ctx := context.Background()

	path, err := eng.CreateAgentWorktree(ctx, "agent-a", "", "")
	require.NoError(t, err)

	res, err := eng.MergeMainIntoBranch(ctx, "agent-a", path, "agent/agent-a")
	require.NoError(t, err)
	assert.Equal(t, core.MergeUpToDate, res.Status)
	assert.Equal(t, 0, res.TotalConflicts)
}

func TestMergeToParentHappyPath(t *testing.T) {
	trunk := initTrunk(t)
	eng, st := newTestEngine(t, trunk)
	ctx := context.Background()

	path, err := eng.CreateAgentWorktree(ctx, "agent-a", "", "")
	require.NoError(t, err)
	commitAt(t, path, "feature.go", "package feature\n", "add feature", time.Now())

	res, err := eng.MergeToParent(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, core.MergeSuccess, res.Status)
	assert.Equal(t, "main", res.MergedTo)
	assert.FileExists(t, filepath.Join(trunk, "feature.go"))

	row, err := st.GetWorktree(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, core.MergeStatusMerged, row.MergeStatus)
	assert.Equal(t, res.CommitSHA, row.MergeCommitSHA)
}

func TestMergeToParentNewestWinsConflict(t *testing.T) {
	trunk := initTrunk(t)
	eng, st := newTestEngine(t, trunk)
	ctx := context.Background()

	// A and B fork from the same commit and edit the same file. A's edit is
	// newer and lands on trunk first.
	pathA, err := eng.CreateAgentWorktree(ctx, "agent-a", "", "")
	require.NoError(t, err)
	pathB, err := eng.CreateAgentWorktree(ctx, "agent-b", "", "")
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	commitAt(t, pathA, "shared.txt", "from A\n", "a edit", now.Add(time.Hour))
	commitAt(t, pathB, "shared.txt", "from B\n", "b edit", now.Add(-time.Hour))

	_, err = eng.MergeToParent(ctx, "agent-a")
	require.NoError(t, err)

	res, err := eng.MergeToParent(ctx, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, core.MergeConflictResolved, res.Status)
	require.Len(t, res.ConflictsResolved, 1)
	assert.Equal(t, core.ResolutionParent, res.ConflictsResolved[0].Choice)

	// Trunk keeps A's newer content.
	data, err := os.ReadFile(filepath.Join(trunk, "shared.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from A\n", string(data))

	rows, err := st.ListConflictResolutions(ctx, "agent-b")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "shared.txt", rows[0].FilePath)
}

func TestMergeToParentChildWinsWhenNewer(t *testing.T) {
	trunk := initTrunk(t)
	eng, _ := newTestEngine(t, trunk)
	ctx := context.Background()

	pathA, err := eng.CreateAgentWorktree(ctx, "agent-a", "", "")
	require.NoError(t, err)
	pathB, err := eng.CreateAgentWorktree(ctx, "agent-b", "", "")
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	commitAt(t, pathA, "shared.txt", "from A\n", "a edit", now.Add(-time.Hour))
	commitAt(t, pathB, "shared.txt", "from B\n", "b edit", now.Add(time.Hour))

	_, err = eng.MergeToParent(ctx, "agent-a")
	require.NoError(t, err)

	res, err := eng.MergeToParent(ctx, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, core.MergeConflictResolved, res.Status)
	require.Len(t, res.ConflictsResolved, 1)
	assert.Equal(t, core.ResolutionChild, res.ConflictsResolved[0].Choice)

	data, err := os.ReadFile(filepath.Join(trunk, "shared.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from B\n", string(data))
}

func TestMergeToParentCompletesStuckMerge(t *testing.T) {
	trunk := initTrunk(t)
	eng, st := newTestEngine(t, trunk)
	ctx := context.Background()

	// Leave a half-finished conflicting merge on trunk.
	pathA, err := eng.CreateAgentWorktree(ctx, "agent-a", "", "")
	require.NoError(t, err)
	now := time.Now().Truncate(time.Second)
	commitAt(t, pathA, "shared.txt", "from A\n", "a edit", now.Add(time.Hour))
	commitAt(t, trunk, "shared.txt", "from trunk\n", "trunk edit", now.Add(-time.Hour))
	cmd := exec.Command("git", "merge", "--no-ff", "agent/agent-a")
	cmd.Dir = trunk
	_ = cmd.Run() // conflicts, leaving MERGE_HEAD

	// A different agent merges; the stuck merge completes first.
	pathC, err := eng.CreateAgentWorktree(ctx, "agent-c", "", "")
	require.NoError(t, err)
	commitAt(t, pathC, "other.txt", "c work\n", "c edit", now)

	res, err := eng.MergeToParent(ctx, "agent-c")
	require.NoError(t, err)
	assert.NotEqual(t, core.MergeConflictResolved, res.Status)

	recovered, err := st.ListConflictResolutions(ctx, core.StuckMergeAgentID)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, "shared.txt", recovered[0].FilePath)
	assert.Equal(t, core.ResolutionChild, recovered[0].Choice)

	// The recovered merge kept the newer (agent-a) side.
	data, err := os.ReadFile(filepath.Join(trunk, "shared.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from A\n", string(data))
}

func TestCleanupWorktree(t *testing.T) {
	trunk := initTrunk(t)
	eng, st := newTestEngine(t, trunk)
	ctx := context.Background()

	path, err := eng.CreateAgentWorktree(ctx, "agent-a", "", "")
	require.NoError(t, err)

	require.NoError(t, eng.CleanupWorktree(ctx, "agent-a"))
	assert.NoDirExists(t, path)

	row, err := st.GetWorktree(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, core.MergeStatusCleaned, row.MergeStatus)

	// The branch survives cleanup.
	out := gitCmd(t, trunk, nil, "branch", "--list", "agent/agent-a")
	assert.Contains(t, out, "agent/agent-a")
}

func TestGetWorkspaceChanges(t *testing.T) {
	trunk := initTrunk(t)
	eng, _ := newTestEngine(t, trunk)
	ctx := context.Background()

	path, err := eng.CreateAgentWorktree(ctx, "agent-a", "", "")
	require.NoError(t, err)
	commitAt(t, path, "added.txt", "new\n", "add file", time.Now())

	changes, err := eng.GetWorkspaceChanges(ctx, "agent-a", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"added.txt"}, changes.Added)
	assert.Empty(t, changes.Deleted)
	assert.Equal(t, 1, changes.Insertions)
	assert.Contains(t, changes.Diff, "added.txt")
}
