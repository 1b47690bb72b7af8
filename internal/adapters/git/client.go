// Package git wraps the git CLI for the worktree isolation engine. All
// repository access goes through subprocess calls so multiple orchestrator
// processes never share cached object state.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

// Client wraps git CLI operations for one directory (trunk repo or a
// worktree).
type Client struct {
	dir     string
	timeout time.Duration
}

// NewClient creates a client bound to a git repository.
func NewClient(repoPath string) (*Client, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	c := &Client{dir: abs, timeout: 30 * time.Second}
	if _, err := c.run(context.Background(), "rev-parse", "--git-dir"); err != nil {
		return nil, core.ErrValidation("NOT_GIT_REPO", fmt.Sprintf("%s is not a git repository", abs))
	}
	return c, nil
}

// At returns a client running commands in another directory, typically an
// agent worktree of the same repository.
func (c *Client) At(dir string) *Client {
	return &Client{dir: dir, timeout: c.timeout}
}

// Dir returns the directory commands run in.
func (c *Client) Dir() string {
	return c.dir
}

// WithTimeout sets the per-command timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", core.ErrTimeout("git command timed out")
		}
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RevParse resolves a ref to a commit SHA.
func (c *Client) RevParse(ctx context.Context, ref string) (string, error) {
	return c.run(ctx, "rev-parse", ref)
}

// HeadSHA returns the current commit hash.
func (c *Client) HeadSHA(ctx context.Context) (string, error) {
	return c.RevParse(ctx, "HEAD")
}

// CurrentBranch returns the checked-out branch name.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists reports whether a local branch exists.
func (c *Client) BranchExists(ctx context.Context, name string) (bool, error) {
	if _, err := c.run(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+name); err != nil {
		return false, nil
	}
	return true, nil
}

// CreateBranchAt creates a branch pointing at a commit without checking it
// out.
func (c *Client) CreateBranchAt(ctx context.Context, name, sha string) error {
	_, err := c.run(ctx, "branch", name, sha)
	return err
}

// DeleteBranch force-deletes a local branch.
func (c *Client) DeleteBranch(ctx context.Context, name string) error {
	_, err := c.run(ctx, "branch", "-D", name)
	return err
}

// Checkout switches to an existing branch.
func (c *Client) Checkout(ctx context.Context, branch string) error {
	_, err := c.run(ctx, "checkout", branch)
	return err
}

// WorktreeAdd materializes a branch in a new worktree directory.
func (c *Client) WorktreeAdd(ctx context.Context, path, branch string) error {
	_, err := c.run(ctx, "worktree", "add", path, branch)
	return err
}

// WorktreeRemove detaches a worktree directory from the repository.
func (c *Client) WorktreeRemove(ctx context.Context, path string) error {
	_, err := c.run(ctx, "worktree", "remove", "--force", path)
	return err
}

// IsDirty reports whether the working tree has uncommitted or untracked
// changes.
func (c *Client) IsDirty(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// AddAll stages every change including untracked files.
func (c *Client) AddAll(ctx context.Context) error {
	_, err := c.run(ctx, "add", "-A")
	return err
}

// Add stages one path.
func (c *Client) Add(ctx context.Context, path string) error {
	_, err := c.run(ctx, "add", "--", path)
	return err
}

// RemoveCached drops a path from the index without touching the working
// tree. Used to rebuild conflicted index entries.
func (c *Client) RemoveCached(ctx context.Context, path string) error {
	_, err := c.run(ctx, "rm", "--cached", "--", path)
	return err
}

// CommitNoVerify commits staged changes bypassing hooks and returns the new
// HEAD.
func (c *Client) CommitNoVerify(ctx context.Context, message string) (string, error) {
	if _, err := c.run(ctx, "commit", "--no-verify", "-m", message); err != nil {
		return "", err
	}
	return c.HeadSHA(ctx)
}

// StagedFiles lists paths staged for the next commit.
func (c *Client) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// MergeNoFF attempts a no-fast-forward merge. A conflicted merge leaves
// MERGE_HEAD in place for the resolver; other failures surface as errors.
func (c *Client) MergeNoFF(ctx context.Context, ref string) (upToDate, conflicted bool, err error) {
	out, runErr := c.run(ctx, "merge", "--no-ff", "--no-edit", ref)
	if runErr == nil {
		return strings.Contains(out, "Already up to date"), false, nil
	}
	unmerged, uerr := c.UnmergedFiles(ctx)
	if uerr == nil && len(unmerged) > 0 {
		return false, true, nil
	}
	return false, false, runErr
}

// UnmergedFiles lists paths left conflicted by a merge.
func (c *Client) UnmergedFiles(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// HasMergeHead reports whether a merge is half-finished in this repository.
func (c *Client) HasMergeHead(ctx context.Context) bool {
	_, err := c.run(ctx, "rev-parse", "--verify", "--quiet", "MERGE_HEAD")
	return err == nil
}

// LastCommitTime returns the commit time of the last commit on ref touching
// path. A path with no history on that ref returns a zero time and no error.
func (c *Client) LastCommitTime(ctx context.Context, ref, path string) (time.Time, error) {
	out, err := c.run(ctx, "log", "-1", "--format=%ct", ref, "--", path)
	if err != nil {
		return time.Time{}, err
	}
	if out == "" {
		return time.Time{}, nil
	}
	secs, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing commit time %q: %w", out, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// ShowFile returns the content of path at ref.
func (c *Client) ShowFile(ctx context.Context, ref, path string) (string, error) {
	// Content may legitimately end in whitespace, so bypass run's trimming.
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "show", ref+":"+path)
	cmd.Dir = c.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git show %s:%s: %s: %w", ref, path, strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

// Stash saves dirty state with a label.
func (c *Client) Stash(ctx context.Context, message string) error {
	_, err := c.run(ctx, "stash", "push", "--include-untracked", "-m", message)
	return err
}

// StashPop restores the most recent stash.
func (c *Client) StashPop(ctx context.Context) error {
	_, err := c.run(ctx, "stash", "pop")
	return err
}

// DiffNameStatus returns added, modified and deleted paths between two
// commits.
func (c *Client) DiffNameStatus(ctx context.Context, base, head string) (added, modified, deleted []string, err error) {
	out, err := c.run(ctx, "diff", "--name-status", base, head)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, line := range splitLines(out) {
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		switch parts[0][0] {
		case 'A':
			added = append(added, parts[1])
		case 'D':
			deleted = append(deleted, parts[1])
		default:
			modified = append(modified, parts[1])
		}
	}
	return added, modified, deleted, nil
}

// DiffStat returns aggregate insertion and deletion counts between two
// commits.
func (c *Client) DiffStat(ctx context.Context, base, head string) (insertions, deletions int, err error) {
	out, err := c.run(ctx, "diff", "--numstat", base, head)
	if err != nil {
		return 0, 0, err
	}
	for _, line := range splitLines(out) {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		// Binary files report "-" counts.
		if ins, err := strconv.Atoi(fields[0]); err == nil {
			insertions += ins
		}
		if del, err := strconv.Atoi(fields[1]); err == nil {
			deletions += del
		}
	}
	return insertions, deletions, nil
}

// UnifiedDiff returns the full diff between two commits.
func (c *Client) UnifiedDiff(ctx context.Context, base, head string) (string, error) {
	return c.run(ctx, "diff", base, head)
}

func splitLines(out string) []string {
	if out == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
