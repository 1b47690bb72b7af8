package git

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/hephaestus-ai/hephaestus/internal/config"
	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/store"
)

// mergeLockFile under the worktree base serializes every merge into trunk
// across all orchestrator processes.
const mergeLockFile = "merge.lock"

// Engine implements the per-agent git isolation policy: one branch and one
// worktree per agent, newest-wins conflict resolution, and a single
// process-wide merge lock guarding trunk.
type Engine struct {
	trunk       *Client
	store       *store.Store
	cfg         config.WorktreeConfig
	lockTimeout time.Duration
	log         *logging.Logger
}

// NewEngine builds the engine around the trunk repository at
// cfg.MainRepoPath.
func NewEngine(cfg config.WorktreeConfig, st *store.Store, log *logging.Logger) (*Engine, error) {
	trunk, err := NewClient(cfg.MainRepoPath)
	if err != nil {
		return nil, err
	}
	lockTimeout := 300 * time.Second
	if cfg.MergeLockTimeout != "" {
		if d, err := time.ParseDuration(cfg.MergeLockTimeout); err == nil {
			lockTimeout = d
		}
	}
	if err := os.MkdirAll(cfg.BasePath, 0o750); err != nil {
		return nil, fmt.Errorf("creating worktree base: %w", err)
	}
	return &Engine{
		trunk:       trunk,
		store:       st,
		cfg:         cfg,
		lockTimeout: lockTimeout,
		log:         log,
	}, nil
}

func (e *Engine) branchName(agentID string) string {
	prefix := e.cfg.BranchPrefix
	if prefix == "" {
		prefix = "agent"
	}
	return prefix + "/" + agentID
}

func (e *Engine) worktreePath(agentID string) string {
	return filepath.Join(e.cfg.BasePath, agentID)
}

// CreateAgentWorktree creates the agent's branch and worktree and returns
// the working directory. Base commit priority: explicit SHA, then the
// parent agent's checkpointed HEAD, then trunk HEAD. Partial artifacts are
// cleaned up on failure, except the branch once created: it stays so no
// committed work can be orphaned.
func (e *Engine) CreateAgentWorktree(ctx context.Context, agentID, parentAgentID, baseCommitSHA string) (string, error) {
	log := e.log.WithAgent(agentID)

	var parentSHA string
	baseSHA := baseCommitSHA
	if baseSHA == "" && parentAgentID != "" {
		sha, err := e.prepareParentCommit(ctx, parentAgentID)
		if err != nil {
			log.Warn("parent checkpoint failed, falling back to trunk head", "parent", parentAgentID, "error", err)
		} else {
			baseSHA = sha
			parentSHA = sha
		}
	}
	if baseSHA == "" {
		sha, err := e.trunk.HeadSHA(ctx)
		if err != nil {
			return "", core.ErrExecution(core.CodeWorktreeFailed, "resolving trunk head").WithCause(err)
		}
		baseSHA = sha
	}

	branch := e.branchName(agentID)
	if err := e.trunk.CreateBranchAt(ctx, branch, baseSHA); err != nil {
		return "", core.ErrExecution(core.CodeWorktreeFailed, "creating agent branch").WithCause(err)
	}

	path := e.worktreePath(agentID)
	if err := e.trunk.WorktreeAdd(ctx, path, branch); err != nil {
		// The branch stays; committed work must never be orphaned.
		_ = os.RemoveAll(path)
		return "", core.ErrExecution(core.CodeWorktreeFailed, "adding worktree").WithCause(err)
	}

	row := &core.AgentWorktree{
		AgentID:         agentID,
		WorktreePath:    path,
		BranchName:      branch,
		ParentAgentID:   parentAgentID,
		ParentCommitSHA: parentSHA,
		BaseCommitSHA:   baseSHA,
		MergeStatus:     core.MergeStatusActive,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.store.CreateWorktree(ctx, row); err != nil {
		_ = e.trunk.WorktreeRemove(ctx, path)
		_ = os.RemoveAll(path)
		return "", core.ErrExecution(core.CodeWorktreeFailed, "persisting worktree").WithCause(err)
	}

	log.Info("worktree created", "branch", branch, "base_sha", baseSHA)
	return path, nil
}

// prepareParentCommit checkpoints any dirty or untracked state on the
// parent's branch and returns the resulting HEAD.
func (e *Engine) prepareParentCommit(ctx context.Context, parentAgentID string) (string, error) {
	wt, err := e.store.GetWorktree(ctx, parentAgentID)
	if err != nil {
		return "", err
	}
	parent := e.trunk.At(wt.WorktreePath)
	dirty, err := parent.IsDirty(ctx)
	if err != nil {
		return "", err
	}
	if !dirty {
		return parent.HeadSHA(ctx)
	}
	if err := parent.AddAll(ctx); err != nil {
		return "", err
	}
	return parent.CommitNoVerify(ctx, "parent_checkpoint")
}

// MergeMainIntoBranch merges trunk into the agent's branch inside its
// worktree, resolving conflicts newest-wins. Run once per agent start.
func (e *Engine) MergeMainIntoBranch(ctx context.Context, agentID, worktreePath, branchName string) (*core.MergeResult, error) {
	log := e.log.WithAgent(agentID)
	start := time.Now()
	wt := e.trunk.At(worktreePath)

	upToDate, conflicted, err := wt.MergeNoFF(ctx, e.cfg.BaseBranch)
	if err != nil {
		return nil, core.ErrExecution(core.CodeMergeFailed, "merging trunk into branch").WithCause(err)
	}
	if upToDate {
		return &core.MergeResult{Status: core.MergeUpToDate}, nil
	}

	result := &core.MergeResult{Status: core.MergeSuccess, MergedTo: branchName}
	if conflicted {
		resolutions, err := e.resolveConflicts(ctx, wt, agentID)
		if err != nil {
			return nil, err
		}
		sha, err := wt.CommitNoVerify(ctx, fmt.Sprintf("merge %s into %s (auto-resolved)", e.cfg.BaseBranch, branchName))
		if err != nil {
			return nil, core.ErrExecution(core.CodeMergeFailed, "committing resolved merge").WithCause(err)
		}
		result.Status = core.MergeConflictResolved
		result.CommitSHA = sha
		result.ConflictsResolved = resolutions
		result.TotalConflicts = len(resolutions)
		result.ResolutionStrategy = e.strategyLabel()
	} else {
		sha, err := wt.HeadSHA(ctx)
		if err != nil {
			return nil, err
		}
		result.CommitSHA = sha
	}
	result.ResolutionTimeMS = time.Since(start).Milliseconds()
	log.Info("trunk merged into branch", "status", result.Status, "conflicts", result.TotalConflicts)
	return result, nil
}

// CommitForValidation stages and commits everything in the agent's worktree
// so a validator can review a fixed SHA. A clean worktree is a no-op
// returning the current HEAD.
func (e *Engine) CommitForValidation(ctx context.Context, agentID string, iteration int, message string) (*core.CommitResult, error) {
	wt, err := e.store.GetWorktree(ctx, agentID)
	if err != nil {
		return nil, err
	}
	c := e.trunk.At(wt.WorktreePath)

	dirty, err := c.IsDirty(ctx)
	if err != nil {
		return nil, err
	}
	if !dirty {
		sha, err := c.HeadSHA(ctx)
		if err != nil {
			return nil, err
		}
		return &core.CommitResult{CommitSHA: sha, FilesChanged: 0}, nil
	}

	if err := c.AddAll(ctx); err != nil {
		return nil, err
	}
	staged, err := c.StagedFiles(ctx)
	if err != nil {
		return nil, err
	}
	if message == "" {
		message = fmt.Sprintf("validation_ready: iteration %d", iteration)
	}
	sha, err := c.CommitNoVerify(ctx, message)
	if err != nil {
		return nil, core.ErrExecution(core.CodeMergeFailed, "committing for validation").WithCause(err)
	}
	return &core.CommitResult{CommitSHA: sha, FilesChanged: len(staged)}, nil
}

// MergeToParent lands the agent's branch on trunk under the exclusive merge
// lock. Any merge a previous process left half-finished on trunk is
// completed first with the same newest-wins rule.
func (e *Engine) MergeToParent(ctx context.Context, agentID string) (*core.MergeResult, error) {
	log := e.log.WithAgent(agentID)
	start := time.Now()

	wtRow, err := e.store.GetWorktree(ctx, agentID)
	if err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(e.cfg.BasePath, mergeLockFile))
	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()
	ok, err := lock.TryLockContext(lockCtx, 500*time.Millisecond)
	if err != nil || !ok {
		return nil, core.ErrTimeout("acquiring merge lock").WithCause(err).
			WithDetail("code", core.CodeLockAcquireFailed)
	}
	defer func() { _ = lock.Unlock() }()
	log.Info("merge lock acquired")

	if err := e.completeStuckMerge(ctx); err != nil {
		return nil, err
	}

	// Commit any remaining work in the agent's worktree.
	wt := e.trunk.At(wtRow.WorktreePath)
	dirty, err := wt.IsDirty(ctx)
	if err != nil {
		return nil, err
	}
	if dirty {
		if err := wt.AddAll(ctx); err != nil {
			return nil, err
		}
		if _, err := wt.CommitNoVerify(ctx, "final"); err != nil {
			return nil, core.ErrExecution(core.CodeMergeFailed, "committing final work").WithCause(err)
		}
	}

	stashed := false
	trunkDirty, err := e.trunk.IsDirty(ctx)
	if err != nil {
		return nil, err
	}
	if trunkDirty {
		if err := e.trunk.Stash(ctx, "pre-merge "+agentID); err != nil {
			return nil, core.ErrExecution(core.CodeMergeFailed, "stashing trunk state").WithCause(err)
		}
		stashed = true
	}
	restoreStash := func() {
		if stashed {
			if err := e.trunk.StashPop(ctx); err != nil {
				log.Error("restoring trunk stash failed", "error", err)
			}
		}
	}

	if err := e.trunk.Checkout(ctx, e.cfg.BaseBranch); err != nil {
		restoreStash()
		return nil, core.ErrExecution(core.CodeMergeFailed, "checking out trunk branch").WithCause(err)
	}

	result := &core.MergeResult{Status: core.MergeSuccess, MergedTo: e.cfg.BaseBranch}
	upToDate, conflicted, err := e.trunk.MergeNoFF(ctx, wtRow.BranchName)
	if err != nil {
		restoreStash()
		return nil, core.ErrExecution(core.CodeMergeFailed, "merging branch into trunk").WithCause(err)
	}
	switch {
	case upToDate:
		result.Status = core.MergeUpToDate
		sha, err := e.trunk.HeadSHA(ctx)
		if err != nil {
			restoreStash()
			return nil, err
		}
		result.CommitSHA = sha
	case conflicted:
		resolutions, err := e.resolveConflicts(ctx, e.trunk, agentID)
		if err != nil {
			restoreStash()
			return nil, err
		}
		sha, err := e.trunk.CommitNoVerify(ctx, fmt.Sprintf("merge %s (auto-resolved)", wtRow.BranchName))
		if err != nil {
			restoreStash()
			return nil, core.ErrExecution(core.CodeMergeFailed, "committing resolved trunk merge").WithCause(err)
		}
		result.Status = core.MergeConflictResolved
		result.CommitSHA = sha
		result.ConflictsResolved = resolutions
		result.TotalConflicts = len(resolutions)
		result.ResolutionStrategy = e.strategyLabel()
	default:
		sha, err := e.trunk.HeadSHA(ctx)
		if err != nil {
			restoreStash()
			return nil, err
		}
		result.CommitSHA = sha
	}

	now := time.Now().UTC()
	wtRow.MergeStatus = core.MergeStatusMerged
	wtRow.MergeCommitSHA = result.CommitSHA
	wtRow.MergedAt = &now
	if err := e.store.UpdateWorktree(ctx, wtRow); err != nil {
		restoreStash()
		return nil, err
	}

	restoreStash()
	result.ResolutionTimeMS = time.Since(start).Milliseconds()
	log.Info("merged to trunk", "status", result.Status, "commit", result.CommitSHA, "conflicts", result.TotalConflicts)
	return result, nil
}

// completeStuckMerge finishes a merge a previous process left half-done on
// trunk. Resolutions are recorded under the recovery marker so audits can
// tell them from normal merges.
func (e *Engine) completeStuckMerge(ctx context.Context) error {
	if !e.trunk.HasMergeHead(ctx) {
		return nil
	}
	e.log.Warn("completing stuck merge on trunk")
	if _, err := e.resolveConflicts(ctx, e.trunk, core.StuckMergeAgentID); err != nil {
		return err
	}
	if _, err := e.trunk.CommitNoVerify(ctx, "complete stuck merge"); err != nil {
		return core.ErrExecution(core.CodeMergeFailed, "committing stuck merge").WithCause(err)
	}
	return nil
}

// resolveConflicts applies the newest-wins rule to every unmerged file in
// c's repository: the side whose last commit touching the file is later
// wins; exact ties favor the incoming (child/MERGE_HEAD) side. Every choice
// is persisted.
func (e *Engine) resolveConflicts(ctx context.Context, c *Client, agentID string) ([]core.MergeConflictResolution, error) {
	files, err := c.UnmergedFiles(ctx)
	if err != nil {
		return nil, err
	}

	var resolutions []core.MergeConflictResolution
	for _, path := range files {
		parentAt, err := c.LastCommitTime(ctx, "HEAD", path)
		if err != nil || parentAt.IsZero() {
			parentAt = time.Now().UTC()
		}
		childAt, err := c.LastCommitTime(ctx, "MERGE_HEAD", path)
		if err != nil || childAt.IsZero() {
			childAt = time.Now().UTC()
		}

		var choice core.ResolutionChoice
		var ref string
		switch {
		case childAt.After(parentAt):
			choice, ref = core.ResolutionChild, "MERGE_HEAD"
		case parentAt.After(childAt):
			choice, ref = core.ResolutionParent, "HEAD"
		default:
			choice, ref = core.ResolutionTieChild, "MERGE_HEAD"
		}

		content, err := c.ShowFile(ctx, ref, path)
		if err != nil {
			return nil, core.ErrExecution(core.CodeMergeFailed,
				fmt.Sprintf("reading %s side of %s", choice, path)).WithCause(err)
		}

		// Rebuild the conflicted index entry with the chosen content.
		_ = c.RemoveCached(ctx, path)
		full := filepath.Join(c.Dir(), path)
		if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o640); err != nil {
			return nil, fmt.Errorf("writing resolved %s: %w", path, err)
		}
		if err := c.Add(ctx, path); err != nil {
			return nil, core.ErrExecution(core.CodeMergeFailed, "staging resolved file").WithCause(err)
		}

		res := core.MergeConflictResolution{
			AgentID:          agentID,
			FilePath:         path,
			ParentModifiedAt: parentAt,
			ChildModifiedAt:  childAt,
			Choice:           choice,
		}
		if err := e.store.RecordConflictResolution(ctx, &res); err != nil {
			return nil, err
		}
		resolutions = append(resolutions, res)
		e.log.WithAgent(agentID).Info("conflict resolved", "file", path, "choice", choice)
	}
	return resolutions, nil
}

func (e *Engine) strategyLabel() string {
	if e.cfg.ConflictResolutionStrategy != "" {
		return e.cfg.ConflictResolutionStrategy
	}
	return "newest_file_wins"
}

// CleanupWorktree removes the agent's worktree directory, recording its
// final disk usage. The branch is kept.
func (e *Engine) CleanupWorktree(ctx context.Context, agentID string) error {
	wt, err := e.store.GetWorktree(ctx, agentID)
	if err != nil {
		return err
	}
	usage := dirSizeMB(wt.WorktreePath)

	if err := e.trunk.WorktreeRemove(ctx, wt.WorktreePath); err != nil {
		// The directory may already be gone or detached; remove what's left.
		_ = os.RemoveAll(wt.WorktreePath)
	}

	wt.MergeStatus = core.MergeStatusCleaned
	wt.DiskUsageMB = usage
	if err := e.store.UpdateWorktree(ctx, wt); err != nil {
		return err
	}
	e.log.WithAgent(agentID).Info("worktree cleaned", "disk_usage_mb", usage)
	return nil
}

// GetWorkspaceChanges summarizes the agent's work since a commit, defaulting
// to the worktree's parent checkpoint (or base commit without a parent).
func (e *Engine) GetWorkspaceChanges(ctx context.Context, agentID, sinceCommit string) (*core.WorkspaceChanges, error) {
	wt, err := e.store.GetWorktree(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if sinceCommit == "" {
		sinceCommit = wt.ParentCommitSHA
	}
	if sinceCommit == "" {
		sinceCommit = wt.BaseCommitSHA
	}

	c := e.trunk.At(wt.WorktreePath)
	added, modified, deleted, err := c.DiffNameStatus(ctx, sinceCommit, "HEAD")
	if err != nil {
		return nil, err
	}
	insertions, deletions, err := c.DiffStat(ctx, sinceCommit, "HEAD")
	if err != nil {
		return nil, err
	}
	diff, err := c.UnifiedDiff(ctx, sinceCommit, "HEAD")
	if err != nil {
		return nil, err
	}
	return &core.WorkspaceChanges{
		Added:      added,
		Modified:   modified,
		Deleted:    deleted,
		Insertions: insertions,
		Deletions:  deletions,
		Diff:       diff,
	}, nil
}

func dirSizeMB(path string) float64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / (1024 * 1024)
}
