package core

import "time"

// MergeStatus tracks the lifecycle of an agent's worktree.
type MergeStatus string

const (
	MergeStatusActive    MergeStatus = "active"
	MergeStatusMerged    MergeStatus = "merged"
	MergeStatusAbandoned MergeStatus = "abandoned"
	MergeStatusCleaned   MergeStatus = "cleaned"
)

// AgentWorktree is the bookkeeping row for one agent's branch and worktree.
// The agent exclusively owns the directory while MergeStatus is active.
type AgentWorktree struct {
	AgentID         string
	WorktreePath    string
	BranchName      string
	ParentAgentID   string
	ParentCommitSHA string
	BaseCommitSHA   string
	MergeStatus     MergeStatus
	MergeCommitSHA  string
	DiskUsageMB     float64
	CreatedAt       time.Time
	MergedAt        *time.Time
}

// ResolutionChoice names the side picked for one conflicted file.
type ResolutionChoice string

const (
	ResolutionParent   ResolutionChoice = "parent"
	ResolutionChild    ResolutionChoice = "child"
	ResolutionTieChild ResolutionChoice = "tie_child"
)

// MergeConflictResolution records one newest-wins decision. AgentID is the
// merging agent, or STUCK_MERGE_RECOVERY when completing an abandoned merge.
type MergeConflictResolution struct {
	ID               string
	AgentID          string
	FilePath         string
	ParentModifiedAt time.Time
	ChildModifiedAt  time.Time
	Choice           ResolutionChoice
	CreatedAt        time.Time
}

// StuckMergeAgentID marks resolutions written while completing a merge that a
// previous process left half-finished.
const StuckMergeAgentID = "STUCK_MERGE_RECOVERY"

// MergeOutcome classifies the result of a merge operation.
type MergeOutcome string

const (
	MergeUpToDate         MergeOutcome = "up_to_date"
	MergeSuccess          MergeOutcome = "success"
	MergeConflictResolved MergeOutcome = "conflict_resolved"
)

// MergeResult reports a completed merge, either of trunk into an agent branch
// or of an agent branch back into trunk.
type MergeResult struct {
	Status             MergeOutcome              `json:"status"`
	MergedTo           string                    `json:"merged_to,omitempty"`
	CommitSHA          string                    `json:"commit_sha,omitempty"`
	ConflictsResolved  []MergeConflictResolution `json:"conflicts_resolved,omitempty"`
	ResolutionStrategy string                    `json:"resolution_strategy,omitempty"`
	TotalConflicts     int                       `json:"total_conflicts"`
	ResolutionTimeMS   int64                     `json:"resolution_time_ms"`
}

// WorkspaceChanges summarizes an agent's work since a base commit.
type WorkspaceChanges struct {
	Added      []string `json:"added"`
	Modified   []string `json:"modified"`
	Deleted    []string `json:"deleted"`
	Insertions int      `json:"insertions"`
	Deletions  int      `json:"deletions"`
	Diff       string   `json:"diff"`
}

// CommitResult reports a staged commit in an agent worktree.
type CommitResult struct {
	CommitSHA    string `json:"commit_sha"`
	FilesChanged int    `json:"files_changed"`
}
