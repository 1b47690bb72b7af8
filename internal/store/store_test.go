package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedDefinition(t *testing.T, s *Store) *core.WorkflowDefinition {
	t.Helper()
	def := &core.WorkflowDefinition{
		ID:   "research",
		Name: "Research",
		PhasesConfig: []core.PhaseTemplate{
			{Name: "explore", Description: "explore {topic}"},
			{Name: "write", Description: "write up findings"},
		},
	}
	require.NoError(t, s.SaveWorkflowDefinition(context.Background(), def))
	return def
}

func seedExecution(t *testing.T, s *Store, defID string) *core.WorkflowExecution {
	t.Helper()
	exec := core.NewWorkflowExecution(uuid.NewString(), defID, "test run")
	now := time.Now().UTC()
	phases := []*core.Phase{
		{ID: uuid.NewString(), WorkflowID: exec.ID, Order: 1, Name: "explore", CreatedAt: now},
		{ID: uuid.NewString(), WorkflowID: exec.ID, Order: 2, Name: "write", CreatedAt: now},
	}
	var pexecs []*core.PhaseExecution
	for _, p := range phases {
		pexecs = append(pexecs, &core.PhaseExecution{
			ID: uuid.NewString(), PhaseID: p.ID, WorkflowID: exec.ID,
			Order: p.Order, Status: core.PhaseExecPending,
		})
	}
	require.NoError(t, s.CreateWorkflowExecution(context.Background(), exec, phases, pexecs))
	return exec
}

func TestTaskCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	def := seedDefinition(t, s)
	exec := seedExecution(t, s, def.ID)

	task := core.NewTask(uuid.NewString(), "investigate cache misses", "report written", "root", exec.ID)
	require.NoError(t, s.CreateTask(ctx, task))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.RawDescription, got.RawDescription)
	assert.Equal(t, core.TaskStatusPending, got.Status)

	got.Status = core.TaskStatusQueued
	now := time.Now().UTC()
	got.QueuedAt = &now
	got.RelatedTaskIDs = []core.RelatedTask{{TaskID: "other", Score: 0.42}}
	require.NoError(t, s.UpdateTask(ctx, got))

	again, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusQueued, again.Status)
	require.NotNil(t, again.QueuedAt)
	require.Len(t, again.RelatedTaskIDs, 1)
	assert.InDelta(t, 0.42, again.RelatedTaskIDs[0].Score, 1e-9)

	_, err = s.GetTask(ctx, "missing")
	var derr *core.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, core.ErrCatNotFound, derr.Category)
}

func TestUpdateMissingTaskReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	task := core.NewTask(uuid.NewString(), "x", "", "root", "wf")
	err := s.UpdateTask(context.Background(), task)
	var derr *core.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, core.ErrCatNotFound, derr.Category)
}

func TestListQueuedTasksOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	def := seedDefinition(t, s)
	exec := seedExecution(t, s, def.ID)

	mk := func(desc string, prio core.TaskPriority, boosted bool, queuedAt time.Time) *core.Task {
		task := core.NewTask(uuid.NewString(), desc, "", "root", exec.ID)
		task.Status = core.TaskStatusQueued
		task.Priority = prio
		task.PriorityBoosted = boosted
		task.QueuedAt = &queuedAt
		require.NoError(t, s.CreateTask(ctx, task))
		return task
	}

	base := time.Now().UTC()
	lowOld := mk("low old", core.PriorityLow, false, base.Add(-3*time.Hour))
	highNew := mk("high new", core.PriorityHigh, false, base.Add(-1*time.Hour))
	medBoosted := mk("medium boosted", core.PriorityMedium, true, base)
	highOld := mk("high old", core.PriorityHigh, false, base.Add(-2*time.Hour))

	queued, err := s.ListQueuedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 4)
	assert.Equal(t, medBoosted.ID, queued[0].ID)
	assert.Equal(t, highOld.ID, queued[1].ID)
	assert.Equal(t, highNew.ID, queued[2].ID)
	assert.Equal(t, lowOld.ID, queued[3].ID)
}

func TestAgentLiveSessionUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(session string, status core.AgentStatus) *core.Agent {
		return &core.Agent{
			ID: uuid.NewString(), Status: status, AgentType: core.AgentTypePhase,
			TmuxSessionName: session, LastActivity: time.Now().UTC(), CreatedAt: time.Now().UTC(),
		}
	}

	first := mk("hephaestus_abc123", core.AgentStatusWorking)
	require.NoError(t, s.CreateAgent(ctx, first))

	// Same session name while the first agent is live must fail.
	require.Error(t, s.CreateAgent(ctx, mk("hephaestus_abc123", core.AgentStatusWorking)))

	now := time.Now().UTC()
	first.Status = core.AgentStatusTerminated
	first.TerminatedAt = &now
	require.NoError(t, s.UpdateAgent(ctx, first))

	// After termination the name may be reused.
	require.NoError(t, s.CreateAgent(ctx, mk("hephaestus_abc123", core.AgentStatusWorking)))

	n, err := s.CountLivePhaseAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTicketLifecycleAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ticket := &core.Ticket{
		ID: uuid.NewString(), WorkflowID: "wf-1", Title: "Fix flaky login test",
		Description: "The login integration test fails intermittently on CI",
		TicketType:  "bug", Priority: core.PriorityHigh, Status: "backlog",
		ApprovalStatus: core.ApprovalAutoApproved,
		CreatedAt:      time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	hist := &core.TicketHistory{TicketID: ticket.ID, ActorID: "root", ChangeType: "created"}
	require.NoError(t, s.CreateTicket(ctx, ticket, hist))

	got, err := s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "backlog", got.Status)

	got.Status = "in_progress"
	require.NoError(t, s.UpdateTicket(ctx, got, &core.TicketHistory{
		TicketID: got.ID, ActorID: "agent-1", ChangeType: "status_change",
		OldValue: "backlog", NewValue: "in_progress",
	}))

	history, err := s.ListTicketHistory(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "created", history[0].ChangeType)
	assert.Equal(t, "status_change", history[1].ChangeType)

	hits, err := s.SearchTicketsKeyword(ctx, "wf-1", "flaky login", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ticket.ID, hits[0].TicketID)

	// Scoped to the workflow: same query in another workflow finds nothing.
	hits, err = s.SearchTicketsKeyword(ctx, "wf-2", "flaky login", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestTicketCommentsAndCommits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ticket := &core.Ticket{
		ID: uuid.NewString(), WorkflowID: "wf-1", Title: "Add retry budget",
		Description: "Outbound HTTP calls need a per-request retry budget",
		Status:      "backlog", ApprovalStatus: core.ApprovalAutoApproved,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateTicket(ctx, ticket, nil))

	comment := &core.TicketComment{
		ID: uuid.NewString(), TicketID: ticket.ID, AuthorID: "agent-1",
		CommentType: "comment", Text: "starting on this", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.AddTicketComment(ctx, comment, nil))

	link := &core.TicketCommit{
		ID: uuid.NewString(), TicketID: ticket.ID, CommitSHA: "abc1234",
		LinkedBy: "agent-1", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.LinkTicketCommit(ctx, link, nil))

	comments, err := s.ListTicketComments(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)

	commits, err := s.ListTicketCommits(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "abc1234", commits[0].CommitSHA)
}

func TestListTicketsBlockedBy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blocker := uuid.NewString()
	blocked := &core.Ticket{
		ID: uuid.NewString(), WorkflowID: "wf-1", Title: "Downstream work",
		Description: "Cannot start until the schema ticket resolves",
		Status:      "backlog", BlockedByTicketIDs: []string{blocker},
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateTicket(ctx, blocked, nil))

	got, err := s.ListTicketsBlockedBy(ctx, blocker)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, blocked.ID, got[0].ID)

	got, err = s.ListTicketsBlockedBy(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWorktreeAndConflictResolutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wt := &core.AgentWorktree{
		AgentID: "agent-1", WorktreePath: "/tmp/wt/agent-1",
		BranchName: "agent/agent-1", MergeStatus: core.MergeStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateWorktree(ctx, wt))

	// Branch names are unique across agents.
	dup := &core.AgentWorktree{
		AgentID: "agent-2", WorktreePath: "/tmp/wt/agent-2",
		BranchName: "agent/agent-1", MergeStatus: core.MergeStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	require.Error(t, s.CreateWorktree(ctx, dup))

	now := time.Now().UTC()
	wt.MergeStatus = core.MergeStatusMerged
	wt.MergeCommitSHA = "deadbeef"
	wt.MergedAt = &now
	require.NoError(t, s.UpdateWorktree(ctx, wt))

	got, err := s.GetWorktree(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, core.MergeStatusMerged, got.MergeStatus)
	require.NotNil(t, got.MergedAt)

	require.NoError(t, s.RecordConflictResolution(ctx, &core.MergeConflictResolution{
		AgentID: "agent-1", FilePath: "main.go",
		ParentModifiedAt: now.Add(-time.Hour), ChildModifiedAt: now,
		Choice: core.ResolutionChild,
	}))
	res, err := s.ListConflictResolutions(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, core.ResolutionChild, res[0].Choice)
}

func TestDefinitionUpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := seedDefinition(t, s)
	def.Name = "Research v2"
	def.PhasesConfig = append(def.PhasesConfig, core.PhaseTemplate{Name: "review"})
	require.NoError(t, s.SaveWorkflowDefinition(ctx, def))

	got, err := s.GetWorkflowDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "Research v2", got.Name)
	assert.Len(t, got.PhasesConfig, 3)

	defs, err := s.ListWorkflowDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}

func TestExecutionWithPhases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	def := seedDefinition(t, s)
	exec := seedExecution(t, s, def.ID)

	phases, err := s.ListPhases(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, 1, phases[0].Order)
	assert.Equal(t, "explore", phases[0].Name)

	pexecs, err := s.ListPhaseExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, pexecs, 2)
	assert.Equal(t, core.PhaseExecPending, pexecs[0].Status)

	now := time.Now().UTC()
	pexecs[0].Status = core.PhaseExecInProgress
	pexecs[0].StartedAt = &now
	require.NoError(t, s.UpdatePhaseExecution(ctx, pexecs[0]))

	exec.Status = core.WorkflowStatusCompleted
	exec.CompletedAt = &now
	require.NoError(t, s.UpdateWorkflowExecution(ctx, exec))

	active, err := s.ListWorkflowExecutions(ctx, core.WorkflowStatusActive)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListWorkflowExecutions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &core.Memory{
		ID: uuid.NewString(), AgentID: "agent-1",
		Content: "build tags gate the slow tests", MemoryType: core.MemoryDiscovery,
		Tags: []string{"testing"}, RelatedFiles: []string{"Makefile"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateMemory(ctx, m))

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, []string{"testing"}, got.Tags)

	list, err := s.ListMemories(ctx, "agent-1", core.MemoryDiscovery, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.ListMemories(ctx, "agent-1", core.MemoryWarning, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestResultsAndAdvisoryCleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	taskID := uuid.NewString()

	ar := &core.AgentResult{
		ID: uuid.NewString(), TaskID: taskID, AgentID: "agent-1",
		MarkdownFilePath: "/results/report.md",
		ValidationStatus: core.ResultPendingValidation,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, s.CreateAgentResult(ctx, ar))

	ar.ValidationStatus = core.ResultVerified
	require.NoError(t, s.UpdateAgentResult(ctx, ar))

	results, err := s.ListAgentResults(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ResultVerified, results[0].ValidationStatus)

	require.NoError(t, s.CreateValidationReview(ctx, &core.ValidationReview{
		ID: uuid.NewString(), TaskID: taskID, ValidatorAgentID: "val-1",
		Iteration: 1, Passed: false, Feedback: "missing edge cases",
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.CreateSteeringIntervention(ctx, &core.SteeringIntervention{
		ID: uuid.NewString(), AgentID: "agent-1", TaskID: taskID,
		Message: "focus on the parser", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.CreateGuardianAnalysis(ctx, &core.GuardianAnalysis{
		ID: uuid.NewString(), AgentID: "agent-1", TaskID: taskID,
		Verdict: "on_track", CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, s.ClearTaskAdvisoryHistory(ctx, taskID))
	reviews, err := s.ListValidationReviews(ctx, taskID)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestBoardConfigUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.AnyBoardConfig(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	b := &core.BoardConfig{
		WorkflowID: "wf-1", Columns: core.DefaultBoardColumns,
		InitialStatus: "backlog", ApprovalTimeoutSeconds: 1800,
	}
	require.NoError(t, s.SaveBoardConfig(ctx, b))

	b.Columns = []string{"todo", "doing", "done"}
	b.InitialStatus = "todo"
	require.NoError(t, s.SaveBoardConfig(ctx, b))

	got, err := s.GetBoardConfig(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"todo", "doing", "done"}, got.Columns)
	assert.Equal(t, "todo", got.InitialStatus)

	ok, err = s.AnyBoardConfig(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
