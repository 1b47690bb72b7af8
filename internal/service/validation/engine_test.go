package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-ai/hephaestus/internal/config"
	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/events"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/service/phase"
	"github.com/hephaestus-ai/hephaestus/internal/service/queue"
	"github.com/hephaestus-ai/hephaestus/internal/store"
)

type fakeAgents struct {
	st            *store.Store
	validators    []string
	terminated    []string
	feedback      map[string]string
	spawnErr      error
	lastValidator *core.Agent
}

func (f *fakeAgents) SpawnValidator(ctx context.Context, task *core.Task, _ string) (*core.Agent, error) {
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	v := core.NewAgent(uuid.NewString(), "claude", core.AgentTypeValidator, task.ID)
	v.Status = core.AgentStatusWorking
	if err := f.st.CreateAgent(ctx, v); err != nil {
		return nil, err
	}
	f.validators = append(f.validators, v.ID)
	f.lastValidator = v
	return v, nil
}

func (f *fakeAgents) SpawnResultValidator(ctx context.Context, workflowID, resultID, _, _, _ string) (*core.Agent, error) {
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	v := core.NewAgent(uuid.NewString(), "claude", core.AgentTypeResultValidator, "")
	v.Status = core.AgentStatusWorking
	if err := f.st.CreateAgent(ctx, v); err != nil {
		return nil, err
	}
	f.validators = append(f.validators, v.ID)
	f.lastValidator = v
	return v, nil
}

func (f *fakeAgents) Terminate(ctx context.Context, agentID string) (*core.Agent, error) {
	f.terminated = append(f.terminated, agentID)
	a, err := f.st.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	a.Status = core.AgentStatusTerminated
	a.TerminatedAt = &now
	return a, f.st.UpdateAgent(ctx, a)
}

func (f *fakeAgents) ForwardFeedback(_ context.Context, agentID, feedback string) error {
	if f.feedback == nil {
		f.feedback = map[string]string{}
	}
	f.feedback[agentID] = feedback
	return nil
}

type fakeWorktrees struct {
	commits   []int
	merged    []string
	commitErr error
	mergeErr  error
}

func (f *fakeWorktrees) CommitForValidation(_ context.Context, _ string, iteration int, _ string) (*core.CommitResult, error) {
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	f.commits = append(f.commits, iteration)
	return &core.CommitResult{CommitSHA: "deadbeef", FilesChanged: 2}, nil
}

func (f *fakeWorktrees) MergeToParent(_ context.Context, agentID string) (*core.MergeResult, error) {
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	f.merged = append(f.merged, agentID)
	return &core.MergeResult{Status: core.MergeSuccess, CommitSHA: "cafe1234"}, nil
}

type fixture struct {
	engine    *Engine
	store     *store.Store
	agents    *fakeAgents
	worktrees *fakeWorktrees
	phases    *phase.Engine
	bus       *events.Bus
	exec      *core.WorkflowExecution
}

func newFixture(t *testing.T, cfg core.WorkflowConfig) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	bus := events.New(16)
	t.Cleanup(bus.Close)
	log := logging.NewNop()

	phases := phase.NewEngine(st, config.BoardDefaults{DefaultApprovalTimeout: 1800}, log)
	q := queue.NewService(st, bus, config.OrchestratorConfig{MaxConcurrentAgents: 4}, log)
	q.SetSpawner(spawnerFunc(func(context.Context, *core.Task) error { return nil }))

	agents := &fakeAgents{st: st}
	worktrees := &fakeWorktrees{}
	engine := NewEngine(st, agents, worktrees, q, phases, bus, log)

	ctx := context.Background()
	def := &core.WorkflowDefinition{
		ID:   "wf-def",
		Name: "Build",
		PhasesConfig: []core.PhaseTemplate{
			{Name: "Implement", Description: "Do the work", Validation: "standard"},
		},
		WorkflowConfig: cfg,
	}
	require.NoError(t, phases.RegisterDefinition(ctx, def))
	exec, err := phases.StartExecution(ctx, "wf-def", "run", "/srv/repo", nil)
	require.NoError(t, err)

	return &fixture{engine: engine, store: st, agents: agents,
		worktrees: worktrees, phases: phases, bus: bus, exec: exec}
}

type spawnerFunc func(context.Context, *core.Task) error

func (f spawnerFunc) SpawnForTask(ctx context.Context, task *core.Task) error { return f(ctx, task) }

// seedWorkingTask creates an in-progress task with a live agent and worktree.
func seedWorkingTask(t *testing.T, f *fixture) (*core.Task, *core.Agent) {
	t.Helper()
	ctx := context.Background()

	phases, err := f.phases.ListPhases(ctx, f.exec.ID)
	require.NoError(t, err)

	task := core.NewTask(uuid.NewString(), "build feature", "feature works", "sdk-root", f.exec.ID)
	task.PhaseID = phases[0].ID
	task.ValidationEnabled = true
	require.NoError(t, f.store.CreateTask(ctx, task))

	agent := core.NewAgent(uuid.NewString(), "claude", core.AgentTypePhase, task.ID)
	agent.Status = core.AgentStatusWorking
	require.NoError(t, f.store.CreateAgent(ctx, agent))

	task.Status = core.TaskStatusInProgress
	task.AssignedAgentID = agent.ID
	require.NoError(t, f.store.UpdateTask(ctx, task))

	require.NoError(t, f.store.CreateWorktree(ctx, &core.AgentWorktree{
		AgentID:      agent.ID,
		WorktreePath: "/srv/worktrees/" + agent.ShortID(),
		BranchName:   "agent/" + agent.ShortID(),
		CreatedAt:    time.Now().UTC(),
	}))
	return task, agent
}

func TestStartTaskValidationSpawnsValidator(t *testing.T) {
	f := newFixture(t, core.WorkflowConfig{})
	ctx := context.Background()
	task, agent := seedWorkingTask(t, f)

	ch := f.bus.Subscribe(events.TypeValidationStarted)
	require.NoError(t, f.engine.StartTaskValidation(ctx, task))

	assert.Equal(t, core.TaskStatusUnderReview, task.Status)
	assert.Equal(t, 1, task.ValidationIteration)
	assert.Equal(t, []int{1}, f.worktrees.commits)
	require.Len(t, f.agents.validators, 1)

	kept, err := f.store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, kept.KeptAliveForValidation)

	ev := <-ch
	assert.Equal(t, events.TypeValidationStarted, ev.EventType())
}

func TestStartTaskValidationFailsTaskOnSpawnError(t *testing.T) {
	f := newFixture(t, core.WorkflowConfig{})
	ctx := context.Background()
	task, agent := seedWorkingTask(t, f)
	f.agents.spawnErr = errors.New("tmux exploded")

	err := f.engine.StartTaskValidation(ctx, task)
	require.Error(t, err)

	got, gerr := f.store.GetTask(ctx, task.ID)
	require.NoError(t, gerr)
	assert.Equal(t, core.TaskStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "Validator spawn failed")
	assert.Equal(t, []string{agent.ID}, f.agents.terminated)
}

func TestSubmitReviewPassMergesAndTerminatesBoth(t *testing.T) {
	f := newFixture(t, core.WorkflowConfig{})
	ctx := context.Background()
	task, agent := seedWorkingTask(t, f)
	require.NoError(t, f.engine.StartTaskValidation(ctx, task))
	validatorID := f.agents.lastValidator.ID

	_, err := f.engine.ReportResults(ctx, agent.ID, task.ID, "analysis", "/srv/out/report.md", nil, "findings")
	require.NoError(t, err)

	ch := f.bus.Subscribe(events.TypeValidationPassed)
	got, err := f.engine.SubmitReview(ctx, Review{
		TaskID:           task.ID,
		ValidatorAgentID: validatorID,
		Passed:           true,
		Feedback:         "looks correct",
	})
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusDone, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, []string{agent.ID}, f.worktrees.merged)
	assert.ElementsMatch(t, []string{validatorID, agent.ID}, f.agents.terminated)

	results, err := f.store.ListAgentResults(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ResultVerified, results[0].ValidationStatus)

	reviews, err := f.store.ListValidationReviews(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.True(t, reviews[0].Passed)

	ev := <-ch
	assert.Equal(t, events.TypeValidationPassed, ev.EventType())
}

func TestSubmitReviewFailReturnsForRework(t *testing.T) {
	f := newFixture(t, core.WorkflowConfig{})
	ctx := context.Background()
	task, agent := seedWorkingTask(t, f)
	require.NoError(t, f.engine.StartTaskValidation(ctx, task))
	validatorID := f.agents.lastValidator.ID

	got, err := f.engine.SubmitReview(ctx, Review{
		TaskID:           task.ID,
		ValidatorAgentID: validatorID,
		Passed:           false,
		Feedback:         "missing error handling in the retry path",
	})
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusNeedsWork, got.Status)
	assert.Equal(t, "missing error handling in the retry path", got.LastValidationFeedback)
	assert.Equal(t, "missing error handling in the retry path", f.agents.feedback[agent.ID])
	assert.Equal(t, []string{validatorID}, f.agents.terminated, "original agent stays alive")
	assert.Empty(t, f.worktrees.merged)
}

func TestSubmitReviewRejectsNonValidator(t *testing.T) {
	f := newFixture(t, core.WorkflowConfig{})
	ctx := context.Background()
	task, agent := seedWorkingTask(t, f)
	require.NoError(t, f.engine.StartTaskValidation(ctx, task))

	_, err := f.engine.SubmitReview(ctx, Review{
		TaskID:           task.ID,
		ValidatorAgentID: agent.ID, // phase agent, not a validator
		Passed:           true,
	})
	require.Error(t, err)
	var derr *core.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, core.CodeNotValidator, derr.Code)
}

func TestSubmitReviewRequiresUnderReview(t *testing.T) {
	f := newFixture(t, core.WorkflowConfig{})
	task, _ := seedWorkingTask(t, f)

	_, err := f.engine.SubmitReview(context.Background(), Review{
		TaskID:           task.ID,
		ValidatorAgentID: "whoever",
		Passed:           true,
	})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatSemantic))
}

func TestSubmitWorkflowResultRequiresHasResult(t *testing.T) {
	f := newFixture(t, core.WorkflowConfig{})
	_, err := f.engine.SubmitWorkflowResult(context.Background(), f.exec.ID,
		"agent-x", "/srv/out/result.md", "done early")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatSemantic))
}

func TestResultValidationStopAllEndsWorkflow(t *testing.T) {
	f := newFixture(t, core.WorkflowConfig{
		HasResult:      true,
		ResultCriteria: "a reproducible benchmark win",
		OnResultFound:  core.OnResultStopAll,
	})
	ctx := context.Background()
	task, agent := seedWorkingTask(t, f)

	// A queued task in the same workflow should be cancelled by the stop.
	queuedTask := core.NewTask(uuid.NewString(), "later work", "done", "sdk-root", f.exec.ID)
	require.NoError(t, f.store.CreateTask(ctx, queuedTask))
	now := time.Now().UTC()
	queuedTask.Status = core.TaskStatusQueued
	queuedTask.QueuedAt = &now
	require.NoError(t, f.store.UpdateTask(ctx, queuedTask))

	result, err := f.engine.SubmitWorkflowResult(ctx, f.exec.ID, agent.ID, "/srv/out/result.md", "criteria met")
	require.NoError(t, err)
	assert.Equal(t, core.ResultPendingValidation, result.ValidationStatus)
	validatorID := f.agents.lastValidator.ID

	ch := f.bus.Subscribe(events.TypeResultValidationCompleted)
	judged, err := f.engine.SubmitResultValidation(ctx, ResultVerdict{
		ResultID:         result.ID,
		ValidatorAgentID: validatorID,
		Passed:           true,
	})
	require.NoError(t, err)
	assert.Equal(t, core.ResultVerified, judged.ValidationStatus)

	exec, err := f.store.GetWorkflowExecution(ctx, f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowStatusCompleted, exec.Status)
	assert.True(t, exec.CompletedByResult)
	assert.True(t, exec.ResultFound)

	cancelled, err := f.store.GetTask(ctx, queuedTask.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailed, cancelled.Status)
	assert.Equal(t, "Workflow completed by verified result", cancelled.FailureReason)

	assert.Contains(t, f.agents.terminated, agent.ID)
	_ = task

	ev := <-ch
	assert.Equal(t, events.TypeResultValidationCompleted, ev.EventType())
}

func TestResultValidationRejectedLeavesWorkflowRunning(t *testing.T) {
	f := newFixture(t, core.WorkflowConfig{
		HasResult:      true,
		ResultCriteria: "a reproducible benchmark win",
		OnResultFound:  core.OnResultStopAll,
	})
	ctx := context.Background()
	_, agent := seedWorkingTask(t, f)

	result, err := f.engine.SubmitWorkflowResult(ctx, f.exec.ID, agent.ID, "/srv/out/result.md", "maybe")
	require.NoError(t, err)
	validatorID := f.agents.lastValidator.ID

	judged, err := f.engine.SubmitResultValidation(ctx, ResultVerdict{
		ResultID:         result.ID,
		ValidatorAgentID: validatorID,
		Passed:           false,
		Feedback:         "benchmark not reproducible",
	})
	require.NoError(t, err)
	assert.Equal(t, core.ResultRejected, judged.ValidationStatus)
	assert.Equal(t, "benchmark not reproducible", judged.Feedback)

	exec, err := f.store.GetWorkflowExecution(ctx, f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowStatusActive, exec.Status)
	assert.NotContains(t, f.agents.terminated, agent.ID)

	// A second verdict on the same result is refused.
	_, err = f.engine.SubmitResultValidation(ctx, ResultVerdict{
		ResultID: result.ID, ValidatorAgentID: validatorID, Passed: true})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatSemantic))
}
