package phase

import (
	"context"
	"os"
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

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	boards := config.BoardDefaults{DefaultHumanReview: false, DefaultApprovalTimeout: 1800}
	return NewEngine(st, boards, logging.NewNop()), st
}

func twoPhaseDefinition(id string) *core.WorkflowDefinition {
	return &core.WorkflowDefinition{
		ID:   id,
		Name: "Build " + id,
		PhasesConfig: []core.PhaseTemplate{
			{Name: "Plan {project}", Description: "Plan the work for {project}",
				DoneDefinitions: []string{"plan for {project} written"}, Validation: "none"},
			{Name: "Implement", Description: "Do the work", Validation: "standard"},
		},
	}
}

func TestRegisterDefinitionIsIdempotentByID(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	def := twoPhaseDefinition("wf-build")
	require.NoError(t, e.RegisterDefinition(ctx, def))
	def.Name = "Build v2"
	require.NoError(t, e.RegisterDefinition(ctx, def))

	defs, err := e.ListDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Build v2", defs[0].Name)
}

func TestRegisterDefinitionValidates(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.RegisterDefinition(context.Background(), &core.WorkflowDefinition{ID: "x", Name: "x"})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestStartExecutionSubstitutesLaunchParams(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.RegisterDefinition(ctx, twoPhaseDefinition("wf-sub")))

	exec, err := e.StartExecution(ctx, "wf-sub", "run", "/repo",
		map[string]interface{}{"project": "hermes"})
	require.NoError(t, err)

	phases, err := e.ListPhases(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, "Plan hermes", phases[0].Name)
	assert.Equal(t, "Plan the work for hermes", phases[0].Description)
	assert.Equal(t, []string{"plan for hermes written"}, phases[0].DoneDefinitions)
}

func TestStartExecutionBlanksMissingParams(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.RegisterDefinition(ctx, twoPhaseDefinition("wf-missing")))

	exec, err := e.StartExecution(ctx, "wf-missing", "run", "", nil)
	require.NoError(t, err)

	phases, err := e.ListPhases(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Plan ", phases[0].Name)
}

func TestResolvePhaseRequiresWorkflowID(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.ResolvePhase(context.Background(), ResolveRequest{Order: 1})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestResolvePhaseByExplicitIDAndOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.RegisterDefinition(ctx, twoPhaseDefinition("wf-res")))
	exec, err := e.StartExecution(ctx, "wf-res", "run", "", nil)
	require.NoError(t, err)
	phases, err := e.ListPhases(ctx, exec.ID)
	require.NoError(t, err)

	got, err := e.ResolvePhase(ctx, ResolveRequest{WorkflowID: exec.ID, PhaseID: phases[1].ID})
	require.NoError(t, err)
	assert.Equal(t, phases[1].ID, got.ID)

	got, err = e.ResolvePhase(ctx, ResolveRequest{WorkflowID: exec.ID, Order: 2})
	require.NoError(t, err)
	assert.Equal(t, phases[1].ID, got.ID)

	// Default: lowest-order phase still pending or in progress.
	got, err = e.ResolvePhase(ctx, ResolveRequest{WorkflowID: exec.ID})
	require.NoError(t, err)
	assert.Equal(t, phases[0].ID, got.ID)
}

func TestResolvePhaseIsolatesWorkflows(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.RegisterDefinition(ctx, twoPhaseDefinition("wf-a")))
	require.NoError(t, e.RegisterDefinition(ctx, twoPhaseDefinition("wf-b")))
	execA, err := e.StartExecution(ctx, "wf-a", "a", "", nil)
	require.NoError(t, err)
	execB, err := e.StartExecution(ctx, "wf-b", "b", "", nil)
	require.NoError(t, err)

	// order=1 resolved against B's execution must never return an A phase.
	got, err := e.ResolvePhase(ctx, ResolveRequest{WorkflowID: execB.ID, Order: 1})
	require.NoError(t, err)
	assert.Equal(t, execB.ID, got.WorkflowID)

	phasesA, err := e.ListPhases(ctx, execA.ID)
	require.NoError(t, err)
	_, err = e.ResolvePhase(ctx, ResolveRequest{WorkflowID: execB.ID, PhaseID: phasesA[0].ID})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatSemantic))
}

func TestResolvePhaseFollowsCallerAgent(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.RegisterDefinition(ctx, twoPhaseDefinition("wf-caller")))
	exec, err := e.StartExecution(ctx, "wf-caller", "run", "", nil)
	require.NoError(t, err)
	phases, err := e.ListPhases(ctx, exec.ID)
	require.NoError(t, err)

	task := core.NewTask("task-1", "do a thing", "it is done", "sdk-root", exec.ID)
	task.PhaseID = phases[1].ID
	require.NoError(t, st.CreateTask(ctx, task))

	agent := core.NewAgent("agent-1", "claude", core.AgentTypePhase, task.ID)
	agent.TmuxSessionName = "hep_agent-1"
	require.NoError(t, st.CreateAgent(ctx, agent))

	got, err := e.ResolvePhase(ctx, ResolveRequest{WorkflowID: exec.ID, CallerAgentID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, phases[1].ID, got.ID)
}

func TestAdvanceIfComplete(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.RegisterDefinition(ctx, twoPhaseDefinition("wf-adv")))
	exec, err := e.StartExecution(ctx, "wf-adv", "run", "", nil)
	require.NoError(t, err)
	phases, err := e.ListPhases(ctx, exec.ID)
	require.NoError(t, err)

	task := core.NewTask("task-adv", "work", "done", "sdk-root", exec.ID)
	task.PhaseID = phases[0].ID
	require.NoError(t, st.CreateTask(ctx, task))

	// Incomplete task holds the phase open.
	advanced, err := e.AdvanceIfComplete(ctx, phases[0].ID)
	require.NoError(t, err)
	assert.False(t, advanced)

	task.Status = core.TaskStatusDone
	now := time.Now().UTC()
	task.CompletedAt = &now
	require.NoError(t, st.UpdateTask(ctx, task))

	advanced, err = e.AdvanceIfComplete(ctx, phases[0].ID)
	require.NoError(t, err)
	assert.True(t, advanced)

	execs, err := st.ListPhaseExecutions(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PhaseExecCompleted, execs[0].Status)
	assert.Equal(t, core.PhaseExecInProgress, execs[1].Status)

	// Resolution now lands on phase 2.
	got, err := e.ResolvePhase(ctx, ResolveRequest{WorkflowID: exec.ID})
	require.NoError(t, err)
	assert.Equal(t, phases[1].ID, got.ID)
}

func TestLoadFolderRegistersDefinitions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	yaml := `
name: Research pipeline
description: two stage research
phases:
  - name: Gather
    description: gather sources on {topic}
    done_definitions: ["sources listed"]
  - name: Write
    description: write the report
workflow_config:
  has_result: true
  result_criteria: report exists
  on_result_found: stop_all
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "research.yaml"), []byte(yaml), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("{nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	require.NoError(t, e.LoadFolder(ctx, dir))

	def, err := e.GetDefinition(ctx, "research")
	require.NoError(t, err)
	assert.Equal(t, "Research pipeline", def.Name)
	require.Len(t, def.PhasesConfig, 2)
	assert.True(t, def.WorkflowConfig.HasResult)
}
