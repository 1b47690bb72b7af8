package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-ai/hephaestus/internal/config"
	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/events"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/service/agent"
	"github.com/hephaestus-ai/hephaestus/internal/service/phase"
	"github.com/hephaestus-ai/hephaestus/internal/service/queue"
	"github.com/hephaestus-ai/hephaestus/internal/service/task"
	"github.com/hephaestus-ai/hephaestus/internal/service/ticket"
	"github.com/hephaestus-ai/hephaestus/internal/service/validation"
	"github.com/hephaestus-ai/hephaestus/internal/store"
	"github.com/hephaestus-ai/hephaestus/internal/vector"
)

type fakeProvider struct{}

func (fakeProvider) EnrichTask(_ context.Context, raw, _ string, _ []core.Memory, _ string) (core.EnrichedTask, error) {
	return core.EnrichedTask{Description: raw, EstimatedComplexity: 4}, nil
}
func (fakeProvider) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeProvider) AnalyzeTrajectory(context.Context, string) (core.TrajectoryJudgment, error) {
	return core.TrajectoryJudgment{OnTrack: true}, nil
}
func (fakeProvider) ResolveTicketClarification(context.Context, string, string, []string, []core.Ticket, []core.Task) (string, error) {
	return "arbitrated", nil
}
func (fakeProvider) GenerateAgentPrompt(_ context.Context, req core.PromptRequest) (string, error) {
	return "prompt " + req.TaskID, nil
}
func (fakeProvider) ProjectContext(context.Context, string) (string, error) { return "", nil }

type fakeMux struct{}

func (fakeMux) NewSession(context.Context, string, string) error     { return nil }
func (fakeMux) HasSession(context.Context, string) (bool, error)     { return true, nil }
func (fakeMux) SendKeys(context.Context, string, string) error       { return nil }
func (fakeMux) SendEnter(context.Context, string) error              { return nil }
func (fakeMux) CapturePane(context.Context, string, int) (string, error) {
	return "", nil
}
func (fakeMux) KillSession(context.Context, string) error      { return nil }
func (fakeMux) ListSessions(context.Context) ([]string, error) { return nil, nil }

type fakeWorktrees struct{ st *store.Store }

func (f fakeWorktrees) CreateAgentWorktree(ctx context.Context, agentID, parentAgentID, _ string) (string, error) {
	path := "/srv/worktrees/" + agentID
	err := f.st.CreateWorktree(ctx, &core.AgentWorktree{
		AgentID:       agentID,
		WorktreePath:  path,
		BranchName:    "agent/" + agentID,
		ParentAgentID: parentAgentID,
		CreatedAt:     time.Now().UTC(),
	})
	return path, err
}

func (f fakeWorktrees) MergeMainIntoBranch(context.Context, string, string, string) (*core.MergeResult, error) {
	return &core.MergeResult{Status: core.MergeUpToDate}, nil
}

func (f fakeWorktrees) CleanupWorktree(context.Context, string) error { return nil }

func (f fakeWorktrees) CommitForValidation(context.Context, string, int, string) (*core.CommitResult, error) {
	return &core.CommitResult{CommitSHA: "deadbeef"}, nil
}

func (f fakeWorktrees) MergeToParent(context.Context, string) (*core.MergeResult, error) {
	return &core.MergeResult{Status: core.MergeSuccess, CommitSHA: "cafe1234"}, nil
}

type fixture struct {
	srv   *httptest.Server
	store *store.Store
	bus   *events.Bus
	exec  *core.WorkflowExecution
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	idx, err := vector.NewIndex("")
	require.NoError(t, err)
	bus := events.New(64)
	t.Cleanup(bus.Close)
	log := logging.NewNop()
	provider := fakeProvider{}
	worktrees := fakeWorktrees{st: st}

	phases := phase.NewEngine(st, config.BoardDefaults{DefaultApprovalTimeout: 1800}, log)
	q := queue.NewService(st, bus, config.OrchestratorConfig{MaxConcurrentAgents: 1}, log)
	agents := agent.NewManager(st, worktrees, provider, fakeMux{},
		config.AgentsConfig{DefaultCLITool: "claude", CLIModel: "sonnet"},
		config.TmuxConfig{SessionPrefix: "hep"},
		config.OrchestratorConfig{}, bus, log)
	q.SetSpawner(agents)

	tasks := task.NewService(st, idx, provider, phases, q, agents, worktrees,
		config.DedupConfig{}, config.OrchestratorConfig{}, "/srv/repo", bus, log)
	valEngine := validation.NewEngine(st, agents, worktrees, q, phases, bus, log)
	tasks.SetValidator(valEngine)
	tickets := ticket.NewService(st, idx, provider, bus, log)
	tickets.SetTaskSyncer(tasks)

	server := NewServer(Deps{
		Store:      st,
		Tasks:      tasks,
		Tickets:    tickets,
		Agents:     agents,
		Queue:      q,
		Phases:     phases,
		Validation: valEngine,
		Bus:        bus,
		EnableCORS: true,
		Log:        log,
	})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	ctx := context.Background()
	def := &core.WorkflowDefinition{
		ID:   "wf-def",
		Name: "Build",
		PhasesConfig: []core.PhaseTemplate{
			{Name: "Implement", Description: "Do the work", Validation: "none"},
		},
	}
	require.NoError(t, phases.RegisterDefinition(ctx, def))
	exec, err := phases.StartExecution(ctx, "wf-def", "run", "/srv/repo", nil)
	require.NoError(t, err)

	return &fixture{srv: srv, store: st, bus: bus, exec: exec}
}

// occupyCapacity inserts a live phase agent so new tasks queue.
func (f *fixture) occupyCapacity(t *testing.T) {
	t.Helper()
	a := core.NewAgent(uuid.NewString(), "claude", core.AgentTypePhase, "")
	a.Status = core.AgentStatusWorking
	require.NoError(t, f.store.CreateAgent(context.Background(), a))
}

func (f *fixture) do(t *testing.T, method, path, agentID string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if agentID != "" {
		req.Header.Set("X-Agent-ID", agentID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthNeedsNoAuth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestAgentAuthRejectsUnknownCallers(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/queue_status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/queue_status", "no-such-agent", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/queue_status", "sdk-root", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateTaskValidatesSchema(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/create_task", "sdk-root", map[string]interface{}{
		"task_description": "",
		"done_definition":  "done",
		"workflow_id":      f.exec.ID,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestCreateTaskQueuesAtCapacity(t *testing.T) {
	f := newFixture(t)
	f.occupyCapacity(t)

	resp, body := f.do(t, http.MethodPost, "/create_task", "sdk-root", map[string]interface{}{
		"task_description": "implement the parser",
		"done_definition":  "parser handles all inputs",
		"workflow_id":      f.exec.ID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, float64(1), body["queue_position"])
}

func TestQueueStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	f.occupyCapacity(t)

	resp, body := f.do(t, http.MethodGet, "/api/queue_status", "sdk-root", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["active_agents"])
	assert.Equal(t, float64(0), body["available_slots"])
}

func TestTicketEndpointsRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveBoardConfig(ctx, &core.BoardConfig{
		ID: uuid.NewString(), WorkflowID: f.exec.ID,
		Columns: core.DefaultBoardColumns, InitialStatus: "backlog"}))

	resp, body := f.do(t, http.MethodPost, "/api/tickets/create", "sdk-root", map[string]interface{}{
		"workflow_id": f.exec.ID,
		"title":       "Fix login",
		"description": "session cookie races the redirect",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ticketID := body["ticket_id"].(string)
	assert.Equal(t, "auto_approved", body["approval_status"])

	// Title too short fails schema validation.
	resp, _ = f.do(t, http.MethodPost, "/api/tickets/create", "sdk-root", map[string]interface{}{
		"workflow_id": f.exec.ID, "title": "ab", "description": "long enough text"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/tickets/change-status", "sdk-root", map[string]interface{}{
		"ticket_id":  ticketID,
		"new_status": "in_progress",
		"comment":    "starting work on it",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["blocked"])
	assert.Equal(t, "in_progress", body["status"])

	resp, body = f.do(t, http.MethodGet, "/api/tickets/"+ticketID, "sdk-root", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, body["ticket"])
	assert.NotEmpty(t, body["history"])

	resp, _ = f.do(t, http.MethodGet, "/api/tickets/"+uuid.NewString(), "sdk-root", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChangeStatusReportsBlockersWith200(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveBoardConfig(ctx, &core.BoardConfig{
		ID: uuid.NewString(), WorkflowID: f.exec.ID,
		Columns: core.DefaultBoardColumns, InitialStatus: "backlog"}))

	_, blockerBody := f.do(t, http.MethodPost, "/api/tickets/create", "sdk-root", map[string]interface{}{
		"workflow_id": f.exec.ID, "title": "dependency", "description": "must land first"})
	_, body := f.do(t, http.MethodPost, "/api/tickets/create", "sdk-root", map[string]interface{}{
		"workflow_id": f.exec.ID, "title": "blocked work", "description": "waits for the dep",
		"blocked_by_ticket_ids": []string{blockerBody["ticket_id"].(string)}})

	resp, res := f.do(t, http.MethodPost, "/api/tickets/change-status", "sdk-root", map[string]interface{}{
		"ticket_id":  body["ticket_id"],
		"new_status": "in_progress",
		"comment":    "trying to start",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, res["blocked"])
	assert.NotEmpty(t, res["blocking_ticket_ids"])
}

func TestValidationReviewByNonValidatorIs403(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A phase agent posing as validator.
	impostor := core.NewAgent(uuid.NewString(), "claude", core.AgentTypePhase, "")
	require.NoError(t, f.store.CreateAgent(ctx, impostor))

	phases, err := f.store.ListPhases(ctx, f.exec.ID)
	require.NoError(t, err)
	underReview := core.NewTask(uuid.NewString(), "work", "done", "sdk-root", f.exec.ID)
	underReview.PhaseID = phases[0].ID
	require.NoError(t, f.store.CreateTask(ctx, underReview))
	underReview.Status = core.TaskStatusUnderReview
	underReview.AssignedAgentID = impostor.ID
	require.NoError(t, f.store.UpdateTask(ctx, underReview))

	resp, body := f.do(t, http.MethodPost, "/give_validation_review", impostor.ID, map[string]interface{}{
		"task_id":           underReview.ID,
		"validation_passed": true,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, core.CodeNotValidator, body["code"])
}

func TestWorkflowEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/workflow-definitions", "sdk-root", map[string]interface{}{
		"id":   "wf-api",
		"name": "API workflow",
		"phases_config": []map[string]interface{}{
			{"name": "Research", "description": "Dig in"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "wf-api", body["definition_id"])

	resp, body = f.do(t, http.MethodPost, "/api/workflow-executions", "sdk-root", map[string]interface{}{
		"definition_id": "wf-api",
		"description":   "first run",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	workflowID := body["workflow_id"].(string)

	resp, body = f.do(t, http.MethodGet, "/api/workflow-executions/"+workflowID, "sdk-root", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, body["execution"])
	assert.NotEmpty(t, body["phases"])
}

func TestSaveMemoryEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/save_memory", "sdk-root", map[string]interface{}{
		"memory_content": "integration tests need the sqlite FTS build tag",
		"memory_type":    "learning",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["saved"])

	resp, _ = f.do(t, http.MethodPost, "/save_memory", "sdk-root", map[string]interface{}{
		"memory_content": "x", "memory_type": "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSSEStreamsPublishedEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the handler a moment to subscribe, then publish.
	time.Sleep(100 * time.Millisecond)
	f.bus.Publish(events.NewTaskCreatedEvent(f.exec.ID, "task-1", "pending"))

	buf := make([]byte, 4096)
	var got string
	for !containsEvent(got, "task_created") {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			got += string(buf[:n])
		}
		if rerr != nil {
			break
		}
	}
	assert.Contains(t, got, "event: connected")
	assert.Contains(t, got, "event: task_created")
	assert.Contains(t, got, `"task_id":"task-1"`)
}

func containsEvent(stream, eventType string) bool {
	return len(stream) > 0 && bytes.Contains([]byte(stream), []byte(fmt.Sprintf("event: %s", eventType)))
}
