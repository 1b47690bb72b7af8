package background

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-ai/hephaestus/internal/config"
	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/events"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/service/agent"
	"github.com/hephaestus-ai/hephaestus/internal/store"
)

type fakeQueue struct{ drains int }

func (f *fakeQueue) ProcessQueue(context.Context) error {
	f.drains++
	return nil
}

type fakeTasks struct{ released []string }

func (f *fakeTasks) SyncBlockedTasks(context.Context) ([]string, error) {
	return f.released, nil
}

type fakeAgents struct {
	st         *store.Store
	health     map[string]agent.Health
	restartErr error
	restarted  []string
	terminated []string
}

func (f *fakeAgents) ProbeAgent(_ context.Context, agentID string) (agent.Health, error) {
	h, ok := f.health[agentID]
	if !ok {
		return agent.HealthOK, nil
	}
	return h, nil
}

func (f *fakeAgents) Restart(_ context.Context, agentID string) error {
	if f.restartErr != nil {
		return f.restartErr
	}
	f.restarted = append(f.restarted, agentID)
	return nil
}

func (f *fakeAgents) Terminate(ctx context.Context, agentID string) (*core.Agent, error) {
	f.terminated = append(f.terminated, agentID)
	a, err := f.st.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	a.Status = core.AgentStatusTerminated
	return a, f.st.UpdateAgent(ctx, a)
}

type fixture struct {
	runner *Runner
	store  *store.Store
	queue  *fakeQueue
	tasks  *fakeTasks
	agents *fakeAgents
	bus    *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	bus := events.New(32)
	t.Cleanup(bus.Close)
	q := &fakeQueue{}
	tasks := &fakeTasks{}
	agents := &fakeAgents{st: st, health: map[string]agent.Health{}}

	r := NewRunner(st, q, tasks, agents,
		config.OrchestratorConfig{HealthFailureLimit: 3}, bus, logging.NewNop())
	return &fixture{runner: r, store: st, queue: q, tasks: tasks, agents: agents, bus: bus}
}

func (f *fixture) seedAgent(t *testing.T, failures int) *core.Agent {
	t.Helper()
	ctx := context.Background()
	task := core.NewTask(uuid.NewString(), "work", "done", "sdk-root", "wf-1")
	require.NoError(t, f.store.CreateTask(ctx, task))
	task.Status = core.TaskStatusInProgress
	require.NoError(t, f.store.UpdateTask(ctx, task))

	a := core.NewAgent(uuid.NewString(), "claude", core.AgentTypePhase, task.ID)
	a.Status = core.AgentStatusWorking
	a.HealthCheckFailures = failures
	require.NoError(t, f.store.CreateAgent(ctx, a))
	return a
}

func TestSweepQueueDrainsAndSyncs(t *testing.T) {
	f := newFixture(t)
	f.tasks.released = []string{"task-1"}
	require.NoError(t, f.runner.SweepQueue(context.Background()))
	assert.Equal(t, 1, f.queue.drains)
}

func TestCheckAgentsResetsFailuresOnHealthyProbe(t *testing.T) {
	f := newFixture(t)
	a := f.seedAgent(t, 2)

	require.NoError(t, f.runner.CheckAgents(context.Background()))

	got, err := f.store.GetAgent(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.HealthCheckFailures)
}

func TestCheckAgentsAccumulatesStrikes(t *testing.T) {
	f := newFixture(t)
	a := f.seedAgent(t, 0)
	f.agents.health[a.ID] = agent.HealthStuck

	require.NoError(t, f.runner.CheckAgents(context.Background()))

	got, err := f.store.GetAgent(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.HealthCheckFailures)
	assert.Empty(t, f.agents.restarted)
	assert.Empty(t, f.agents.terminated)
}

func TestCheckAgentsRestartsAtLimit(t *testing.T) {
	f := newFixture(t)
	a := f.seedAgent(t, 2)
	f.agents.health[a.ID] = agent.HealthMissing

	require.NoError(t, f.runner.CheckAgents(context.Background()))

	assert.Equal(t, []string{a.ID}, f.agents.restarted)
	got, err := f.store.GetAgent(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.HealthCheckFailures)
}

func TestCheckAgentsTearsDownWhenRestartFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedAgent(t, 2)
	f.agents.health[a.ID] = agent.HealthStuck
	f.agents.restartErr = errors.New("session gone")

	ch := f.bus.Subscribe(events.TypeAgentUnresponsive)
	defer f.bus.Unsubscribe(ch)

	require.NoError(t, f.runner.CheckAgents(ctx))

	assert.Equal(t, []string{a.ID}, f.agents.terminated)
	task, err := f.store.GetTask(ctx, a.CurrentTaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailed, task.Status)
	assert.Contains(t, task.FailureReason, "unresponsive")
	assert.Equal(t, 1, f.queue.drains)

	ev := <-ch
	assert.Equal(t, events.TypeAgentUnresponsive, ev.EventType())
}
