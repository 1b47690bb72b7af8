// Package background runs the orchestrator's periodic maintenance loops:
// queue sweeps, the agent watchdog, and host resource sampling.
package background

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"

	"github.com/hephaestus-ai/hephaestus/internal/config"
	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/events"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/service/agent"
	"github.com/hephaestus-ai/hephaestus/internal/store"
)

const (
	defaultSweepInterval  = 60 * time.Second
	defaultProbeInterval  = 30 * time.Second
	defaultMetricInterval = 2 * time.Minute
	defaultFailureLimit   = 3

	memWarnPercent = 90.0
)

// Queue drains admission control when capacity frees up.
type Queue interface {
	ProcessQueue(ctx context.Context) error
}

// Tasks re-evaluates ticket-blocked tasks.
type Tasks interface {
	SyncBlockedTasks(ctx context.Context) ([]string, error)
}

// Agents is the slice of the agent manager the watchdog drives.
type Agents interface {
	ProbeAgent(ctx context.Context, agentID string) (agent.Health, error)
	Restart(ctx context.Context, agentID string) error
	Terminate(ctx context.Context, agentID string) (*core.Agent, error)
}

// Runner owns the background loops. Each loop is independent; a persistent
// store failure in one does not stop the others.
type Runner struct {
	store  *store.Store
	queue  Queue
	tasks  Tasks
	agents Agents
	bus    *events.Bus
	log    *logging.Logger

	sweepEvery   time.Duration
	probeEvery   time.Duration
	metricsEvery time.Duration
	failureLimit int
}

// NewRunner creates the background runner. Interval strings come from the
// orchestrator config; unparseable or missing values fall back to defaults.
func NewRunner(st *store.Store, q Queue, tasks Tasks, agents Agents,
	orch config.OrchestratorConfig, bus *events.Bus, log *logging.Logger) *Runner {

	limit := orch.HealthFailureLimit
	if limit <= 0 {
		limit = defaultFailureLimit
	}
	return &Runner{
		store:        st,
		queue:        q,
		tasks:        tasks,
		agents:       agents,
		bus:          bus,
		log:          log,
		sweepEvery:   parseInterval(orch.QueueSweepInterval, defaultSweepInterval),
		probeEvery:   parseInterval(orch.HealthCheckInterval, defaultProbeInterval),
		metricsEvery: parseInterval(orch.MetricsInterval, defaultMetricInterval),
		failureLimit: limit,
	}
}

func parseInterval(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.loop(ctx, r.sweepEvery, r.SweepQueue) })
	g.Go(func() error { return r.loop(ctx, r.probeEvery, r.CheckAgents) })
	g.Go(func() error { return r.loop(ctx, r.metricsEvery, r.sampleResources) })
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, every time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				r.log.Warn("background pass failed", "error", err)
			}
		}
	}
}

// SweepQueue drains the admission queue into free slots and releases tasks
// whose blocking tickets resolved outside the normal event path.
func (r *Runner) SweepQueue(ctx context.Context) error {
	if err := r.queue.ProcessQueue(ctx); err != nil {
		r.log.Warn("queue sweep failed", "error", err)
	}
	released, err := r.tasks.SyncBlockedTasks(ctx)
	if err != nil {
		return err
	}
	if len(released) > 0 {
		r.log.Info("blocked tasks released by sweep", "count", len(released))
	}
	return nil
}

// CheckAgents probes every live agent session. Consecutive failed probes
// accumulate on the agent row; at the limit the watchdog restarts the
// session, and if the restart fails the agent is terminated and its task
// marked failed so the slot frees up.
func (r *Runner) CheckAgents(ctx context.Context) error {
	live, err := r.store.ListLiveAgents(ctx)
	if err != nil {
		return err
	}
	for _, a := range live {
		health, err := r.agents.ProbeAgent(ctx, a.ID)
		if err != nil {
			r.log.WithAgent(a.ID).Warn("health probe failed", "error", err)
			continue
		}
		if health == agent.HealthOK {
			if a.HealthCheckFailures > 0 {
				a.HealthCheckFailures = 0
				if err := r.store.UpdateAgent(ctx, a); err != nil {
					r.log.WithAgent(a.ID).Warn("resetting health failures", "error", err)
				}
			}
			continue
		}

		a.HealthCheckFailures++
		r.log.WithAgent(a.ID).Warn("unhealthy agent session",
			"health", string(health), "failures", a.HealthCheckFailures)
		if a.HealthCheckFailures < r.failureLimit {
			if err := r.store.UpdateAgent(ctx, a); err != nil {
				r.log.WithAgent(a.ID).Warn("recording health failure", "error", err)
			}
			continue
		}
		r.recover(ctx, a, string(health))
	}
	return nil
}

// recover restarts a failing agent once per strike cycle; if the restart
// itself fails the agent is torn down and its task failed.
func (r *Runner) recover(ctx context.Context, a *core.Agent, reason string) {
	if err := r.agents.Restart(ctx, a.ID); err == nil {
		if fresh, gerr := r.store.GetAgent(ctx, a.ID); gerr == nil {
			fresh.HealthCheckFailures = 0
			if uerr := r.store.UpdateAgent(ctx, fresh); uerr != nil {
				r.log.WithAgent(a.ID).Warn("resetting health failures", "error", uerr)
			}
		}
		r.log.WithAgent(a.ID).Info("agent session restarted by watchdog", "reason", reason)
		return
	}

	workflowID := r.failCurrentTask(ctx, a, reason)
	r.bus.Publish(events.NewAgentUnresponsiveEvent(workflowID, a.ID, reason))
	if _, err := r.agents.Terminate(ctx, a.ID); err != nil {
		r.log.WithAgent(a.ID).Error("terminating unresponsive agent", "error", err)
	}
	if err := r.queue.ProcessQueue(ctx); err != nil {
		r.log.Warn("queue drain after watchdog termination failed", "error", err)
	}
}

func (r *Runner) failCurrentTask(ctx context.Context, a *core.Agent, reason string) string {
	if a.CurrentTaskID == "" {
		return ""
	}
	task, err := r.store.GetTask(ctx, a.CurrentTaskID)
	if err != nil {
		return ""
	}
	if task.IsTerminal() {
		return task.WorkflowID
	}
	now := time.Now().UTC()
	task.Status = core.TaskStatusFailed
	task.FailureReason = "Agent became unresponsive: " + reason
	task.CompletedAt = &now
	if err := r.store.UpdateTask(ctx, task); err != nil {
		r.log.WithTask(task.ID).Error("failing task of unresponsive agent", "error", err)
		return task.WorkflowID
	}
	r.bus.Publish(events.NewTaskCompletedEvent(task.WorkflowID, task.ID, string(core.TaskStatusFailed)))
	return task.WorkflowID
}

// sampleResources logs host utilization so operators can correlate agent
// stalls with resource pressure.
func (r *Runner) sampleResources(ctx context.Context) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}
	fields := []interface{}{
		"mem_percent", vm.UsedPercent,
		"mem_used_mb", float64(vm.Used) / 1024 / 1024,
	}
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		fields = append(fields, "cpu_percent", pcts[0])
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		fields = append(fields, "load_1", avg.Load1, "load_5", avg.Load5)
	}

	if vm.UsedPercent >= memWarnPercent {
		r.log.Warn("host memory pressure", fields...)
	} else {
		r.log.Debug("host resources", fields...)
	}
	return nil
}
