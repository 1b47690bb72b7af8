// Package queue implements admission control over phase agents: at most
// max_concurrent_agents run at once, everything else waits in a priority
// queue drained on completions and by the background sweep.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hephaestus-ai/hephaestus/internal/config"
	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/events"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/store"
)

// Spawner starts an agent for a dequeued task. Implemented by the agent
// manager; declared here to break the package cycle.
type Spawner interface {
	SpawnForTask(ctx context.Context, task *core.Task) error
}

// Service enforces the concurrency limit and owns queue transitions.
type Service struct {
	store   *store.Store
	bus     *events.Bus
	spawner Spawner
	limit   int
	log     *logging.Logger
}

// NewService creates the queue service. The spawner is attached later via
// SetSpawner because the agent manager is constructed after the queue.
func NewService(st *store.Store, bus *events.Bus, cfg config.OrchestratorConfig, log *logging.Logger) *Service {
	limit := cfg.MaxConcurrentAgents
	if limit <= 0 {
		limit = 4
	}
	return &Service{store: st, bus: bus, limit: limit, log: log}
}

// SetSpawner wires the agent manager in after construction.
func (s *Service) SetSpawner(sp Spawner) { s.spawner = sp }

// HasCapacity reports whether a new phase agent may start right now.
func (s *Service) HasCapacity(ctx context.Context) (bool, error) {
	n, err := s.store.CountLivePhaseAgents(ctx)
	if err != nil {
		return false, err
	}
	return n < s.limit, nil
}

// Admit decides whether a ready task runs or waits. Boosted tasks always run.
// Returns true with the queue position when the task was queued.
func (s *Service) Admit(ctx context.Context, task *core.Task) (queued bool, position int, err error) {
	if !task.PriorityBoosted {
		ok, err := s.HasCapacity(ctx)
		if err != nil {
			return false, 0, err
		}
		if !ok {
			pos, err := s.enqueue(ctx, task)
			if err != nil {
				return false, 0, err
			}
			return true, pos, nil
		}
	}
	task.Status = core.TaskStatusAssigned
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return false, 0, err
	}
	return false, 0, nil
}

func (s *Service) enqueue(ctx context.Context, task *core.Task) (int, error) {
	now := time.Now().UTC()
	task.Status = core.TaskStatusQueued
	task.QueuedAt = &now
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return 0, err
	}
	pos, err := s.Position(ctx, task.ID)
	if err != nil {
		pos = 0
	}
	s.bus.Publish(events.NewTaskQueuedEvent(task.WorkflowID, task.ID, pos))
	s.log.WithTask(task.ID).Info("task queued", "position", pos, "priority", task.Priority)
	return pos, nil
}

// Position returns the 1-based dequeue position of a queued task, or 0 when
// the task is not queued.
func (s *Service) Position(ctx context.Context, taskID string) (int, error) {
	queued, err := s.store.ListQueuedTasks(ctx)
	if err != nil {
		return 0, err
	}
	for i, t := range queued {
		if t.ID == taskID {
			return i + 1, nil
		}
	}
	return 0, nil
}

// ProcessQueue dequeues and spawns queued tasks while capacity lasts. Called
// after agent terminations and by the background sweep.
func (s *Service) ProcessQueue(ctx context.Context) error {
	if s.spawner == nil {
		return core.ErrState(core.CodeInvalidState, "queue spawner not wired")
	}
	for {
		ok, err := s.HasCapacity(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		queued, err := s.store.ListQueuedTasks(ctx)
		if err != nil {
			return err
		}
		if len(queued) == 0 {
			return nil
		}
		if err := s.dequeue(ctx, queued[0]); err != nil {
			return err
		}
	}
}

func (s *Service) dequeue(ctx context.Context, task *core.Task) error {
	task.Status = core.TaskStatusAssigned
	task.QueuedAt = nil
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return err
	}
	if err := s.spawner.SpawnForTask(ctx, task); err != nil {
		return err
	}
	s.bus.Publish(events.NewTaskDequeuedEvent(task.WorkflowID, task.ID, task.AssignedAgentID))
	s.log.WithTask(task.ID).Info("task dequeued")
	return nil
}

// Bump boosts a queued task and starts it immediately, even past the limit.
func (s *Service) Bump(ctx context.Context, taskID string) (*core.Task, error) {
	if s.spawner == nil {
		return nil, core.ErrState(core.CodeInvalidState, "queue spawner not wired")
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != core.TaskStatusQueued {
		return nil, core.ErrSemantic(core.CodeQueueEntryNotFound,
			fmt.Sprintf("task %s is not queued (status %s)", taskID, task.Status))
	}
	task.PriorityBoosted = true
	if err := s.dequeue(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Cancel removes a queued task: status failed, documented failure reason.
func (s *Service) Cancel(ctx context.Context, taskID string) (*core.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != core.TaskStatusQueued {
		return nil, core.ErrSemantic(core.CodeQueueEntryNotFound,
			fmt.Sprintf("task %s is not queued (status %s)", taskID, task.Status))
	}
	now := time.Now().UTC()
	task.Status = core.TaskStatusFailed
	task.FailureReason = "Cancelled by user from queue"
	task.QueuedAt = nil
	task.CompletedAt = &now
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	s.bus.Publish(events.NewTaskCancelledEvent(task.WorkflowID, task.ID, task.FailureReason))
	s.log.WithTask(task.ID).Info("queued task cancelled")
	return task, nil
}

// Status summarizes current capacity for the queue endpoint.
type Status struct {
	ActiveAgents   int          `json:"active_agents"`
	MaxAgents      int          `json:"max_agents"`
	AvailableSlots int          `json:"available_slots"`
	QueuedTasks    []QueuedTask `json:"queued_tasks"`
}

// QueuedTask is one queue entry in dequeue order.
type QueuedTask struct {
	TaskID   string `json:"task_id"`
	Position int    `json:"position"`
	Priority string `json:"priority"`
	Boosted  bool   `json:"priority_boosted"`
	QueuedAt string `json:"queued_at,omitempty"`
}

// QueueStatus reports active agents, free slots and the ordered queue.
func (s *Service) QueueStatus(ctx context.Context) (*Status, error) {
	active, err := s.store.CountLivePhaseAgents(ctx)
	if err != nil {
		return nil, err
	}
	queued, err := s.store.ListQueuedTasks(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		ActiveAgents:   active,
		MaxAgents:      s.limit,
		AvailableSlots: max(0, s.limit-active),
		QueuedTasks:    make([]QueuedTask, 0, len(queued)),
	}
	for i, t := range queued {
		entry := QueuedTask{
			TaskID:   t.ID,
			Position: i + 1,
			Priority: string(t.Priority),
			Boosted:  t.PriorityBoosted,
		}
		if t.QueuedAt != nil {
			entry.QueuedAt = t.QueuedAt.UTC().Format(time.RFC3339)
		}
		st.QueuedTasks = append(st.QueuedTasks, entry)
	}
	return st, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
