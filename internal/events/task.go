package events

// Task event types.
const (
	TypeTaskCreated   = "task_created"
	TypeTaskQueued    = "task_queued"
	TypeTaskDequeued  = "task_dequeued"
	TypeTaskBlocked   = "task_blocked"
	TypeTaskCompleted = "task_completed"
	TypeTaskCancelled = "task_cancelled"
	TypeTaskRestarted = "task_restarted"
)

// TaskEvent reports a task lifecycle transition.
type TaskEvent struct {
	BaseEvent
	TaskID        string   `json:"task_id"`
	Status        string   `json:"status,omitempty"`
	AgentID       string   `json:"agent_id,omitempty"`
	QueuePosition int      `json:"queue_position,omitempty"`
	Blockers      []string `json:"blockers,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// NewTaskCreatedEvent signals a freshly persisted task.
func NewTaskCreatedEvent(workflowID, taskID, status string) *TaskEvent {
	return &TaskEvent{
		BaseEvent: NewBaseEvent(TypeTaskCreated, workflowID),
		TaskID:    taskID,
		Status:    status,
	}
}

// NewTaskQueuedEvent signals a task held back by admission control.
func NewTaskQueuedEvent(workflowID, taskID string, position int) *TaskEvent {
	return &TaskEvent{
		BaseEvent:     NewBaseEvent(TypeTaskQueued, workflowID),
		TaskID:        taskID,
		Status:        "queued",
		QueuePosition: position,
	}
}

// NewTaskDequeuedEvent signals a queued task leaving the queue for a slot.
func NewTaskDequeuedEvent(workflowID, taskID, agentID string) *TaskEvent {
	return &TaskEvent{
		BaseEvent: NewBaseEvent(TypeTaskDequeued, workflowID),
		TaskID:    taskID,
		Status:    "assigned",
		AgentID:   agentID,
	}
}

// NewTaskBlockedEvent signals a task gated behind unresolved tickets.
func NewTaskBlockedEvent(workflowID, taskID string, blockers []string) *TaskEvent {
	return &TaskEvent{
		BaseEvent: NewBaseEvent(TypeTaskBlocked, workflowID),
		TaskID:    taskID,
		Status:    "blocked",
		Blockers:  blockers,
	}
}

// NewTaskCompletedEvent signals a task reaching done or failed.
func NewTaskCompletedEvent(workflowID, taskID, status string) *TaskEvent {
	return &TaskEvent{
		BaseEvent: NewBaseEvent(TypeTaskCompleted, workflowID),
		TaskID:    taskID,
		Status:    status,
	}
}

// NewTaskCancelledEvent signals a queued task removed by the user.
func NewTaskCancelledEvent(workflowID, taskID, reason string) *TaskEvent {
	return &TaskEvent{
		BaseEvent: NewBaseEvent(TypeTaskCancelled, workflowID),
		TaskID:    taskID,
		Status:    "failed",
		Reason:    reason,
	}
}

// NewTaskRestartedEvent signals a done or failed task being replayed.
func NewTaskRestartedEvent(workflowID, taskID string) *TaskEvent {
	return &TaskEvent{
		BaseEvent: NewBaseEvent(TypeTaskRestarted, workflowID),
		TaskID:    taskID,
	}
}
