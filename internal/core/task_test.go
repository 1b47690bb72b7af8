package core

import (
	"testing"
	"time"
)

func TestNewTask_Defaults(t *testing.T) {
	task := NewTask("t-1", "fix the login bug", "tests pass", "agent-0", "wf-1")

	if task.Status != TaskStatusPending {
		t.Errorf("expected pending, got %s", task.Status)
	}
	if task.Priority != PriorityMedium {
		t.Errorf("expected medium priority, got %s", task.Priority)
	}
	if err := task.Validate(); err != nil {
		t.Errorf("valid task should pass validation: %v", err)
	}
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr bool
	}{
		{"valid", func(task *Task) {}, false},
		{"missing id", func(task *Task) { task.ID = "" }, true},
		{"missing description", func(task *Task) { task.RawDescription = "" }, true},
		{"missing workflow", func(task *Task) { task.WorkflowID = "" }, true},
		{"duplicated with agent", func(task *Task) {
			task.Status = TaskStatusDuplicated
			task.AssignedAgentID = "agent-1"
		}, true},
		{"blocked with agent", func(task *Task) {
			task.Status = TaskStatusBlocked
			task.AssignedAgentID = "agent-1"
		}, true},
		{"blocked without agent", func(task *Task) {
			task.Status = TaskStatusBlocked
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := NewTask("t-1", "desc", "done", "agent-0", "wf-1")
			tt.mutate(task)
			err := task.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTask_Description_Fallback(t *testing.T) {
	task := NewTask("t-1", "raw", "done", "agent-0", "wf-1")
	if task.Description() != "raw" {
		t.Errorf("expected raw fallback, got %q", task.Description())
	}
	task.EnrichedDescription = "enriched"
	if task.Description() != "enriched" {
		t.Errorf("expected enriched, got %q", task.Description())
	}
}

func TestTask_IsTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusDone, TaskStatusFailed, TaskStatusDuplicated}
	open := []TaskStatus{
		TaskStatusPending, TaskStatusQueued, TaskStatusBlocked, TaskStatusAssigned,
		TaskStatusInProgress, TaskStatusUnderReview, TaskStatusValidationInProgress,
		TaskStatusNeedsWork,
	}

	task := NewTask("t-1", "desc", "done", "agent-0", "wf-1")
	for _, s := range terminal {
		task.Status = s
		if !task.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range open {
		task.Status = s
		if task.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestPriority_Weight(t *testing.T) {
	if PriorityHigh.Weight() <= PriorityMedium.Weight() {
		t.Error("high must outrank medium")
	}
	if PriorityMedium.Weight() <= PriorityLow.Weight() {
		t.Error("medium must outrank low")
	}
}

func TestTask_IsRestartable(t *testing.T) {
	task := NewTask("t-1", "desc", "done", "agent-0", "wf-1")
	task.Status = TaskStatusDone
	now := time.Now()
	task.CompletedAt = &now
	if !task.IsRestartable() {
		t.Error("done task should be restartable")
	}
	task.Status = TaskStatusInProgress
	if task.IsRestartable() {
		t.Error("in_progress task should not be restartable")
	}
}
