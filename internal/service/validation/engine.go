// Package validation runs the review loop: done tasks with validation
// enabled are committed, reviewed by a validator agent sharing the original
// worktree, and either merged on pass or sent back with feedback. It also
// judges workflow-level result submissions.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/events"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/service/phase"
	"github.com/hephaestus-ai/hephaestus/internal/service/queue"
	"github.com/hephaestus-ai/hephaestus/internal/store"
)

// Agents is the slice of the agent manager the validation loop drives.
type Agents interface {
	SpawnValidator(ctx context.Context, task *core.Task, worktreePath string) (*core.Agent, error)
	SpawnResultValidator(ctx context.Context, workflowID, resultID, criteria, submission, workDir string) (*core.Agent, error)
	Terminate(ctx context.Context, agentID string) (*core.Agent, error)
	ForwardFeedback(ctx context.Context, agentID, feedback string) error
}

// Worktrees is the slice of the git engine used around reviews.
type Worktrees interface {
	CommitForValidation(ctx context.Context, agentID string, iteration int, message string) (*core.CommitResult, error)
	MergeToParent(ctx context.Context, agentID string) (*core.MergeResult, error)
}

// Engine owns validation state transitions for tasks and workflow results.
type Engine struct {
	store     *store.Store
	agents    Agents
	worktrees Worktrees
	queue     *queue.Service
	phases    *phase.Engine
	bus       *events.Bus
	log       *logging.Logger
}

// NewEngine creates the validation engine.
func NewEngine(st *store.Store, agents Agents, worktrees Worktrees,
	q *queue.Service, phases *phase.Engine, bus *events.Bus, log *logging.Logger) *Engine {
	return &Engine{store: st, agents: agents, worktrees: worktrees,
		queue: q, phases: phases, bus: bus, log: log}
}

// StartTaskValidation moves a done-reporting task into review. The original
// agent stays alive on its worktree; the validator spawns beside it. A
// validator spawn failure fails the task and terminates the original agent.
func (e *Engine) StartTaskValidation(ctx context.Context, task *core.Task) error {
	originalAgentID := task.AssignedAgentID
	if originalAgentID == "" {
		return core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("task %s has no assigned agent to validate", task.ID))
	}
	worktree, err := e.store.GetWorktree(ctx, originalAgentID)
	if err != nil {
		return err
	}

	task.Status = core.TaskStatusUnderReview
	task.ValidationIteration++
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	original, err := e.store.GetAgent(ctx, originalAgentID)
	if err != nil {
		return err
	}
	original.KeptAliveForValidation = true
	if err := e.store.UpdateAgent(ctx, original); err != nil {
		return err
	}

	commitMsg := fmt.Sprintf("Work for task %s (validation round %d)", task.ID, task.ValidationIteration)
	if _, err := e.worktrees.CommitForValidation(ctx, originalAgentID, task.ValidationIteration, commitMsg); err != nil {
		return e.failValidation(ctx, task, originalAgentID,
			fmt.Sprintf("Committing work for validation failed: %v", err))
	}

	validator, err := e.agents.SpawnValidator(ctx, task, worktree.WorktreePath)
	if err != nil {
		return e.failValidation(ctx, task, originalAgentID,
			fmt.Sprintf("Validator spawn failed: %v", err))
	}

	e.bus.Publish(events.NewValidationStartedEvent(task.WorkflowID, task.ID, validator.ID, task.ValidationIteration))
	e.log.WithTask(task.ID).WithAgent(validator.ID).
		Info("validation started", "iteration", task.ValidationIteration)
	return nil
}

// failValidation aborts the review: the task fails and the original agent
// is torn down so its capacity slot frees up.
func (e *Engine) failValidation(ctx context.Context, task *core.Task, originalAgentID, reason string) error {
	now := time.Now().UTC()
	task.Status = core.TaskStatusFailed
	task.FailureReason = reason
	task.CompletedAt = &now
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return err
	}
	if _, err := e.agents.Terminate(ctx, originalAgentID); err != nil {
		e.log.WithAgent(originalAgentID).Warn("terminating original agent failed", "error", err)
	}
	e.bus.Publish(events.NewTaskCompletedEvent(task.WorkflowID, task.ID, string(core.TaskStatusFailed)))
	if err := e.queue.ProcessQueue(ctx); err != nil {
		e.log.Warn("queue drain after validation failure failed", "error", err)
	}
	return core.ErrExecution(core.CodeSessionFailed, reason)
}

// Review is a validator's verdict over one task iteration.
type Review struct {
	TaskID           string
	ValidatorAgentID string
	Passed           bool
	Feedback         string
}

// SubmitReview applies a validator verdict. Pass merges the work to the
// parent branch, verifies pending results and terminates both agents. Fail
// keeps the original agent alive with the feedback and terminates only the
// validator.
func (e *Engine) SubmitReview(ctx context.Context, rev Review) (*core.Task, error) {
	task, err := e.store.GetTask(ctx, rev.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Status != core.TaskStatusUnderReview {
		return nil, core.ErrSemantic(core.CodeInvalidState,
			fmt.Sprintf("task %s is %s, not under review", task.ID, task.Status))
	}
	validator, err := e.store.GetAgent(ctx, rev.ValidatorAgentID)
	if err != nil {
		return nil, err
	}
	if validator.AgentType != core.AgentTypeValidator {
		return nil, &core.DomainError{
			Category: core.ErrCatAuth,
			Code:     core.CodeNotValidator,
			Message:  fmt.Sprintf("agent %s is not a validator", rev.ValidatorAgentID),
		}
	}

	review := &core.ValidationReview{
		ID:               uuid.NewString(),
		TaskID:           task.ID,
		ValidatorAgentID: rev.ValidatorAgentID,
		Iteration:        task.ValidationIteration,
		Passed:           rev.Passed,
		Feedback:         rev.Feedback,
		CreatedAt:        time.Now().UTC(),
	}
	if err := e.store.CreateValidationReview(ctx, review); err != nil {
		return nil, err
	}

	if rev.Passed {
		return task, e.acceptTask(ctx, task, rev.ValidatorAgentID)
	}
	return task, e.returnForRework(ctx, task, rev.ValidatorAgentID, rev.Feedback)
}

func (e *Engine) acceptTask(ctx context.Context, task *core.Task, validatorID string) error {
	originalAgentID := task.AssignedAgentID
	now := time.Now().UTC()
	task.Status = core.TaskStatusDone
	task.CompletedAt = &now
	task.LastValidationFeedback = ""
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	e.verifyResults(ctx, task.ID)

	var mergeSHA string
	if res, err := e.worktrees.MergeToParent(ctx, originalAgentID); err != nil {
		e.log.WithTask(task.ID).Error("merge to parent failed after validation", "error", err)
	} else {
		mergeSHA = res.CommitSHA
	}
	if task.TicketID != "" && mergeSHA != "" {
		e.linkMergeCommit(ctx, task, originalAgentID, mergeSHA)
	}

	for _, agentID := range []string{validatorID, originalAgentID} {
		if _, err := e.agents.Terminate(ctx, agentID); err != nil {
			e.log.WithAgent(agentID).Warn("terminating agent failed", "error", err)
		}
	}

	e.bus.Publish(events.NewValidationPassedEvent(task.WorkflowID, task.ID, task.ValidationIteration))
	e.bus.Publish(events.NewTaskCompletedEvent(task.WorkflowID, task.ID, string(core.TaskStatusDone)))
	e.log.WithTask(task.ID).Info("validation passed", "iteration", task.ValidationIteration)

	if task.PhaseID != "" {
		if _, err := e.phases.AdvanceIfComplete(ctx, task.PhaseID); err != nil {
			e.log.WithTask(task.ID).Warn("phase advance check failed", "error", err)
		}
	}
	if err := e.queue.ProcessQueue(ctx); err != nil {
		e.log.Warn("queue drain after validation failed", "error", err)
	}
	return nil
}

// verifyResults flips this task's pending results to verified.
func (e *Engine) verifyResults(ctx context.Context, taskID string) {
	results, err := e.store.ListAgentResults(ctx, taskID)
	if err != nil {
		e.log.WithTask(taskID).Warn("listing task results failed", "error", err)
		return
	}
	for _, r := range results {
		if r.ValidationStatus != core.ResultPendingValidation {
			continue
		}
		r.ValidationStatus = core.ResultVerified
		if err := e.store.UpdateAgentResult(ctx, r); err != nil {
			e.log.WithTask(taskID).Warn("verifying result failed", "result_id", r.ID, "error", err)
		}
	}
}

func (e *Engine) returnForRework(ctx context.Context, task *core.Task, validatorID, feedback string) error {
	task.Status = core.TaskStatusNeedsWork
	task.LastValidationFeedback = feedback
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return err
	}
	if err := e.agents.ForwardFeedback(ctx, task.AssignedAgentID, feedback); err != nil {
		e.log.WithTask(task.ID).Warn("forwarding feedback failed", "error", err)
	}
	if _, err := e.agents.Terminate(ctx, validatorID); err != nil {
		e.log.WithAgent(validatorID).Warn("terminating validator failed", "error", err)
	}
	e.bus.Publish(events.NewValidationFailedEvent(task.WorkflowID, task.ID, feedback, task.ValidationIteration))
	e.log.WithTask(task.ID).Info("validation failed, returned for rework",
		"iteration", task.ValidationIteration)
	return nil
}

// ReportResults records a per-task artifact an agent produced.
func (e *Engine) ReportResults(ctx context.Context, agentID, taskID, resultType, markdownPath string, extraFiles []string, summary string) (*core.AgentResult, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.AssignedAgentID != agentID {
		return nil, core.ErrForbidden(
			fmt.Sprintf("agent %s is not assigned to task %s", agentID, taskID))
	}
	result := &core.AgentResult{
		ID:               uuid.NewString(),
		TaskID:           taskID,
		AgentID:          agentID,
		ResultType:       resultType,
		MarkdownFilePath: markdownPath,
		ExtraFiles:       extraFiles,
		Summary:          summary,
		ValidationStatus: core.ResultPendingValidation,
		CreatedAt:        time.Now().UTC(),
	}
	if err := e.store.CreateAgentResult(ctx, result); err != nil {
		return nil, err
	}
	e.log.WithTask(taskID).WithAgent(agentID).Info("result reported", "result_type", resultType)
	return result, nil
}

// SubmitWorkflowResult records a workflow-level deliverable and spawns a
// result validator judging it against the definition's criteria.
func (e *Engine) SubmitWorkflowResult(ctx context.Context, workflowID, submittedBy, markdownPath, explanation string) (*core.WorkflowResult, error) {
	exec, err := e.store.GetWorkflowExecution(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.phases.ConfigFor(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !cfg.HasResult {
		return nil, core.ErrSemantic(core.CodeInvalidState,
			fmt.Sprintf("workflow %s does not accept result submissions", workflowID))
	}

	result := &core.WorkflowResult{
		ID:               uuid.NewString(),
		WorkflowID:       workflowID,
		SubmittedBy:      submittedBy,
		MarkdownFilePath: markdownPath,
		Explanation:      explanation,
		ValidationStatus: core.ResultPendingValidation,
		CreatedAt:        time.Now().UTC(),
	}
	if err := e.store.CreateWorkflowResult(ctx, result); err != nil {
		return nil, err
	}
	e.bus.Publish(events.NewResultSubmittedEvent(workflowID, result.ID))

	submission := fmt.Sprintf("Result file: %s\n\nSubmitter's explanation: %s", markdownPath, explanation)
	if _, err := e.agents.SpawnResultValidator(ctx, workflowID, result.ID,
		cfg.ResultCriteria, submission, exec.WorkingDirectory); err != nil {
		result.ValidationStatus = core.ResultRejected
		result.Feedback = fmt.Sprintf("Result validator spawn failed: %v", err)
		if uerr := e.store.UpdateWorkflowResult(ctx, result); uerr != nil {
			return nil, uerr
		}
		return nil, err
	}
	e.log.WithWorkflow(workflowID).Info("workflow result submitted", "result_id", result.ID)
	return result, nil
}

// ResultVerdict is a result validator's judgment over a workflow deliverable.
type ResultVerdict struct {
	ResultID         string
	ValidatorAgentID string
	Passed           bool
	Feedback         string
}

// SubmitResultValidation applies a result validator's verdict. A pass under
// the stop_all policy ends the whole workflow: queued tasks are cancelled,
// live agents terminated and the execution marked completed by result.
func (e *Engine) SubmitResultValidation(ctx context.Context, verdict ResultVerdict) (*core.WorkflowResult, error) {
	result, err := e.store.GetWorkflowResult(ctx, verdict.ResultID)
	if err != nil {
		return nil, err
	}
	if result.ValidationStatus != core.ResultPendingValidation {
		return nil, core.ErrSemantic(core.CodeInvalidState,
			fmt.Sprintf("result %s already judged: %s", result.ID, result.ValidationStatus))
	}

	if verdict.Passed {
		result.ValidationStatus = core.ResultVerified
	} else {
		result.ValidationStatus = core.ResultRejected
	}
	result.Feedback = verdict.Feedback
	if err := e.store.UpdateWorkflowResult(ctx, result); err != nil {
		return nil, err
	}

	if _, err := e.agents.Terminate(ctx, verdict.ValidatorAgentID); err != nil {
		e.log.WithAgent(verdict.ValidatorAgentID).Warn("terminating result validator failed", "error", err)
	}
	e.bus.Publish(events.NewResultValidationCompletedEvent(
		result.WorkflowID, result.ID, verdict.Passed, verdict.Feedback))

	if !verdict.Passed {
		e.log.WithWorkflow(result.WorkflowID).Info("workflow result rejected", "result_id", result.ID)
		return result, nil
	}

	exec, err := e.store.GetWorkflowExecution(ctx, result.WorkflowID)
	if err != nil {
		return nil, err
	}
	exec.ResultFound = true
	exec.ResultID = result.ID

	cfg, err := e.phases.ConfigFor(ctx, result.WorkflowID)
	if err != nil {
		return nil, err
	}
	if cfg.OnResultFound == core.OnResultStopAll {
		if err := e.stopWorkflow(ctx, exec); err != nil {
			return nil, err
		}
	} else if err := e.store.UpdateWorkflowExecution(ctx, exec); err != nil {
		return nil, err
	}
	e.log.WithWorkflow(result.WorkflowID).Info("workflow result verified",
		"result_id", result.ID, "policy", cfg.OnResultFound)
	return result, nil
}

// stopWorkflow tears one execution down after a verified result: queued
// tasks fail with a documented reason, live agents terminate, the execution
// completes.
func (e *Engine) stopWorkflow(ctx context.Context, exec *core.WorkflowExecution) error {
	queued, err := e.store.ListQueuedTasks(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, task := range queued {
		if task.WorkflowID != exec.ID {
			continue
		}
		task.Status = core.TaskStatusFailed
		task.FailureReason = "Workflow completed by verified result"
		task.QueuedAt = nil
		task.CompletedAt = &now
		if err := e.store.UpdateTask(ctx, task); err != nil {
			e.log.WithTask(task.ID).Warn("cancelling queued task failed", "error", err)
		}
	}

	live, err := e.store.ListLiveAgents(ctx)
	if err != nil {
		return err
	}
	for _, agent := range live {
		task, terr := e.store.GetTask(ctx, agent.CurrentTaskID)
		if terr != nil || task.WorkflowID != exec.ID {
			continue
		}
		if _, err := e.agents.Terminate(ctx, agent.ID); err != nil {
			e.log.WithAgent(agent.ID).Warn("terminating agent on workflow stop failed", "error", err)
		}
	}

	exec.Status = core.WorkflowStatusCompleted
	exec.CompletedByResult = true
	exec.CompletedAt = &now
	if err := e.store.UpdateWorkflowExecution(ctx, exec); err != nil {
		return err
	}
	return nil
}

func (e *Engine) linkMergeCommit(ctx context.Context, task *core.Task, agentID, sha string) {
	link := &core.TicketCommit{
		ID:        uuid.NewString(),
		TicketID:  task.TicketID,
		CommitSHA: sha,
		LinkedBy:  agentID,
		CreatedAt: time.Now().UTC(),
	}
	history := &core.TicketHistory{
		TicketID:    task.TicketID,
		ActorID:     agentID,
		ChangeType:  "commit_link",
		NewValue:    fmt.Sprintf("%q", sha),
		Description: fmt.Sprintf("merge commit %.8s linked after validation of task %s", sha, task.ID),
	}
	if err := e.store.LinkTicketCommit(ctx, link, history); err != nil {
		e.log.WithTask(task.ID).Warn("linking merge commit failed", "error", err)
		return
	}
	e.bus.Publish(events.NewCommitLinkedEvent(task.WorkflowID, task.TicketID, sha))
}
