// Package phase owns workflow definitions, execution start, and phase
// resolution for incoming tasks. Executions never share phases; every lookup
// carries an explicit workflow id.
package phase

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/internal/config"
	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/store"
)

// Engine registers definitions, materializes executions and resolves phases.
type Engine struct {
	store  *store.Store
	boards config.BoardDefaults
	log    *logging.Logger
}

// NewEngine creates a phase engine.
func NewEngine(st *store.Store, boards config.BoardDefaults, log *logging.Logger) *Engine {
	return &Engine{store: st, boards: boards, log: log}
}

// RegisterDefinition validates and upserts a definition. Re-registering the
// same id updates it in place; running executions keep their materialized
// phases.
func (e *Engine) RegisterDefinition(ctx context.Context, def *core.WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if err := e.store.SaveWorkflowDefinition(ctx, def); err != nil {
		return err
	}
	e.log.Info("workflow definition registered", "definition_id", def.ID, "phases", len(def.PhasesConfig))
	return nil
}

// GetDefinition loads a definition by id.
func (e *Engine) GetDefinition(ctx context.Context, id string) (*core.WorkflowDefinition, error) {
	return e.store.GetWorkflowDefinition(ctx, id)
}

// ListDefinitions returns all registered definitions.
func (e *Engine) ListDefinitions(ctx context.Context) ([]*core.WorkflowDefinition, error) {
	return e.store.ListWorkflowDefinitions(ctx)
}

// StartExecution creates a WorkflowExecution and one Phase plus a pending
// PhaseExecution per template entry. Textual fields have {key} placeholders
// substituted from launchParams before persisting; the first phase execution
// starts in_progress.
func (e *Engine) StartExecution(ctx context.Context, definitionID, description, workingDirectory string, launchParams map[string]interface{}) (*core.WorkflowExecution, error) {
	def, err := e.store.GetWorkflowDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if launchParams == nil {
		launchParams = map[string]interface{}{}
	}

	exec := core.NewWorkflowExecution(uuid.NewString(), def.ID, description)
	exec.WorkingDirectory = workingDirectory
	exec.LaunchParams = launchParams

	now := time.Now().UTC()
	phases := make([]*core.Phase, 0, len(def.PhasesConfig))
	progress := make([]*core.PhaseExecution, 0, len(def.PhasesConfig))
	for i, tpl := range def.PhasesConfig {
		p := &core.Phase{
			ID:               uuid.NewString(),
			WorkflowID:       exec.ID,
			Order:            i + 1,
			Name:             substitute(tpl.Name, launchParams),
			Description:      substitute(tpl.Description, launchParams),
			DoneDefinitions:  substituteAll(tpl.DoneDefinitions, launchParams),
			AdditionalNotes:  substitute(tpl.AdditionalNotes, launchParams),
			Outputs:          substituteAll(tpl.Outputs, launchParams),
			NextSteps:        substitute(tpl.NextSteps, launchParams),
			WorkingDirectory: substitute(tpl.WorkingDirectory, launchParams),
			Validation:       tpl.Validation,
			CLI:              tpl.CLI,
			CreatedAt:        now,
		}
		pe := &core.PhaseExecution{
			ID:         uuid.NewString(),
			PhaseID:    p.ID,
			WorkflowID: exec.ID,
			Order:      p.Order,
			Status:     core.PhaseExecPending,
		}
		if i == 0 {
			pe.Status = core.PhaseExecInProgress
			started := now
			pe.StartedAt = &started
		}
		phases = append(phases, p)
		progress = append(progress, pe)
	}

	if err := e.store.CreateWorkflowExecution(ctx, exec, phases, progress); err != nil {
		return nil, err
	}

	if def.WorkflowConfig.EnableTickets {
		if err := e.ensureBoard(ctx, exec.ID, def.WorkflowConfig.Board); err != nil {
			return nil, err
		}
	}

	e.log.WithWorkflow(exec.ID).Info("workflow execution started",
		"definition_id", def.ID, "phases", len(phases))
	return exec, nil
}

func (e *Engine) ensureBoard(ctx context.Context, workflowID string, board *core.BoardConfig) error {
	b := board
	if b == nil {
		b = &core.BoardConfig{
			Columns:                core.DefaultBoardColumns,
			InitialStatus:          core.DefaultBoardColumns[0],
			TicketHumanReview:      e.boards.DefaultHumanReview,
			ApprovalTimeoutSeconds: e.boards.DefaultApprovalTimeout,
		}
	}
	if len(b.Columns) == 0 {
		b.Columns = core.DefaultBoardColumns
	}
	if b.InitialStatus == "" {
		b.InitialStatus = b.Columns[0]
	}
	if b.ApprovalTimeoutSeconds == 0 {
		b.ApprovalTimeoutSeconds = e.boards.DefaultApprovalTimeout
	}
	b.WorkflowID = workflowID
	return e.store.SaveBoardConfig(ctx, b)
}

// GetExecution loads one execution.
func (e *Engine) GetExecution(ctx context.Context, id string) (*core.WorkflowExecution, error) {
	return e.store.GetWorkflowExecution(ctx, id)
}

// ListExecutions returns executions, optionally filtered by status.
func (e *Engine) ListExecutions(ctx context.Context, status core.WorkflowStatus) ([]*core.WorkflowExecution, error) {
	return e.store.ListWorkflowExecutions(ctx, status)
}

// ConfigFor returns the workflow configuration governing an execution.
func (e *Engine) ConfigFor(ctx context.Context, workflowID string) (core.WorkflowConfig, error) {
	exec, err := e.store.GetWorkflowExecution(ctx, workflowID)
	if err != nil {
		return core.WorkflowConfig{}, err
	}
	def, err := e.store.GetWorkflowDefinition(ctx, exec.DefinitionID)
	if err != nil {
		return core.WorkflowConfig{}, err
	}
	return def.WorkflowConfig, nil
}

// ResolveRequest carries everything phase resolution may consult. WorkflowID
// is mandatory; there is no process-wide current workflow.
type ResolveRequest struct {
	WorkflowID    string
	PhaseID       string
	Order         int
	CallerAgentID string
}

// ResolvePhase picks the phase for a new task: explicit phase id, then
// (workflow, order), then the caller agent's current task phase, then the
// lowest-order phase execution still pending or in progress.
func (e *Engine) ResolvePhase(ctx context.Context, req ResolveRequest) (*core.Phase, error) {
	if req.WorkflowID == "" {
		return nil, core.ErrValidation("WORKFLOW_ID_REQUIRED", "workflow_id cannot be empty")
	}

	if req.PhaseID != "" {
		p, err := e.store.GetPhase(ctx, req.PhaseID)
		if err != nil {
			return nil, err
		}
		if p.WorkflowID != req.WorkflowID {
			return nil, core.ErrSemantic(core.CodePhaseNotFound,
				fmt.Sprintf("phase %s does not belong to workflow %s", req.PhaseID, req.WorkflowID))
		}
		return p, nil
	}

	if req.Order > 0 {
		phases, err := e.store.ListPhases(ctx, req.WorkflowID)
		if err != nil {
			return nil, err
		}
		for _, p := range phases {
			if p.Order == req.Order {
				return p, nil
			}
		}
		return nil, core.ErrSemantic(core.CodePhaseNotFound,
			fmt.Sprintf("workflow %s has no phase with order %d", req.WorkflowID, req.Order))
	}

	if req.CallerAgentID != "" {
		if p, ok := e.callerPhase(ctx, req.CallerAgentID, req.WorkflowID); ok {
			return p, nil
		}
	}

	return e.activePhase(ctx, req.WorkflowID)
}

func (e *Engine) callerPhase(ctx context.Context, agentID, workflowID string) (*core.Phase, bool) {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil || agent.CurrentTaskID == "" {
		return nil, false
	}
	task, err := e.store.GetTask(ctx, agent.CurrentTaskID)
	if err != nil || task.PhaseID == "" || task.WorkflowID != workflowID {
		return nil, false
	}
	p, err := e.store.GetPhase(ctx, task.PhaseID)
	if err != nil {
		return nil, false
	}
	return p, true
}

func (e *Engine) activePhase(ctx context.Context, workflowID string) (*core.Phase, error) {
	execs, err := e.store.ListPhaseExecutions(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for _, pe := range execs {
		if pe.Status == core.PhaseExecPending || pe.Status == core.PhaseExecInProgress {
			return e.store.GetPhase(ctx, pe.PhaseID)
		}
	}
	return nil, core.ErrSemantic(core.CodePhaseNotFound,
		fmt.Sprintf("workflow %s has no pending or in-progress phase", workflowID))
}

// AdvanceIfComplete declares the phase complete when every task in it reached
// a terminal state and at least one finished done, then moves the next
// pending phase execution to in_progress. Returns true when it advanced.
func (e *Engine) AdvanceIfComplete(ctx context.Context, phaseID string) (bool, error) {
	tasks, err := e.store.ListTasksByPhase(ctx, phaseID)
	if err != nil {
		return false, err
	}
	anyDone := false
	for _, t := range tasks {
		if t.IsIncomplete() {
			return false, nil
		}
		if t.Status == core.TaskStatusDone {
			anyDone = true
		}
	}
	if !anyDone {
		return false, nil
	}

	p, err := e.store.GetPhase(ctx, phaseID)
	if err != nil {
		return false, err
	}
	execs, err := e.store.ListPhaseExecutions(ctx, p.WorkflowID)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	advanced := false
	for _, pe := range execs {
		if pe.PhaseID == phaseID && pe.Status != core.PhaseExecCompleted {
			pe.Status = core.PhaseExecCompleted
			pe.CompletedAt = &now
			if err := e.store.UpdatePhaseExecution(ctx, pe); err != nil {
				return false, err
			}
			advanced = true
			continue
		}
		if advanced && pe.Status == core.PhaseExecPending {
			pe.Status = core.PhaseExecInProgress
			pe.StartedAt = &now
			if err := e.store.UpdatePhaseExecution(ctx, pe); err != nil {
				return false, err
			}
			e.log.WithWorkflow(p.WorkflowID).Info("phase advanced",
				"completed_phase", p.Name, "next_order", pe.Order)
			break
		}
	}
	return advanced, nil
}

// ListPhases returns the phases of an execution in order.
func (e *Engine) ListPhases(ctx context.Context, workflowID string) ([]*core.Phase, error) {
	return e.store.ListPhases(ctx, workflowID)
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// substitute replaces {key} placeholders with the stringified launch param.
// Unknown keys become the empty string.
func substitute(s string, params map[string]interface{}) string {
	if s == "" {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := params[key]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
}

func substituteAll(items []string, params map[string]interface{}) []string {
	if len(items) == 0 {
		return items
	}
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = substitute(s, params)
	}
	return out
}
