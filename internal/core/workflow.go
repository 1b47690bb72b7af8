package core

import "time"

// WorkflowDefinition is a reusable workflow template. The ID is chosen by the
// caller; re-registering the same ID updates the definition in place.
type WorkflowDefinition struct {
	ID             string
	Name           string
	Description    string
	PhasesConfig   []PhaseTemplate
	WorkflowConfig WorkflowConfig
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PhaseTemplate describes one phase inside a definition. Textual fields may
// contain {key} placeholders substituted from launch params at execution start.
type PhaseTemplate struct {
	Name             string       `json:"name" yaml:"name"`
	Description      string       `json:"description" yaml:"description"`
	DoneDefinitions  []string     `json:"done_definitions" yaml:"done_definitions"`
	AdditionalNotes  string       `json:"additional_notes" yaml:"additional_notes"`
	Outputs          []string     `json:"outputs" yaml:"outputs"`
	NextSteps        string       `json:"next_steps" yaml:"next_steps"`
	WorkingDirectory string       `json:"working_directory" yaml:"working_directory"`
	Validation       string       `json:"validation" yaml:"validation"`
	CLI              CLIOverrides `json:"cli" yaml:"cli"`
}

// CLIOverrides carries per-phase agent launch overrides. Zero values defer
// to the global defaults.
type CLIOverrides struct {
	CLITool        string `json:"cli_tool" yaml:"cli_tool"`
	CLIModel       string `json:"cli_model" yaml:"cli_model"`
	GLMAPITokenEnv string `json:"glm_api_token_env" yaml:"glm_api_token_env"`
}

// Merge overlays non-empty override fields on top of the receiver.
func (o CLIOverrides) Merge(over CLIOverrides) CLIOverrides {
	out := o
	if over.CLITool != "" {
		out.CLITool = over.CLITool
	}
	if over.CLIModel != "" {
		out.CLIModel = over.CLIModel
	}
	if over.GLMAPITokenEnv != "" {
		out.GLMAPITokenEnv = over.GLMAPITokenEnv
	}
	return out
}

// ResultPolicy controls what happens when a workflow-level result validates.
type ResultPolicy string

const (
	OnResultStopAll   ResultPolicy = "stop_all"
	OnResultDoNothing ResultPolicy = "do_nothing"
)

// WorkflowConfig carries feature flags and the launch template of a definition.
type WorkflowConfig struct {
	HasResult      bool         `json:"has_result" yaml:"has_result"`
	ResultCriteria string       `json:"result_criteria" yaml:"result_criteria"`
	OnResultFound  ResultPolicy `json:"on_result_found" yaml:"on_result_found"`
	EnableTickets  bool         `json:"enable_tickets" yaml:"enable_tickets"`
	Board          *BoardConfig `json:"board_config,omitempty" yaml:"board_config,omitempty"`
}

// Validate checks definition-level invariants.
func (c WorkflowConfig) Validate() error {
	if c.HasResult && c.ResultCriteria == "" {
		return ErrValidation(CodeResultCriteria, "result_criteria is required when has_result is true")
	}
	return nil
}

// WorkflowStatus represents the state of one execution.
type WorkflowStatus string

const (
	WorkflowStatusActive    WorkflowStatus = "active"
	WorkflowStatusPaused    WorkflowStatus = "paused"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// WorkflowExecution is one run of a definition. Every task and ticket carries
// exactly one workflow (execution) ID; executions never share phases.
type WorkflowExecution struct {
	ID                string
	DefinitionID      string
	Description       string
	WorkingDirectory  string
	LaunchParams      map[string]interface{}
	Status            WorkflowStatus
	ResultFound       bool
	ResultID          string
	CompletedByResult bool
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// NewWorkflowExecution creates an active execution of a definition.
func NewWorkflowExecution(id, definitionID, description string) *WorkflowExecution {
	return &WorkflowExecution{
		ID:           id,
		DefinitionID: definitionID,
		Description:  description,
		Status:       WorkflowStatusActive,
		LaunchParams: map[string]interface{}{},
		CreatedAt:    time.Now().UTC(),
	}
}

// Validate checks definition invariants.
func (d *WorkflowDefinition) Validate() error {
	if d.ID == "" {
		return ErrValidation("DEFINITION_ID_REQUIRED", "definition id cannot be empty")
	}
	if d.Name == "" {
		return ErrValidation("DEFINITION_NAME_REQUIRED", "definition name cannot be empty")
	}
	if len(d.PhasesConfig) == 0 {
		return ErrValidation("PHASES_REQUIRED", "phases_config cannot be empty")
	}
	return d.WorkflowConfig.Validate()
}
