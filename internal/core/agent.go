package core

import "time"

// AgentStatus represents the lifecycle state of a running CLI agent.
type AgentStatus string

const (
	AgentStatusIdle       AgentStatus = "idle"
	AgentStatusWorking    AgentStatus = "working"
	AgentStatusStuck      AgentStatus = "stuck"
	AgentStatusTerminated AgentStatus = "terminated"
)

// AgentType distinguishes the role an agent plays.
type AgentType string

const (
	AgentTypePhase           AgentType = "phase"
	AgentTypeValidator       AgentType = "validator"
	AgentTypeResultValidator AgentType = "result_validator"
	AgentTypeMonitor         AgentType = "monitor"
	AgentTypeDiagnostic      AgentType = "diagnostic"
)

// Agent is one running CLI wrapped in a terminal-multiplexer session.
type Agent struct {
	ID                     string
	SystemPrompt           string
	Status                 AgentStatus
	CLIType                string
	CLIModel               string
	TmuxSessionName        string
	CurrentTaskID          string
	AgentType              AgentType
	KeptAliveForValidation bool
	LastActivity           time.Time
	HealthCheckFailures    int
	CreatedAt              time.Time
	TerminatedAt           *time.Time
}

// NewAgent creates an idle agent bound to a task.
func NewAgent(id, cliType string, agentType AgentType, taskID string) *Agent {
	return &Agent{
		ID:            id,
		Status:        AgentStatusIdle,
		CLIType:       cliType,
		AgentType:     agentType,
		CurrentTaskID: taskID,
		LastActivity:  time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
	}
}

// IsAlive reports whether the agent still occupies a session.
func (a *Agent) IsAlive() bool {
	return a.Status != AgentStatusTerminated
}

// CountsAgainstCapacity reports whether the agent consumes a concurrency slot.
// Only phase agents are admission-controlled; validators and monitors ride along.
func (a *Agent) CountsAgainstCapacity() bool {
	return a.AgentType == AgentTypePhase && a.IsAlive()
}

// ShortID returns the first 8 characters of the agent ID, used in session names.
func (a *Agent) ShortID() string {
	if len(a.ID) <= 8 {
		return a.ID
	}
	return a.ID[:8]
}
