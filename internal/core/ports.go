package core

import "context"

// EnrichedTask is the LLM's expansion of a raw task description.
type EnrichedTask struct {
	Description         string
	CompletionCriteria  string
	EstimatedComplexity int
}

// TrajectoryJudgment is the monitoring verdict over an agent's recent output.
type TrajectoryJudgment struct {
	OnTrack bool
	Reason  string
}

// PromptRequest carries everything the provider needs to compose an agent's
// initial system prompt.
type PromptRequest struct {
	AgentID            string
	TaskID             string
	WorkflowID         string
	WorkingDirectory   string
	TaskDescription    string
	DoneDefinition     string
	CompletionCriteria string
	ResultCriteria     string
	AgentType          AgentType
	Phase              *Phase
	Memories           []Memory
	Feedback           string
}

// LLMProvider is the single capability interface to the language-model
// vendor. Implementations must degrade gracefully: enrichment and analysis
// failures return documented defaults rather than errors where noted.
type LLMProvider interface {
	// EnrichTask expands a raw description. On provider failure callers fall
	// back to identity enrichment with complexity 5.
	EnrichTask(ctx context.Context, raw, doneDefinition string, memories []Memory, projectContext string) (EnrichedTask, error)

	// GenerateEmbedding returns a vector for the given text.
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// AnalyzeTrajectory judges whether an agent's recent output is on track.
	// On provider failure callers use a neutral on-track judgment.
	AnalyzeTrajectory(ctx context.Context, transcript string) (TrajectoryJudgment, error)

	// ResolveTicketClarification produces a markdown arbitration for a
	// conflicting set of potential solutions.
	ResolveTicketClarification(ctx context.Context, conflict, background string, solutions []string, recentTickets []Ticket, recentTasks []Task) (string, error)

	// GenerateAgentPrompt composes the initial prompt for an agent.
	GenerateAgentPrompt(ctx context.Context, req PromptRequest) (string, error)

	// ProjectContext returns ambient project knowledge injected into
	// enrichment. May return empty.
	ProjectContext(ctx context.Context, workingDirectory string) (string, error)
}

// VectorHit is one similarity-search result, descending by score.
type VectorHit struct {
	ID      string
	Score   float64
	Payload map[string]string
}

// VectorIndex is the opaque similarity store for memories, tasks and tickets.
type VectorIndex interface {
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]string) error
	Search(ctx context.Context, collection string, vector []float32, k int, minScore float64) ([]VectorHit, error)
	Delete(ctx context.Context, collection, id string) error
}

// SessionRunner abstracts the terminal multiplexer. Message delivery is
// fire-and-forget: per session, sends are ordered; across sessions nothing
// is guaranteed.
type SessionRunner interface {
	NewSession(ctx context.Context, name, workDir string) error
	HasSession(ctx context.Context, name string) (bool, error)
	SendKeys(ctx context.Context, name, input string) error
	SendEnter(ctx context.Context, name string) error
	CapturePane(ctx context.Context, name string, lines int) (string, error)
	KillSession(ctx context.Context, name string) error
	ListSessions(ctx context.Context) ([]string, error)
}
