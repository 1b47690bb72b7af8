package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

// ComposeInitialPrompt builds the first message delivered into a new agent's
// session. Every labeled field is always present so the agent can echo the
// required identifiers back in tool calls.
func ComposeInitialPrompt(req core.PromptRequest) string {
	switch req.AgentType {
	case core.AgentTypeValidator:
		return composeValidatorPrompt(req)
	case core.AgentTypeResultValidator:
		return composeResultValidatorPrompt(req)
	case core.AgentTypeDiagnostic, core.AgentTypeMonitor:
		return composeRolePrompt(req)
	}
	return composePhasePrompt(req)
}

func composePhasePrompt(req core.PromptRequest) string {
	var b strings.Builder

	b.WriteString("You are an autonomous coding agent in a multi-agent orchestration.\n\n")
	fmt.Fprintf(&b, "Agent ID (required in every tool call): %s\n", req.AgentID)
	fmt.Fprintf(&b, "Task ID (required in every tool call): %s\n", req.TaskID)
	fmt.Fprintf(&b, "Workflow ID: %s\n", orPlaceholder(req.WorkflowID))
	fmt.Fprintf(&b, "Working Directory: %s\n", req.WorkingDirectory)

	fmt.Fprintf(&b, "\n## Your Task\n%s\n", req.TaskDescription)
	if req.DoneDefinition != "" {
		fmt.Fprintf(&b, "\n## Definition of Done\n%s\n", req.DoneDefinition)
	}
	if req.CompletionCriteria != "" {
		fmt.Fprintf(&b, "\n## Completion Criteria\n%s\n", req.CompletionCriteria)
	}
	if req.ResultCriteria != "" {
		fmt.Fprintf(&b, "\n## Workflow-Level Goal\n%s\n", req.ResultCriteria)
	}

	if req.Phase != nil {
		writePhaseContext(&b, req.Phase)
	}

	b.WriteString(`
## Available Tools
- update_task_status: report done or failed with a summary and key learnings
- save_memory: persist a discovery for other agents (types: error_fix, discovery, decision, learning, warning, codebase_knowledge)
- create_task: spawn follow-up work (include workflow_id)
- get_tasks: inspect sibling tasks
- broadcast_message: message every live agent
- send_message: message one agent
- submit_result: submit the workflow-level deliverable when the goal is met

## Memory Guidelines
Save memories for non-obvious discoveries other agents will need: fixed errors,
architectural decisions, surprising constraints. Do not save routine progress.

## Communication
Incoming messages are prefixed [AGENT <id> BROADCAST]: or [AGENT <id> TO AGENT <you>]:.
Reply via broadcast_message or send_message, never by editing shared files.
`)

	if req.Feedback != "" {
		fmt.Fprintf(&b, "\n## Validator Feedback on Previous Attempt\n%s\n", req.Feedback)
	}
	return b.String()
}

func writePhaseContext(b *strings.Builder, phase *core.Phase) {
	fmt.Fprintf(b, "\n## Phase %d: %s\n", phase.Order, phase.Name)
	if phase.Description != "" {
		fmt.Fprintf(b, "%s\n", phase.Description)
	}
	if len(phase.DoneDefinitions) > 0 {
		b.WriteString("\nPhase done definitions:\n")
		for _, d := range phase.DoneDefinitions {
			fmt.Fprintf(b, "- %s\n", d)
		}
	}
	if len(phase.Outputs) > 0 {
		b.WriteString("\nExpected outputs:\n")
		for _, o := range phase.Outputs {
			fmt.Fprintf(b, "- %s\n", o)
		}
	}
	if phase.AdditionalNotes != "" {
		fmt.Fprintf(b, "\nNotes: %s\n", phase.AdditionalNotes)
	}
	if phase.NextSteps != "" {
		fmt.Fprintf(b, "\nAfter this phase: %s\n", phase.NextSteps)
	}
}

func composeValidatorPrompt(req core.PromptRequest) string {
	var b strings.Builder
	b.WriteString("You are a validation agent. Review the work committed in this worktree; do not modify files.\n\n")
	fmt.Fprintf(&b, "Agent ID (required in every tool call): %s\n", req.AgentID)
	fmt.Fprintf(&b, "Task ID under review: %s\n", req.TaskID)
	fmt.Fprintf(&b, "Workflow ID: %s\n", orPlaceholder(req.WorkflowID))
	fmt.Fprintf(&b, "Working Directory: %s\n", req.WorkingDirectory)
	fmt.Fprintf(&b, "\n## Task Being Validated\n%s\n", req.TaskDescription)
	if req.DoneDefinition != "" {
		fmt.Fprintf(&b, "\n## Definition of Done\n%s\n", req.DoneDefinition)
	}
	if req.CompletionCriteria != "" {
		fmt.Fprintf(&b, "\n## Completion Criteria\n%s\n", req.CompletionCriteria)
	}
	b.WriteString(`
Check the implementation against the definition of done and completion criteria.
When finished call give_validation_review with task_id, validator_agent_id,
validation_passed and feedback. Failing reviews must include actionable feedback.
`)
	return b.String()
}

func composeResultValidatorPrompt(req core.PromptRequest) string {
	var b strings.Builder
	b.WriteString("You are a result validation agent checking a workflow-level deliverable.\n\n")
	fmt.Fprintf(&b, "Agent ID (required in every tool call): %s\n", req.AgentID)
	fmt.Fprintf(&b, "Workflow ID: %s\n", orPlaceholder(req.WorkflowID))
	fmt.Fprintf(&b, "Working Directory: %s\n", req.WorkingDirectory)
	if req.ResultCriteria != "" {
		fmt.Fprintf(&b, "\n## Result Criteria\n%s\n", req.ResultCriteria)
	}
	fmt.Fprintf(&b, "\n## Submitted Result\n%s\n", req.TaskDescription)
	b.WriteString(`
Judge whether the submitted result satisfies the criteria. When finished call
submit_result_validation with result_id, validation_passed and feedback.
`)
	return b.String()
}

func composeRolePrompt(req core.PromptRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s agent.\n\n", req.AgentType)
	fmt.Fprintf(&b, "Agent ID: %s\n", req.AgentID)
	if req.TaskID != "" {
		fmt.Fprintf(&b, "Task ID: %s\n", req.TaskID)
	}
	fmt.Fprintf(&b, "Working Directory: %s\n", req.WorkingDirectory)
	if req.TaskDescription != "" {
		fmt.Fprintf(&b, "\n%s\n", req.TaskDescription)
	}
	return b.String()
}

func orPlaceholder(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// dumpPrompt writes a debug copy of the composed prompt atomically so a
// half-written dump is never observed.
func dumpPrompt(agentID, prompt string) error {
	dir := filepath.Join(os.TempDir(), "hephaestus-prompts")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("agent_%s.txt", agentID))
	return renameio.WriteFile(path, []byte(prompt), 0o600)
}
