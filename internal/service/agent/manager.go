// Package agent spawns, restarts, messages and terminates the CLI agents
// living in terminal-multiplexer sessions. Each phase agent owns one git
// worktree; validators ride on the worktree of the agent under review.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/internal/adapters/cli"
	"github.com/hephaestus-ai/hephaestus/internal/config"
	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/events"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/store"
)

// glmBaseURL is the Anthropic-compatible endpoint GLM-family CLIs talk to.
const glmBaseURL = "https://api.z.ai/api/anthropic"

// finalCaptureLines bounds the scrollback copied into the agent log at
// termination.
const finalCaptureLines = 10000

// WorktreeEngine is the slice of the git engine the manager needs.
type WorktreeEngine interface {
	CreateAgentWorktree(ctx context.Context, agentID, parentAgentID, baseCommitSHA string) (string, error)
	MergeMainIntoBranch(ctx context.Context, agentID, worktreePath, branchName string) (*core.MergeResult, error)
	CleanupWorktree(ctx context.Context, agentID string) error
}

// Manager drives agent sessions.
type Manager struct {
	store     *store.Store
	worktrees WorktreeEngine
	llm       core.LLMProvider
	mux       core.SessionRunner
	agents    config.AgentsConfig
	prefix    string
	memTopK   int
	bus       *events.Bus
	log       *logging.Logger

	// Delivery pacing, overridable in tests.
	initWait       time.Duration
	chunkDelay     time.Duration
	verifyDelay    time.Duration
	verifyAttempts int
	chunkSize      int
}

// NewManager creates an agent manager.
func NewManager(st *store.Store, wt WorktreeEngine, provider core.LLMProvider, mux core.SessionRunner,
	agents config.AgentsConfig, tmux config.TmuxConfig, orch config.OrchestratorConfig,
	bus *events.Bus, log *logging.Logger) *Manager {

	prefix := tmux.SessionPrefix
	if prefix == "" {
		prefix = "hephaestus"
	}
	topK := orch.MemoryTopK
	if topK <= 0 {
		topK = 5
	}
	return &Manager{
		store:     st,
		worktrees: wt,
		llm:       provider,
		mux:       mux,
		agents:    agents,
		prefix:    prefix,
		memTopK:   topK,
		bus:       bus,
		log:       log,

		initWait:       3 * time.Second,
		chunkDelay:     300 * time.Millisecond,
		verifyDelay:    time.Second,
		verifyAttempts: 3,
		chunkSize:      2500,
	}
}

func (m *Manager) sessionName(agentID string) string {
	short := agentID
	if len(short) > 8 {
		short = short[:8]
	}
	return m.prefix + "_" + short
}

// resolveCLI merges phase overrides over the global agent defaults.
func (m *Manager) resolveCLI(phase *core.Phase) (cliType, model, glmTokenEnv string) {
	cliType = m.agents.DefaultCLITool
	model = m.agents.CLIModel
	glmTokenEnv = m.agents.GLMAPITokenEnv
	if phase != nil {
		if phase.CLI.CLITool != "" {
			cliType = phase.CLI.CLITool
		}
		if phase.CLI.CLIModel != "" {
			model = phase.CLI.CLIModel
		}
		if phase.CLI.GLMAPITokenEnv != "" {
			glmTokenEnv = phase.CLI.GLMAPITokenEnv
		}
	}
	if cliType == "" {
		cliType = "claude"
	}
	return cliType, model, glmTokenEnv
}

// SpawnForTask provisions worktree, session and prompt for a phase agent.
// On any failure after the agent row exists, cleanup cascades: the session is
// killed, the agent is terminated, the worktree removed, and the task fails.
func (m *Manager) SpawnForTask(ctx context.Context, task *core.Task) error {
	var phase *core.Phase
	if task.PhaseID != "" {
		p, err := m.store.GetPhase(ctx, task.PhaseID)
		if err != nil {
			return err
		}
		phase = p
	}

	cliType, model, glmTokenEnv := m.resolveCLI(phase)
	variant, err := cli.Lookup(cliType)
	if err != nil {
		return err
	}

	agentID := uuid.NewString()
	agent := core.NewAgent(agentID, cliType, core.AgentTypePhase, task.ID)
	agent.CLIModel = model
	agent.TmuxSessionName = m.sessionName(agentID)
	log := m.log.WithAgent(agentID).WithTask(task.ID)

	parentAgentID := ""
	if task.ParentTaskID != "" {
		if parent, err := m.store.GetTask(ctx, task.ParentTaskID); err == nil {
			parentAgentID = parent.AssignedAgentID
		}
	}

	worktreePath, err := m.worktrees.CreateAgentWorktree(ctx, agentID, parentAgentID, "")
	if err != nil {
		return m.failTask(ctx, task, fmt.Sprintf("Agent creation failed: %v", err), err)
	}
	wt, err := m.store.GetWorktree(ctx, agentID)
	if err != nil {
		return m.failTask(ctx, task, fmt.Sprintf("Agent creation failed: %v", err), err)
	}
	if _, err := m.worktrees.MergeMainIntoBranch(ctx, agentID, worktreePath, wt.BranchName); err != nil {
		_ = m.worktrees.CleanupWorktree(ctx, agentID)
		return m.failTask(ctx, task, fmt.Sprintf("Agent creation failed: %v", err), err)
	}

	prompt, err := m.composePrompt(ctx, agent, task, phase, "")
	if err != nil {
		_ = m.worktrees.CleanupWorktree(ctx, agentID)
		return m.failTask(ctx, task, fmt.Sprintf("Agent creation failed: %v", err), err)
	}
	agent.SystemPrompt = prompt

	if err := m.store.CreateAgent(ctx, agent); err != nil {
		_ = m.worktrees.CleanupWorktree(ctx, agentID)
		return m.failTask(ctx, task, fmt.Sprintf("Agent creation failed: %v", err), err)
	}

	env, err := m.assembleEnv(ctx, variant, task.WorkflowID, glmTokenEnv)
	if err != nil {
		return m.cascadeCleanup(ctx, agent, task, fmt.Sprintf("Agent creation failed: %v", err), err)
	}

	if err := m.launchSession(ctx, variant, agent, worktreePath, env, model, prompt); err != nil {
		return m.cascadeCleanup(ctx, agent, task, fmt.Sprintf("Agent creation failed: %v", err), err)
	}

	if err := m.deliverPrompt(ctx, variant, agent.TmuxSessionName, prompt, task.ID); err != nil {
		return m.cascadeCleanup(ctx, agent, task, fmt.Sprintf("Agent creation failed: %v", err), err)
	}

	agent.Status = core.AgentStatusWorking
	agent.LastActivity = time.Now().UTC()
	if err := m.store.UpdateAgent(ctx, agent); err != nil {
		return m.cascadeCleanup(ctx, agent, task, fmt.Sprintf("Agent creation failed: %v", err), err)
	}

	task.AssignedAgentID = agentID
	task.Status = core.TaskStatusInProgress
	if err := m.store.UpdateTask(ctx, task); err != nil {
		return m.cascadeCleanup(ctx, agent, task, fmt.Sprintf("Agent creation failed: %v", err), err)
	}

	log.Info("agent spawned", "cli_type", cliType, "session", agent.TmuxSessionName)
	return nil
}

// SpawnValidator starts a validator agent on the reviewed agent's worktree.
// Validators never count against capacity and get no worktree of their own.
func (m *Manager) SpawnValidator(ctx context.Context, task *core.Task, worktreePath string) (*core.Agent, error) {
	var phase *core.Phase
	if task.PhaseID != "" {
		if p, err := m.store.GetPhase(ctx, task.PhaseID); err == nil {
			phase = p
		}
	}
	cliType, model, glmTokenEnv := m.resolveCLI(phase)
	variant, err := cli.Lookup(cliType)
	if err != nil {
		return nil, err
	}

	agentID := uuid.NewString()
	agent := core.NewAgent(agentID, cliType, core.AgentTypeValidator, task.ID)
	agent.CLIModel = model
	agent.TmuxSessionName = m.sessionName(agentID)

	prompt := m.validatorPrompt(agent, task, worktreePath)
	agent.SystemPrompt = prompt
	if err := m.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}

	env, err := m.assembleEnv(ctx, variant, task.WorkflowID, glmTokenEnv)
	if err != nil {
		return nil, m.terminateAfterFailure(ctx, agent, err)
	}
	if err := m.launchSession(ctx, variant, agent, worktreePath, env, model, prompt); err != nil {
		return nil, m.terminateAfterFailure(ctx, agent, err)
	}
	if err := m.deliverPrompt(ctx, variant, agent.TmuxSessionName, prompt, task.ID); err != nil {
		return nil, m.terminateAfterFailure(ctx, agent, err)
	}

	agent.Status = core.AgentStatusWorking
	if err := m.store.UpdateAgent(ctx, agent); err != nil {
		return nil, err
	}
	m.log.WithAgent(agentID).WithTask(task.ID).Info("validator spawned")
	return agent, nil
}

// SpawnResultValidator starts a result validator judging a workflow-level
// deliverable against the definition's result criteria.
func (m *Manager) SpawnResultValidator(ctx context.Context, workflowID, resultID, criteria, submission, workDir string) (*core.Agent, error) {
	cliType, model, glmTokenEnv := m.resolveCLI(nil)
	variant, err := cli.Lookup(cliType)
	if err != nil {
		return nil, err
	}

	agentID := uuid.NewString()
	agent := core.NewAgent(agentID, cliType, core.AgentTypeResultValidator, "")
	agent.CLIModel = model
	agent.TmuxSessionName = m.sessionName(agentID)

	prompt, err := m.llm.GenerateAgentPrompt(ctx, core.PromptRequest{
		AgentID:          agentID,
		WorkflowID:       workflowID,
		WorkingDirectory: workDir,
		TaskDescription:  submission,
		ResultCriteria:   criteria,
		AgentType:        core.AgentTypeResultValidator,
	})
	if err != nil {
		return nil, err
	}
	agent.SystemPrompt = prompt
	if err := m.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}

	env, err := m.assembleEnv(ctx, variant, workflowID, glmTokenEnv)
	if err != nil {
		return nil, m.terminateAfterFailure(ctx, agent, err)
	}
	if err := m.launchSession(ctx, variant, agent, workDir, env, model, prompt); err != nil {
		return nil, m.terminateAfterFailure(ctx, agent, err)
	}
	if err := m.deliverPrompt(ctx, variant, agent.TmuxSessionName, prompt, resultID); err != nil {
		return nil, m.terminateAfterFailure(ctx, agent, err)
	}

	agent.Status = core.AgentStatusWorking
	if err := m.store.UpdateAgent(ctx, agent); err != nil {
		return nil, err
	}
	m.log.WithAgent(agentID).WithWorkflow(workflowID).Info("result validator spawned", "result_id", resultID)
	return agent, nil
}

func (m *Manager) composePrompt(ctx context.Context, agent *core.Agent, task *core.Task, phase *core.Phase, feedback string) (string, error) {
	memories, err := m.store.ListMemories(ctx, "", "", m.memTopK)
	if err != nil {
		memories = nil
	}
	mems := make([]core.Memory, 0, len(memories))
	for _, mm := range memories {
		mems = append(mems, *mm)
	}

	req := core.PromptRequest{
		AgentID:            agent.ID,
		TaskID:             task.ID,
		WorkflowID:         task.WorkflowID,
		WorkingDirectory:   task.WorkingDirectory,
		TaskDescription:    task.Description(),
		DoneDefinition:     task.DoneDefinition,
		CompletionCriteria: task.CompletionCriteria,
		AgentType:          core.AgentTypePhase,
		Phase:              phase,
		Memories:           mems,
		Feedback:           feedback,
	}
	return m.llm.GenerateAgentPrompt(ctx, req)
}

func (m *Manager) validatorPrompt(agent *core.Agent, task *core.Task, workDir string) string {
	prompt, err := m.llm.GenerateAgentPrompt(context.Background(), core.PromptRequest{
		AgentID:            agent.ID,
		TaskID:             task.ID,
		WorkflowID:         task.WorkflowID,
		WorkingDirectory:   workDir,
		TaskDescription:    task.Description(),
		DoneDefinition:     task.DoneDefinition,
		CompletionCriteria: task.CompletionCriteria,
		AgentType:          core.AgentTypeValidator,
	})
	if err != nil || prompt == "" {
		// Minimal role fallback when the provider cannot compose.
		return fmt.Sprintf("You are a validator agent %s reviewing task %s in %s.", agent.ID, task.ID, workDir)
	}
	return prompt
}

// assembleEnv builds shell export statements for the session. GLM-family
// variants get the Anthropic-compatible endpoint and token; claude-family
// variants under a human-review board get the approval tool timeout.
func (m *Manager) assembleEnv(ctx context.Context, variant cli.Variant, workflowID, glmTokenEnv string) (map[string]string, error) {
	env := map[string]string{}
	if variant.GLMFamily {
		if glmTokenEnv == "" {
			return nil, core.ErrSemantic(core.CodeMissingField, "glm_api_token_env is required for glm cli types")
		}
		token := os.Getenv(glmTokenEnv)
		if token == "" {
			return nil, core.ErrExecution(core.CodeSessionFailed,
				fmt.Sprintf("environment variable %s is empty", glmTokenEnv))
		}
		env["ANTHROPIC_BASE_URL"] = glmBaseURL
		env["ANTHROPIC_AUTH_TOKEN"] = token
	}
	if variant.ClaudeFamily && workflowID != "" {
		if board, err := m.store.GetBoardConfig(ctx, workflowID); err == nil && board.TicketHumanReview {
			timeout := board.ApprovalTimeoutSeconds
			if timeout <= 0 {
				timeout = 1800
			}
			env["MCP_TOOL_TIMEOUT"] = fmt.Sprintf("%d", timeout*1000)
		}
	}
	return env, nil
}

func (m *Manager) launchSession(ctx context.Context, variant cli.Variant, agent *core.Agent, workDir string, env map[string]string, model, prompt string) error {
	if err := m.mux.NewSession(ctx, agent.TmuxSessionName, workDir); err != nil {
		return err
	}
	for key, val := range env {
		if err := m.sendLine(ctx, agent.TmuxSessionName, fmt.Sprintf("export %s=%q", key, val)); err != nil {
			return err
		}
	}

	promptFile := ""
	if variant.PromptDelivery == cli.DeliveryFile {
		path, err := m.writePromptFile(agent.ID, prompt)
		if err != nil {
			return err
		}
		promptFile = path
	}
	if err := m.sendLine(ctx, agent.TmuxSessionName, variant.LaunchCommand(model, promptFile)); err != nil {
		return err
	}

	time.Sleep(m.initWait)
	alive, err := m.mux.HasSession(ctx, agent.TmuxSessionName)
	if err != nil {
		return err
	}
	if !alive {
		return core.ErrExecution(core.CodeSessionFailed, "session died during CLI startup")
	}
	return nil
}

func (m *Manager) writePromptFile(agentID, prompt string) (string, error) {
	dir := filepath.Join(os.TempDir(), "hephaestus-prompts")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("agent_%s_prompt.txt", agentID))
	if err := renameio.WriteFile(path, []byte(prompt), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// deliverPrompt types the initial message into the session. Typed variants
// get the prompt in chunks with a trailing Enter and up to verifyAttempts
// pane re-reads looking for the marker; file variants only need one Enter.
func (m *Manager) deliverPrompt(ctx context.Context, variant cli.Variant, session, prompt, marker string) error {
	if variant.PromptDelivery == cli.DeliveryFile {
		return m.mux.SendEnter(ctx, session)
	}

	for _, chunk := range chunkString(prompt, m.chunkSize) {
		if err := m.mux.SendKeys(ctx, session, chunk); err != nil {
			return core.ErrExecution(core.CodePromptDelivery, "typing prompt chunk").WithCause(err)
		}
		time.Sleep(m.chunkDelay)
	}
	if err := m.mux.SendEnter(ctx, session); err != nil {
		return core.ErrExecution(core.CodePromptDelivery, "submitting prompt").WithCause(err)
	}
	if marker == "" {
		return nil
	}

	for attempt := 1; attempt <= m.verifyAttempts; attempt++ {
		out, err := m.mux.CapturePane(ctx, session, 200)
		if err == nil && strings.Contains(out, marker) {
			return nil
		}
		time.Sleep(m.verifyDelay)
	}
	return core.ErrExecution(core.CodePromptDelivery,
		fmt.Sprintf("prompt marker not observed after %d attempts", m.verifyAttempts))
}

func chunkString(s string, size int) []string {
	if size <= 0 || len(s) <= size {
		return []string{s}
	}
	var chunks []string
	runes := []rune(s)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func (m *Manager) sendLine(ctx context.Context, session, line string) error {
	if err := m.mux.SendKeys(ctx, session, line); err != nil {
		return err
	}
	return m.mux.SendEnter(ctx, session)
}

// Terminate captures the session's final output into the agent log, kills the
// session and marks the agent terminated. Terminating a terminated agent is a
// no-op.
func (m *Manager) Terminate(ctx context.Context, agentID string) (*core.Agent, error) {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status == core.AgentStatusTerminated {
		return agent, nil
	}

	if out, err := m.mux.CapturePane(ctx, agent.TmuxSessionName, finalCaptureLines); err == nil && strings.TrimSpace(out) != "" {
		if err := m.store.AppendAgentLog(ctx, agentID, "final_output", out); err != nil {
			m.log.WithAgent(agentID).Warn("persisting final output failed", "error", err)
		}
	}
	if err := m.mux.KillSession(ctx, agent.TmuxSessionName); err != nil {
		m.log.WithAgent(agentID).Warn("killing session failed", "error", err)
	}

	now := time.Now().UTC()
	agent.Status = core.AgentStatusTerminated
	agent.TerminatedAt = &now
	if err := m.store.UpdateAgent(ctx, agent); err != nil {
		return nil, err
	}
	m.log.WithAgent(agentID).Info("agent terminated")
	return agent, nil
}

// Restart tears the session down and rebuilds it under `<prefix>_<id8>_r`,
// then reminds the agent of its task.
func (m *Manager) Restart(ctx context.Context, agentID string) error {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status == core.AgentStatusTerminated {
		return core.ErrState(core.CodeInvalidState, "cannot restart a terminated agent")
	}
	variant, err := cli.Lookup(agent.CLIType)
	if err != nil {
		return err
	}

	task, err := m.store.GetTask(ctx, agent.CurrentTaskID)
	if err != nil {
		return err
	}
	var phase *core.Phase
	if task.PhaseID != "" {
		if p, perr := m.store.GetPhase(ctx, task.PhaseID); perr == nil {
			phase = p
		}
	}
	_, _, glmTokenEnv := m.resolveCLI(phase)

	workDir := task.WorkingDirectory
	if wt, werr := m.store.GetWorktree(ctx, agentID); werr == nil {
		workDir = wt.WorktreePath
	}

	_ = m.mux.KillSession(ctx, agent.TmuxSessionName)
	agent.TmuxSessionName = m.sessionName(agentID) + "_r"
	agent.Status = core.AgentStatusWorking
	agent.LastActivity = time.Now().UTC()
	if err := m.store.UpdateAgent(ctx, agent); err != nil {
		return err
	}

	env, err := m.assembleEnv(ctx, variant, task.WorkflowID, glmTokenEnv)
	if err != nil {
		return err
	}
	if err := m.launchSession(ctx, variant, agent, workDir, env, agent.CLIModel, agent.SystemPrompt); err != nil {
		return err
	}

	reminder := fmt.Sprintf("Your session was restarted. Continue task %s: %s", task.ID, task.Description())
	if err := m.sendLine(ctx, agent.TmuxSessionName, variant.FormatMessage(reminder)); err != nil {
		return err
	}
	m.log.WithAgent(agentID).Info("agent restarted", "session", agent.TmuxSessionName)
	return nil
}

// Broadcast fans a prefixed message out to every live agent except the
// sender. Delivery is fire-and-forget per session; the count of reached
// sessions is returned.
func (m *Manager) Broadcast(ctx context.Context, senderID, message string) (int, error) {
	agents, err := m.store.ListLiveAgents(ctx)
	if err != nil {
		return 0, err
	}
	line := fmt.Sprintf("[AGENT %s BROADCAST]: %s", senderID, message)

	delivered := 0
	for _, a := range agents {
		if a.ID == senderID {
			continue
		}
		if err := m.deliverMessage(ctx, a, line); err != nil {
			m.log.WithAgent(a.ID).Warn("broadcast delivery failed", "error", err)
			continue
		}
		delivered++
	}

	if err := m.store.AppendAgentLog(ctx, senderID, "broadcast", line); err != nil {
		m.log.WithAgent(senderID).Warn("recording broadcast failed", "error", err)
	}
	m.bus.Publish(events.NewAgentBroadcastEvent(m.workflowOf(ctx, senderID), senderID, message))
	return delivered, nil
}

// SendDirect delivers a one-to-one message into the recipient's session.
func (m *Manager) SendDirect(ctx context.Context, senderID, recipientID, message string) error {
	recipient, err := m.store.GetAgent(ctx, recipientID)
	if err != nil {
		return err
	}
	if !recipient.IsAlive() {
		return core.ErrState(core.CodeInvalidState, "recipient agent is terminated")
	}
	line := fmt.Sprintf("[AGENT %s TO AGENT %s]: %s", senderID, recipientID, message)
	if err := m.deliverMessage(ctx, recipient, line); err != nil {
		return err
	}
	if err := m.store.AppendAgentLog(ctx, senderID, "direct_message", line); err != nil {
		m.log.WithAgent(senderID).Warn("recording direct message failed", "error", err)
	}
	m.bus.Publish(events.NewAgentDirectMessageEvent(m.workflowOf(ctx, senderID), senderID, recipientID, message))
	return nil
}

func (m *Manager) deliverMessage(ctx context.Context, recipient *core.Agent, line string) error {
	variant, err := cli.Lookup(recipient.CLIType)
	if err != nil {
		return err
	}
	return m.sendLine(ctx, recipient.TmuxSessionName, variant.FormatMessage(line))
}

func (m *Manager) workflowOf(ctx context.Context, agentID string) string {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil || agent.CurrentTaskID == "" {
		return ""
	}
	task, err := m.store.GetTask(ctx, agent.CurrentTaskID)
	if err != nil {
		return ""
	}
	return task.WorkflowID
}

// cascadeCleanup unwinds a partial spawn: kill session, terminate agent,
// remove worktree, fail the task.
func (m *Manager) cascadeCleanup(ctx context.Context, agent *core.Agent, task *core.Task, reason string, cause error) error {
	_ = m.mux.KillSession(ctx, agent.TmuxSessionName)

	now := time.Now().UTC()
	agent.Status = core.AgentStatusTerminated
	agent.TerminatedAt = &now
	if err := m.store.UpdateAgent(ctx, agent); err != nil {
		m.log.WithAgent(agent.ID).Warn("terminating agent during cleanup failed", "error", err)
	}
	if err := m.worktrees.CleanupWorktree(ctx, agent.ID); err != nil {
		m.log.WithAgent(agent.ID).Warn("worktree cleanup failed", "error", err)
	}
	return m.failTask(ctx, task, reason, cause)
}

func (m *Manager) failTask(ctx context.Context, task *core.Task, reason string, cause error) error {
	now := time.Now().UTC()
	task.Status = core.TaskStatusFailed
	task.AssignedAgentID = ""
	task.FailureReason = reason
	task.CompletedAt = &now
	if err := m.store.UpdateTask(ctx, task); err != nil {
		m.log.WithTask(task.ID).Error("marking task failed", "error", err)
	}
	m.bus.Publish(events.NewTaskCompletedEvent(task.WorkflowID, task.ID, string(core.TaskStatusFailed)))
	m.log.WithTask(task.ID).Error("agent spawn failed", "reason", reason)
	if cause != nil {
		return core.ErrExecution(core.CodeSessionFailed, reason).WithCause(cause)
	}
	return core.ErrExecution(core.CodeSessionFailed, reason)
}

func (m *Manager) terminateAfterFailure(ctx context.Context, agent *core.Agent, cause error) error {
	_ = m.mux.KillSession(ctx, agent.TmuxSessionName)
	now := time.Now().UTC()
	agent.Status = core.AgentStatusTerminated
	agent.TerminatedAt = &now
	_ = m.store.UpdateAgent(ctx, agent)
	return cause
}

// Health classifies a probed agent session.
type Health string

const (
	HealthOK      Health = "healthy"
	HealthStuck   Health = "stuck"
	HealthMissing Health = "missing"
)

const probeCaptureLines = 50

// ProbeAgent inspects a live agent's session. Missing sessions and captures
// matching the CLI's known stuck states are reported for the watchdog to act
// on; anything else counts as healthy.
func (m *Manager) ProbeAgent(ctx context.Context, agentID string) (Health, error) {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return "", err
	}
	if !agent.IsAlive() {
		return "", core.ErrState(core.CodeInvalidState, "cannot probe a terminated agent")
	}

	exists, err := m.mux.HasSession(ctx, agent.TmuxSessionName)
	if err != nil {
		return "", err
	}
	if !exists {
		return HealthMissing, nil
	}

	capture, err := m.mux.CapturePane(ctx, agent.TmuxSessionName, probeCaptureLines)
	if err != nil {
		return "", err
	}
	variant, err := cli.Lookup(agent.CLIType)
	if err != nil {
		return HealthOK, nil
	}
	if variant.LooksStuck(capture) {
		return HealthStuck, nil
	}
	return HealthOK, nil
}

// ForwardFeedback types validator feedback into a kept-alive agent's session.
func (m *Manager) ForwardFeedback(ctx context.Context, agentID, feedback string) error {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("[VALIDATOR FEEDBACK]: %s Your task returned to needs_work; address the feedback and report done again.", feedback)
	return m.deliverMessage(ctx, agent, line)
}
