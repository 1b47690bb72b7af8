// Package task owns the task lifecycle: the creation pipeline (ticket gate,
// phase resolution, enrichment, dedup, admission), status reporting from
// agents, restarts, and blocked-task synchronization.
package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/internal/config"
	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/events"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/service/phase"
	"github.com/hephaestus-ai/hephaestus/internal/service/queue"
	"github.com/hephaestus-ai/hephaestus/internal/store"
	"github.com/hephaestus-ai/hephaestus/internal/vector"
)

// RootAgentID identifies the SDK/operator caller exempt from the ticket gate.
const RootAgentID = "sdk-root"

// maxRelatedTasks bounds the near-duplicate candidates stored on a task.
const maxRelatedTasks = 5

// AgentRunner is the slice of the agent manager the task service drives.
type AgentRunner interface {
	SpawnForTask(ctx context.Context, task *core.Task) error
	Terminate(ctx context.Context, agentID string) (*core.Agent, error)
}

// Merger lands an agent's branch back on trunk.
type Merger interface {
	MergeToParent(ctx context.Context, agentID string) (*core.MergeResult, error)
}

// Validator runs the review loop for tasks with validation enabled.
type Validator interface {
	StartTaskValidation(ctx context.Context, task *core.Task) error
}

// Service coordinates tasks across phases, queue, agents and tickets.
type Service struct {
	store     *store.Store
	vec       core.VectorIndex
	llm       core.LLMProvider
	phases    *phase.Engine
	queue     *queue.Service
	agents    AgentRunner
	merger    Merger
	validator Validator
	dedup     config.DedupConfig
	topK      int
	defaulted string // server-default working directory
	bus       *events.Bus
	log       *logging.Logger
}

// NewService creates the task service. The validator is attached later via
// SetValidator because the validation engine is constructed after tasks.
func NewService(st *store.Store, vec core.VectorIndex, provider core.LLMProvider,
	phases *phase.Engine, q *queue.Service, agents AgentRunner, merger Merger,
	dedup config.DedupConfig, orch config.OrchestratorConfig, defaultWorkDir string,
	bus *events.Bus, log *logging.Logger) *Service {

	topK := orch.MemoryTopK
	if topK <= 0 {
		topK = 5
	}
	return &Service{
		store:     st,
		vec:       vec,
		llm:       provider,
		phases:    phases,
		queue:     q,
		agents:    agents,
		merger:    merger,
		dedup:     dedup,
		topK:      topK,
		defaulted: defaultWorkDir,
		bus:       bus,
		log:       log,
	}
}

// SetValidator wires the validation engine in after construction.
func (s *Service) SetValidator(v Validator) { s.validator = v }

// IsRootCaller reports whether the caller bypasses the ticket gate.
func IsRootCaller(agentID string) bool {
	return agentID == RootAgentID || strings.HasPrefix(agentID, "sdk-")
}

// CreateRequest carries one create_task call.
type CreateRequest struct {
	Description      string
	DoneDefinition   string
	CallerAgentID    string
	WorkflowID       string
	TicketID         string
	PhaseID          string
	Order            int
	Priority         core.TaskPriority
	ParentTaskID     string
	WorkingDirectory string
}

// CreateResult reports what happened to the new task.
type CreateResult struct {
	Task          *core.Task
	Queued        bool
	QueuePosition int
	Blocked       bool
	Blockers      []string
	Duplicated    bool
}

// Create runs the task creation pipeline.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	task := core.NewTask(uuid.NewString(), req.Description, req.DoneDefinition, req.CallerAgentID, req.WorkflowID)
	task.TicketID = req.TicketID
	task.ParentTaskID = req.ParentTaskID
	if req.Priority != "" {
		task.Priority = req.Priority
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}

	// Ticket gate: once any board exists, non-root callers must name a ticket.
	if task.TicketID == "" && !IsRootCaller(req.CallerAgentID) {
		anyBoard, err := s.store.AnyBoardConfig(ctx)
		if err != nil {
			return nil, err
		}
		if anyBoard {
			return nil, core.ErrSemantic(core.CodeTicketRequired,
				"ticket_id is required while ticket tracking is enabled")
		}
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	s.bus.Publish(events.NewTaskCreatedEvent(task.WorkflowID, task.ID, string(task.Status)))
	log := s.log.WithTask(task.ID).WithWorkflow(task.WorkflowID)

	if task.TicketID != "" {
		blocked, blockers, err := s.ticketBlocks(ctx, task.TicketID)
		if err != nil {
			return nil, err
		}
		if blocked {
			task.Status = core.TaskStatusBlocked
			if err := s.store.UpdateTask(ctx, task); err != nil {
				return nil, err
			}
			s.bus.Publish(events.NewTaskBlockedEvent(task.WorkflowID, task.ID, blockers))
			log.Info("task blocked by ticket", "ticket_id", task.TicketID, "blockers", blockers)
			return &CreateResult{Task: task, Blocked: true, Blockers: blockers}, nil
		}
	}

	resolved, err := s.phases.ResolvePhase(ctx, phase.ResolveRequest{
		WorkflowID:    task.WorkflowID,
		PhaseID:       req.PhaseID,
		Order:         req.Order,
		CallerAgentID: req.CallerAgentID,
	})
	if err != nil {
		return nil, err
	}
	task.PhaseID = resolved.ID
	task.ValidationEnabled = resolved.ValidationEnabled()
	task.WorkingDirectory = firstNonEmpty(req.WorkingDirectory, resolved.WorkingDirectory, s.defaulted)

	s.enrich(ctx, task)

	if dup := s.deduplicate(ctx, task); dup {
		task.Status = core.TaskStatusDuplicated
		if err := s.store.UpdateTask(ctx, task); err != nil {
			return nil, err
		}
		log.Info("task deduplicated", "duplicate_of", task.DuplicateOfTaskID, "score", task.SimilarityScore)
		return &CreateResult{Task: task, Duplicated: true}, nil
	}

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	queued, pos, err := s.queue.Admit(ctx, task)
	if err != nil {
		return nil, err
	}
	if queued {
		return &CreateResult{Task: task, Queued: true, QueuePosition: pos}, nil
	}
	if err := s.agents.SpawnForTask(ctx, task); err != nil {
		return nil, err
	}
	return &CreateResult{Task: task}, nil
}

// ticketBlocks reports whether a ticket refuses new tasks: unresolved
// transitive blockers or a closed human-review gate.
func (s *Service) ticketBlocks(ctx context.Context, ticketID string) (bool, []string, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return false, nil, err
	}
	blockers, err := s.unresolvedBlockers(ctx, ticket, map[string]bool{ticket.ID: true})
	if err != nil {
		return false, nil, err
	}
	if len(blockers) > 0 {
		return true, blockers, nil
	}
	if !ticket.IsReadyForWork() {
		return true, nil, nil
	}
	return false, nil, nil
}

func (s *Service) unresolvedBlockers(ctx context.Context, ticket *core.Ticket, visited map[string]bool) ([]string, error) {
	var out []string
	for _, id := range ticket.BlockedByTicketIDs {
		if visited[id] {
			continue
		}
		visited[id] = true
		blocker, err := s.store.GetTicket(ctx, id)
		if err != nil {
			if core.IsCategory(err, core.ErrCatNotFound) {
				continue
			}
			return nil, err
		}
		if blocker.IsResolved {
			continue
		}
		out = append(out, blocker.ID)
		nested, err := s.unresolvedBlockers(ctx, blocker, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

// enrich runs the LLM enrichment with a deterministic fallback: identity
// description and complexity 5 when the provider fails.
func (s *Service) enrich(ctx context.Context, task *core.Task) {
	memories := s.recallMemories(ctx, task.RawDescription)
	projectCtx, err := s.llm.ProjectContext(ctx, task.WorkingDirectory)
	if err != nil {
		projectCtx = ""
	}
	enriched, err := s.llm.EnrichTask(ctx, task.RawDescription, task.DoneDefinition, memories, projectCtx)
	if err != nil {
		s.log.WithTask(task.ID).Warn("enrichment failed, using raw description", "error", err)
		enriched = core.EnrichedTask{Description: task.RawDescription, EstimatedComplexity: 5}
	}
	task.EnrichedDescription = enriched.Description
	task.CompletionCriteria = enriched.CompletionCriteria
	task.EstimatedComplexity = enriched.EstimatedComplexity
}

func (s *Service) recallMemories(ctx context.Context, query string) []core.Memory {
	vec, err := s.llm.GenerateEmbedding(ctx, query)
	if err == nil {
		hits, err := s.vec.Search(ctx, vector.CollectionMemories, vec, s.topK, 0)
		if err == nil && len(hits) > 0 {
			var memories []core.Memory
			for _, h := range hits {
				if m, merr := s.store.GetMemory(ctx, h.ID); merr == nil {
					memories = append(memories, *m)
				}
			}
			return memories
		}
	}
	rows, err := s.store.ListMemories(ctx, "", "", s.topK)
	if err != nil {
		return nil
	}
	memories := make([]core.Memory, 0, len(rows))
	for _, m := range rows {
		memories = append(memories, *m)
	}
	return memories
}

// deduplicate embeds the enriched description and searches prior tasks. A hit
// at or above the threshold marks this task duplicated; otherwise the
// embedding is stored and near misses are kept as related tasks.
func (s *Service) deduplicate(ctx context.Context, task *core.Task) bool {
	if !s.dedup.Enabled {
		return false
	}
	embedding, err := s.llm.GenerateEmbedding(ctx, task.Description())
	if err != nil {
		s.log.WithTask(task.ID).Warn("dedup embedding failed, skipping", "error", err)
		return false
	}

	hits, err := s.vec.Search(ctx, vector.CollectionTasks, embedding, maxRelatedTasks+1, 0)
	if err != nil {
		hits = nil
	}

	var related []core.RelatedTask
	for _, h := range hits {
		if h.ID == task.ID {
			continue
		}
		if !s.dedup.CrossPhase && h.Payload["phase_id"] != task.PhaseID {
			continue
		}
		if h.Score >= s.dedup.Threshold {
			task.DuplicateOfTaskID = h.ID
			task.SimilarityScore = h.Score
			return true
		}
		if len(related) < maxRelatedTasks {
			related = append(related, core.RelatedTask{TaskID: h.ID, Score: h.Score})
		}
	}
	task.RelatedTaskIDs = related

	payload := map[string]string{
		"content":     task.Description(),
		"phase_id":    task.PhaseID,
		"workflow_id": task.WorkflowID,
	}
	if err := s.vec.Upsert(ctx, vector.CollectionTasks, task.ID, embedding, payload); err != nil {
		s.log.WithTask(task.ID).Warn("storing task embedding failed", "error", err)
	}
	return false
}

// Report is an agent's terminal status report for its task.
type Report struct {
	TaskID       string
	AgentID      string
	Status       core.TaskStatus // done or failed
	Summary      string
	KeyLearnings string
}

// UpdateStatus handles update_task_status: done enters the validation loop
// when enabled, otherwise the task completes, merges and releases capacity.
func (s *Service) UpdateStatus(ctx context.Context, rep Report) (*core.Task, error) {
	if rep.Status != core.TaskStatusDone && rep.Status != core.TaskStatusFailed {
		return nil, core.ErrValidation("STATUS_INVALID", "status must be done or failed")
	}
	task, err := s.store.GetTask(ctx, rep.TaskID)
	if err != nil {
		return nil, err
	}
	if task.AssignedAgentID != rep.AgentID {
		return nil, core.ErrForbidden(
			fmt.Sprintf("agent %s is not assigned to task %s", rep.AgentID, rep.TaskID))
	}

	task.CompletionNotes = rep.Summary
	if rep.KeyLearnings != "" {
		task.CompletionNotes = rep.Summary + "\n\nKey learnings: " + rep.KeyLearnings
	}

	if rep.Status == core.TaskStatusDone && task.ValidationEnabled {
		if s.validator == nil {
			return nil, core.ErrState(core.CodeInvalidState, "validation engine not wired")
		}
		if err := s.validator.StartTaskValidation(ctx, task); err != nil {
			return nil, err
		}
		return task, nil
	}

	if rep.Status == core.TaskStatusFailed {
		task.FailureReason = rep.Summary
	}
	return task, s.complete(ctx, task, rep.Status)
}

// complete finishes a task outside the validation loop: merge on done,
// terminate the agent, advance the phase and drain the queue.
func (s *Service) complete(ctx context.Context, task *core.Task, status core.TaskStatus) error {
	now := time.Now().UTC()
	task.Status = status
	task.CompletedAt = &now
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	agentID := task.AssignedAgentID
	if status == core.TaskStatusDone && agentID != "" {
		if res, err := s.merger.MergeToParent(ctx, agentID); err != nil {
			s.log.WithTask(task.ID).Error("merge to parent failed", "error", err)
		} else if task.TicketID != "" && res.CommitSHA != "" {
			s.linkMergeCommit(ctx, task, res.CommitSHA)
		}
	}
	if agentID != "" {
		if _, err := s.agents.Terminate(ctx, agentID); err != nil {
			s.log.WithAgent(agentID).Warn("terminating agent failed", "error", err)
		}
	}

	s.bus.Publish(events.NewTaskCompletedEvent(task.WorkflowID, task.ID, string(status)))
	s.log.WithTask(task.ID).Info("task completed", "status", status)

	if task.PhaseID != "" {
		if _, err := s.phases.AdvanceIfComplete(ctx, task.PhaseID); err != nil {
			s.log.WithTask(task.ID).Warn("phase advance check failed", "error", err)
		}
	}
	if err := s.queue.ProcessQueue(ctx); err != nil {
		s.log.Warn("queue drain after completion failed", "error", err)
	}
	return nil
}

func (s *Service) linkMergeCommit(ctx context.Context, task *core.Task, sha string) {
	link := &core.TicketCommit{
		ID:        uuid.NewString(),
		TicketID:  task.TicketID,
		CommitSHA: sha,
		LinkedBy:  task.AssignedAgentID,
		CreatedAt: time.Now().UTC(),
	}
	history := &core.TicketHistory{
		TicketID:    task.TicketID,
		ActorID:     task.AssignedAgentID,
		ChangeType:  "commit_link",
		NewValue:    fmt.Sprintf("%q", sha),
		Description: fmt.Sprintf("merge commit %.8s linked from task %s", sha, task.ID),
	}
	if err := s.store.LinkTicketCommit(ctx, link, history); err != nil {
		s.log.WithTask(task.ID).Warn("linking merge commit failed", "error", err)
		return
	}
	s.bus.Publish(events.NewCommitLinkedEvent(task.WorkflowID, task.TicketID, sha))
}

// Restart replays a done or failed task: completion data and the former
// agent's advisory rows are cleared, then the task re-enters admission.
func (s *Service) Restart(ctx context.Context, taskID string) (*CreateResult, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsRestartable() {
		return nil, core.ErrSemantic(core.CodeInvalidState,
			fmt.Sprintf("task %s is %s; only done or failed tasks restart", taskID, task.Status))
	}

	task.Status = core.TaskStatusPending
	task.AssignedAgentID = ""
	task.CompletedAt = nil
	task.QueuedAt = nil
	task.FailureReason = ""
	task.CompletionNotes = ""
	task.LastValidationFeedback = ""
	task.ValidationIteration = 0
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	if err := s.store.ClearTaskAdvisoryHistory(ctx, taskID); err != nil {
		return nil, err
	}
	s.bus.Publish(events.NewTaskRestartedEvent(task.WorkflowID, task.ID))
	s.log.WithTask(task.ID).Info("task restarted")

	queued, pos, err := s.queue.Admit(ctx, task)
	if err != nil {
		return nil, err
	}
	if queued {
		return &CreateResult{Task: task, Queued: true, QueuePosition: pos}, nil
	}
	if err := s.agents.SpawnForTask(ctx, task); err != nil {
		return nil, err
	}
	return &CreateResult{Task: task}, nil
}

// SyncBlockedTasks releases blocked tasks whose tickets became ready. Called
// on ticket resolution and approval.
func (s *Service) SyncBlockedTasks(ctx context.Context) (released []string, err error) {
	blocked, err := s.store.ListTasksByStatus(ctx, core.TaskStatusBlocked)
	if err != nil {
		return nil, err
	}
	for _, task := range blocked {
		if task.TicketID == "" {
			continue
		}
		stillBlocked, _, berr := s.ticketBlocks(ctx, task.TicketID)
		if berr != nil || stillBlocked {
			continue
		}
		task.Status = core.TaskStatusPending
		if uerr := s.store.UpdateTask(ctx, task); uerr != nil {
			s.log.WithTask(task.ID).Warn("releasing blocked task failed", "error", uerr)
			continue
		}
		queued, _, aerr := s.queue.Admit(ctx, task)
		if aerr != nil {
			s.log.WithTask(task.ID).Warn("admitting released task failed", "error", aerr)
			continue
		}
		if !queued {
			if serr := s.agents.SpawnForTask(ctx, task); serr != nil {
				s.log.WithTask(task.ID).Warn("spawning released task failed", "error", serr)
				continue
			}
		}
		released = append(released, task.ID)
	}
	return released, nil
}

// SaveMemory persists an agent learning unless a near-duplicate already
// exists in the memory index. Returns the stored memory, or nil with the
// duplicate's ID when skipped.
func (s *Service) SaveMemory(ctx context.Context, agentID, content string, memType core.MemoryType, tags, relatedFiles []string) (*core.Memory, string, error) {
	if content == "" {
		return nil, "", core.ErrValidation(core.CodeMissingField, "memory content is required")
	}
	if !core.ValidMemoryType(memType) {
		return nil, "", core.ErrSemantic("MEMORY_TYPE_INVALID",
			fmt.Sprintf("unknown memory type %q", memType))
	}

	embedding, err := s.llm.GenerateEmbedding(ctx, content)
	if err == nil {
		hits, serr := s.vec.Search(ctx, vector.CollectionMemories, embedding, 1, core.NearDuplicateThreshold)
		if serr == nil && len(hits) > 0 {
			s.log.WithAgent(agentID).Info("memory skipped as near-duplicate",
				"duplicate_of", hits[0].ID, "score", hits[0].Score)
			return nil, hits[0].ID, nil
		}
	}

	memory := &core.Memory{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		Content:      content,
		MemoryType:   memType,
		Tags:         tags,
		RelatedFiles: relatedFiles,
		CreatedAt:    time.Now().UTC(),
	}
	if embedding != nil {
		memory.EmbeddingID = memory.ID
		if uerr := s.vec.Upsert(ctx, vector.CollectionMemories, memory.ID, embedding,
			map[string]string{"content": content, "agent_id": agentID}); uerr != nil {
			s.log.WithAgent(agentID).Warn("storing memory embedding failed", "error", uerr)
			memory.EmbeddingID = ""
		}
	}
	if err := s.store.CreateMemory(ctx, memory); err != nil {
		return nil, "", err
	}
	return memory, "", nil
}

// Get loads one task.
func (s *Service) Get(ctx context.Context, id string) (*core.Task, error) {
	return s.store.GetTask(ctx, id)
}

// ListByWorkflow lists the tasks of one execution.
func (s *Service) ListByWorkflow(ctx context.Context, workflowID string) ([]*core.Task, error) {
	return s.store.ListTasksByWorkflow(ctx, workflowID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
