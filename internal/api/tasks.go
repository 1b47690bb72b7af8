package api

import (
	"net/http"

	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/events"
	"github.com/hephaestus-ai/hephaestus/internal/service/task"
	"github.com/hephaestus-ai/hephaestus/internal/service/validation"
)

type createTaskRequest struct {
	TaskDescription  string `json:"task_description"`
	DoneDefinition   string `json:"done_definition"`
	AIAgentID        string `json:"ai_agent_id"`
	WorkflowID       string `json:"workflow_id"`
	TicketID         string `json:"ticket_id,omitempty"`
	PhaseID          string `json:"phase_id,omitempty"`
	Order            int    `json:"order,omitempty"`
	Priority         string `json:"priority,omitempty"`
	ParentTaskID     string `json:"parent_task_id,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if req.AIAgentID == "" {
		req.AIAgentID = callerID(r)
	}

	res, err := s.tasks.Create(r.Context(), task.CreateRequest{
		Description:      req.TaskDescription,
		DoneDefinition:   req.DoneDefinition,
		CallerAgentID:    req.AIAgentID,
		WorkflowID:       req.WorkflowID,
		TicketID:         req.TicketID,
		PhaseID:          req.PhaseID,
		Order:            req.Order,
		Priority:         core.TaskPriority(req.Priority),
		ParentTaskID:     req.ParentTaskID,
		WorkingDirectory: req.WorkingDirectory,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	body := map[string]interface{}{
		"task_id": res.Task.ID,
		"status":  res.Task.Status,
	}
	switch {
	case res.Blocked:
		body["blocked"] = true
		body["blocking_ticket_ids"] = res.Blockers
	case res.Duplicated:
		body["duplicate_of_task_id"] = res.Task.DuplicateOfTaskID
		body["similarity_score"] = res.Task.SimilarityScore
	case res.Queued:
		body["queue_position"] = res.QueuePosition
	}
	respondJSON(w, http.StatusOK, body)
}

type updateTaskStatusRequest struct {
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
	Summary      string `json:"summary"`
	KeyLearnings string `json:"key_learnings,omitempty"`
}

func (s *Server) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req updateTaskStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	got, err := s.tasks.UpdateStatus(r.Context(), task.Report{
		TaskID:       req.TaskID,
		AgentID:      callerID(r),
		Status:       core.TaskStatus(req.Status),
		Summary:      req.Summary,
		KeyLearnings: req.KeyLearnings,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": got.ID,
		"status":  got.Status,
	})
}

func (s *Server) handleGetTasks(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		respondError(w, http.StatusUnprocessableEntity, "workflow_id query parameter is required")
		return
	}
	tasks, err := s.tasks.ListByWorkflow(r.Context(), workflowID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

type saveMemoryRequest struct {
	AIAgentID     string   `json:"ai_agent_id"`
	MemoryContent string   `json:"memory_content"`
	MemoryType    string   `json:"memory_type"`
	Tags          []string `json:"tags,omitempty"`
	RelatedFiles  []string `json:"related_files,omitempty"`
}

func (s *Server) handleSaveMemory(w http.ResponseWriter, r *http.Request) {
	var req saveMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if req.AIAgentID == "" {
		req.AIAgentID = callerID(r)
	}
	memory, duplicateOf, err := s.tasks.SaveMemory(r.Context(), req.AIAgentID,
		req.MemoryContent, core.MemoryType(req.MemoryType), req.Tags, req.RelatedFiles)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if memory == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"saved":        false,
			"duplicate_of": duplicateOf,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"saved":     true,
		"memory_id": memory.ID,
	})
}

type reportResultsRequest struct {
	TaskID           string   `json:"task_id"`
	ResultType       string   `json:"result_type"`
	MarkdownFilePath string   `json:"markdown_file_path"`
	ExtraFiles       []string `json:"extra_files,omitempty"`
	Summary          string   `json:"summary"`
}

func (s *Server) handleReportResults(w http.ResponseWriter, r *http.Request) {
	var req reportResultsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	result, err := s.validation.ReportResults(r.Context(), callerID(r), req.TaskID,
		req.ResultType, req.MarkdownFilePath, req.ExtraFiles, req.Summary)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"result_id":         result.ID,
		"validation_status": result.ValidationStatus,
	})
}

type submitResultRequest struct {
	WorkflowID       string `json:"workflow_id"`
	MarkdownFilePath string `json:"markdown_file_path"`
	Explanation      string `json:"explanation"`
}

func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	var req submitResultRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if req.MarkdownFilePath == "" {
		respondError(w, http.StatusUnprocessableEntity, "markdown_file_path is required")
		return
	}
	result, err := s.validation.SubmitWorkflowResult(r.Context(), req.WorkflowID,
		callerID(r), req.MarkdownFilePath, req.Explanation)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"result_id":         result.ID,
		"validation_status": result.ValidationStatus,
	})
}

type validationReviewRequest struct {
	TaskID           string `json:"task_id"`
	ValidatorAgentID string `json:"validator_agent_id"`
	ValidationPassed bool   `json:"validation_passed"`
	Feedback         string `json:"feedback,omitempty"`
}

func (s *Server) handleGiveValidationReview(w http.ResponseWriter, r *http.Request) {
	var req validationReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if req.ValidatorAgentID == "" {
		req.ValidatorAgentID = callerID(r)
	}
	got, err := s.validation.SubmitReview(r.Context(), validation.Review{
		TaskID:           req.TaskID,
		ValidatorAgentID: req.ValidatorAgentID,
		Passed:           req.ValidationPassed,
		Feedback:         req.Feedback,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": got.ID,
		"status":  got.Status,
	})
}

type resultValidationRequest struct {
	ResultID         string `json:"result_id"`
	ValidationPassed bool   `json:"validation_passed"`
	Feedback         string `json:"feedback,omitempty"`
}

func (s *Server) handleSubmitResultValidation(w http.ResponseWriter, r *http.Request) {
	var req resultValidationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	result, err := s.validation.SubmitResultValidation(r.Context(), validation.ResultVerdict{
		ResultID:         req.ResultID,
		ValidatorAgentID: callerID(r),
		Passed:           req.ValidationPassed,
		Feedback:         req.Feedback,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"result_id":         result.ID,
		"validation_status": result.ValidationStatus,
	})
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusUnprocessableEntity, "message is required")
		return
	}
	delivered, err := s.agents.Broadcast(r.Context(), callerID(r), req.Message)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"delivered_to": delivered})
}

type sendMessageRequest struct {
	RecipientAgentID string `json:"recipient_agent_id"`
	Message          string `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if req.RecipientAgentID == "" || req.Message == "" {
		respondError(w, http.StatusUnprocessableEntity, "recipient_agent_id and message are required")
		return
	}
	if err := s.agents.SendDirect(r.Context(), callerID(r), req.RecipientAgentID, req.Message); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"delivered": true})
}

type agentIDRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleTerminateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentIDRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	agent, err := s.agents.Terminate(r.Context(), req.AgentID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	workflowID := ""
	if agent.CurrentTaskID != "" {
		if t, terr := s.store.GetTask(r.Context(), agent.CurrentTaskID); terr == nil {
			workflowID = t.WorkflowID
		}
	}
	s.bus.Publish(events.NewAgentTerminatedEvent(workflowID, agent.ID))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id": agent.ID,
		"status":   agent.Status,
	})
}

type taskIDRequest struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleBumpTask(w http.ResponseWriter, r *http.Request) {
	var req taskIDRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	bumped, err := s.queue.Bump(r.Context(), req.TaskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": bumped.ID,
		"status":  bumped.Status,
	})
}

func (s *Server) handleCancelQueuedTask(w http.ResponseWriter, r *http.Request) {
	var req taskIDRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	cancelled, err := s.queue.Cancel(r.Context(), req.TaskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"task_id":        cancelled.ID,
		"status":         cancelled.Status,
		"failure_reason": cancelled.FailureReason,
	})
}

func (s *Server) handleRestartTask(w http.ResponseWriter, r *http.Request) {
	var req taskIDRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	res, err := s.tasks.Restart(r.Context(), req.TaskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	body := map[string]interface{}{
		"task_id": res.Task.ID,
		"status":  res.Task.Status,
	}
	if res.Queued {
		body["queue_position"] = res.QueuePosition
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.queue.QueueStatus(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}
