package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

type registerDefinitionRequest struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Description    string               `json:"description,omitempty"`
	PhasesConfig   []core.PhaseTemplate `json:"phases_config"`
	WorkflowConfig core.WorkflowConfig  `json:"workflow_config,omitempty"`
}

func (s *Server) handleRegisterDefinition(w http.ResponseWriter, r *http.Request) {
	var req registerDefinitionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	def := &core.WorkflowDefinition{
		ID:             req.ID,
		Name:           req.Name,
		Description:    req.Description,
		PhasesConfig:   req.PhasesConfig,
		WorkflowConfig: req.WorkflowConfig,
	}
	if err := s.phases.RegisterDefinition(r.Context(), def); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"definition_id": def.ID,
		"phases":        len(def.PhasesConfig),
	})
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.phases.ListDefinitions(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"definitions": defs})
}

type startExecutionRequest struct {
	DefinitionID     string                 `json:"definition_id"`
	Description      string                 `json:"description"`
	WorkingDirectory string                 `json:"working_directory,omitempty"`
	LaunchParams     map[string]interface{} `json:"launch_params,omitempty"`
}

func (s *Server) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req startExecutionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if req.DefinitionID == "" {
		respondError(w, http.StatusUnprocessableEntity, "definition_id is required")
		return
	}
	exec, err := s.phases.StartExecution(r.Context(), req.DefinitionID,
		req.Description, req.WorkingDirectory, req.LaunchParams)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflow_id": exec.ID,
		"status":      exec.Status,
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	exec, err := s.store.GetWorkflowExecution(r.Context(), workflowID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	phases, err := s.phases.ListPhases(r.Context(), workflowID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	phaseExecs, err := s.store.ListPhaseExecutions(r.Context(), workflowID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	tasks, err := s.tasks.ListByWorkflow(r.Context(), workflowID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"execution":        exec,
		"phases":           phases,
		"phase_executions": phaseExecs,
		"tasks":            tasks,
	})
}
