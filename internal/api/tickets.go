package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/service/ticket"
)

type createTicketRequest struct {
	WorkflowID   string   `json:"workflow_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	TicketType   string   `json:"ticket_type,omitempty"`
	Priority     string   `json:"priority,omitempty"`
	ParentID     string   `json:"parent_ticket_id,omitempty"`
	BlockedByIDs []string `json:"blocked_by_ticket_ids,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if len(req.Title) < 3 {
		respondError(w, http.StatusUnprocessableEntity, "title must be at least 3 characters")
		return
	}
	if len(req.Description) < 10 {
		respondError(w, http.StatusUnprocessableEntity, "description must be at least 10 characters")
		return
	}
	created, err := s.tickets.Create(r.Context(), ticket.CreateRequest{
		WorkflowID:       req.WorkflowID,
		Title:            req.Title,
		Description:      req.Description,
		TicketType:       req.TicketType,
		Priority:         core.TaskPriority(req.Priority),
		ParentTicketID:   req.ParentID,
		BlockedByIDs:     req.BlockedByIDs,
		Tags:             req.Tags,
		CreatedByAgentID: callerID(r),
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ticket_id":       created.ID,
		"status":          created.Status,
		"approval_status": created.ApprovalStatus,
	})
}

type updateTicketRequest struct {
	TicketID string `json:"ticket_id"`
	Updates  struct {
		Title           *string            `json:"title,omitempty"`
		Description     *string            `json:"description,omitempty"`
		Priority        *core.TaskPriority `json:"priority,omitempty"`
		AssignedAgentID *string            `json:"assigned_agent_id,omitempty"`
		Tags            *[]string          `json:"tags,omitempty"`
		BlockedByIDs    *[]string          `json:"blocked_by_ticket_ids,omitempty"`
	} `json:"updates"`
}

func (s *Server) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	var req updateTicketRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if req.TicketID == "" {
		respondError(w, http.StatusUnprocessableEntity, "ticket_id is required")
		return
	}
	updated, err := s.tickets.Update(r.Context(), req.TicketID, callerID(r), ticket.UpdateRequest{
		Title:           req.Updates.Title,
		Description:     req.Updates.Description,
		Priority:        req.Updates.Priority,
		AssignedAgentID: req.Updates.AssignedAgentID,
		Tags:            req.Updates.Tags,
		BlockedByIDs:    req.Updates.BlockedByIDs,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"ticket": updated})
}

type changeStatusRequest struct {
	TicketID  string `json:"ticket_id"`
	NewStatus string `json:"new_status"`
	Comment   string `json:"comment"`
	CommitSHA string `json:"commit_sha,omitempty"`
}

func (s *Server) handleChangeTicketStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if req.TicketID == "" || req.NewStatus == "" {
		respondError(w, http.StatusUnprocessableEntity, "ticket_id and new_status are required")
		return
	}
	if len(req.Comment) < 10 {
		respondError(w, http.StatusUnprocessableEntity, "comment must be at least 10 characters")
		return
	}

	res, err := s.tickets.ChangeStatus(r.Context(), req.TicketID, callerID(r), req.NewStatus, req.CommitSHA)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if res.Blocked {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"blocked":             true,
			"blocking_ticket_ids": res.Blockers,
			"status":              res.Ticket.Status,
		})
		return
	}
	if _, err := s.tickets.Comment(r.Context(), req.TicketID, callerID(r), req.Comment, "status_change"); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"blocked": false,
		"status":  res.Ticket.Status,
	})
}

type commentTicketRequest struct {
	TicketID    string `json:"ticket_id"`
	CommentText string `json:"comment_text"`
}

func (s *Server) handleCommentTicket(w http.ResponseWriter, r *http.Request) {
	var req commentTicketRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	comment, err := s.tickets.Comment(r.Context(), req.TicketID, callerID(r), req.CommentText, "comment")
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"comment_id": comment.ID})
}

type resolveTicketRequest struct {
	TicketID          string `json:"ticket_id"`
	ResolutionComment string `json:"resolution_comment"`
}

func (s *Server) handleResolveTicket(w http.ResponseWriter, r *http.Request) {
	var req resolveTicketRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if len(req.ResolutionComment) < 10 {
		respondError(w, http.StatusUnprocessableEntity, "resolution_comment must be at least 10 characters")
		return
	}
	resolved, unblocked, err := s.tickets.Resolve(r.Context(), req.TicketID, callerID(r), req.ResolutionComment)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ticket_id":            resolved.ID,
		"is_resolved":          resolved.IsResolved,
		"unblocked_ticket_ids": unblocked,
	})
}

type linkCommitRequest struct {
	TicketID  string `json:"ticket_id"`
	CommitSHA string `json:"commit_sha"`
}

func (s *Server) handleLinkCommit(w http.ResponseWriter, r *http.Request) {
	var req linkCommitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	link, err := s.tickets.LinkCommit(r.Context(), req.TicketID, callerID(r), req.CommitSHA)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"link_id":    link.ID,
		"commit_sha": link.CommitSHA,
	})
}

type searchTicketsRequest struct {
	WorkflowID string `json:"workflow_id"`
	Query      string `json:"query"`
	Limit      int    `json:"limit,omitempty"`
}

func (s *Server) handleSearchTickets(w http.ResponseWriter, r *http.Request) {
	var req searchTicketsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if len(req.Query) < 3 {
		respondError(w, http.StatusUnprocessableEntity, "query must be at least 3 characters")
		return
	}
	hits, err := s.tickets.Search(r.Context(), req.WorkflowID, req.Query, req.Limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": hits})
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		respondError(w, http.StatusUnprocessableEntity, "workflow_id query parameter is required")
		return
	}
	tickets, err := s.tickets.List(r.Context(), workflowID,
		r.URL.Query().Get("status"), r.URL.Query().Get("filter"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tickets": tickets})
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	t, comments, commits, history, err := s.tickets.Get(r.Context(), ticketID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ticket":   t,
		"comments": comments,
		"commits":  commits,
		"history":  history,
	})
}

type clarificationRequest struct {
	TicketID            string   `json:"ticket_id"`
	ConflictDescription string   `json:"conflict_description"`
	Background          string   `json:"background,omitempty"`
	PotentialSolutions  []string `json:"potential_solutions"`
}

func (s *Server) handleRequestClarification(w http.ResponseWriter, r *http.Request) {
	var req clarificationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if len(req.ConflictDescription) < 20 {
		respondError(w, http.StatusUnprocessableEntity, "conflict_description must be at least 20 characters")
		return
	}
	comment, err := s.tickets.RequestClarification(r.Context(), req.TicketID, callerID(r),
		req.ConflictDescription, req.Background, req.PotentialSolutions)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"comment_id":  comment.ID,
		"arbitration": comment.Text,
	})
}

type approvalRequest struct {
	TicketID        string `json:"ticket_id"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

func (s *Server) handleApproveTicket(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	approved, err := s.tickets.Approve(r.Context(), req.TicketID, callerID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ticket_id":       approved.ID,
		"approval_status": approved.ApprovalStatus,
	})
}

func (s *Server) handleRejectTicket(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	rejected, err := s.tickets.Reject(r.Context(), req.TicketID, callerID(r), req.RejectionReason)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ticket_id":        rejected.ID,
		"approval_status":  rejected.ApprovalStatus,
		"rejection_reason": rejected.RejectionReason,
	})
}
