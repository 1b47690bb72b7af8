// Package ticket implements the kanban board: ticket CRUD with a full audit
// trail, the human approval gate, blocking relations with unblock fanout,
// commit links, hybrid search and LLM-arbitrated clarifications.
package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"

	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/events"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/store"
	"github.com/hephaestus-ai/hephaestus/internal/vector"
)

// Hybrid search weights: semantic similarity dominates, keyword rank breaks
// ties and catches exact identifiers embeddings miss.
const (
	semanticWeight = 0.7
	keywordWeight  = 0.3
	previewLen     = 160
)

// clarificationContextSize bounds how many recent tickets and tasks feed the
// arbitration prompt.
const clarificationContextSize = 60

// TaskSyncer releases tasks blocked on tickets. Implemented by the task
// service; declared here to break the package cycle.
type TaskSyncer interface {
	SyncBlockedTasks(ctx context.Context) ([]string, error)
}

// Service owns the ticket board of every workflow.
type Service struct {
	store *store.Store
	vec   core.VectorIndex
	llm   core.LLMProvider
	bus   *events.Bus
	tasks TaskSyncer
	log   *logging.Logger
}

// NewService creates the ticket service. The task syncer is attached later
// via SetTaskSyncer because the task service is constructed independently.
func NewService(st *store.Store, vec core.VectorIndex, provider core.LLMProvider,
	bus *events.Bus, log *logging.Logger) *Service {
	return &Service{store: st, vec: vec, llm: provider, bus: bus, log: log}
}

// SetTaskSyncer wires the task service in after construction.
func (s *Service) SetTaskSyncer(t TaskSyncer) { s.tasks = t }

// CreateRequest carries one create_ticket call.
type CreateRequest struct {
	WorkflowID       string
	Title            string
	Description      string
	TicketType       string
	Priority         core.TaskPriority
	ParentTicketID   string
	BlockedByIDs     []string
	Tags             []string
	CreatedByAgentID string
}

// Create inserts a ticket on its workflow's board. Human-review boards gate
// new tickets behind approval; others auto-approve.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*core.Ticket, error) {
	if req.Title == "" {
		return nil, core.ErrValidation(core.CodeMissingField, "ticket title is required")
	}
	if req.WorkflowID == "" {
		return nil, core.ErrValidation(core.CodeMissingField, "workflow_id is required")
	}
	board, err := s.store.GetBoardConfig(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if len(board.AllowedTypes) > 0 && req.TicketType != "" && !contains(board.AllowedTypes, req.TicketType) {
		return nil, core.ErrSemantic("TICKET_TYPE_INVALID",
			fmt.Sprintf("ticket type %q not allowed on this board", req.TicketType))
	}
	for _, id := range req.BlockedByIDs {
		blocker, berr := s.store.GetTicket(ctx, id)
		if berr != nil {
			return nil, berr
		}
		if blocker.WorkflowID != req.WorkflowID {
			return nil, core.ErrSemantic("BLOCKER_WORKFLOW_MISMATCH",
				fmt.Sprintf("blocking ticket %s belongs to another workflow", id))
		}
	}

	now := time.Now().UTC()
	ticket := &core.Ticket{
		ID:                 uuid.NewString(),
		WorkflowID:         req.WorkflowID,
		Title:              req.Title,
		Description:        req.Description,
		TicketType:         req.TicketType,
		Priority:           req.Priority,
		Status:             board.InitialStatus,
		ApprovalStatus:     core.ApprovalAutoApproved,
		ParentTicketID:     req.ParentTicketID,
		BlockedByTicketIDs: req.BlockedByIDs,
		CreatedByAgentID:   req.CreatedByAgentID,
		Tags:               req.Tags,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if ticket.Priority == "" {
		ticket.Priority = core.PriorityMedium
	}
	if board.TicketHumanReview {
		ticket.ApprovalStatus = core.ApprovalPendingReview
	}

	history := &core.TicketHistory{
		TicketID:    ticket.ID,
		ActorID:     req.CreatedByAgentID,
		ChangeType:  "created",
		NewValue:    jsonString(ticket.Title),
		Description: fmt.Sprintf("ticket created in %s", ticket.Status),
	}
	if err := s.store.CreateTicket(ctx, ticket, history); err != nil {
		return nil, err
	}
	s.indexTicket(ctx, ticket)
	s.bus.Publish(events.NewTicketCreatedEvent(ticket.WorkflowID, ticket.ID, ticket.Status, req.CreatedByAgentID))
	s.log.WithTicket(ticket.ID).WithWorkflow(ticket.WorkflowID).
		Info("ticket created", "approval", ticket.ApprovalStatus)
	return ticket, nil
}

// UpdateRequest carries mutable ticket fields; nil pointers leave the field
// untouched.
type UpdateRequest struct {
	Title           *string
	Description     *string
	Priority        *core.TaskPriority
	AssignedAgentID *string
	Tags            *[]string
	BlockedByIDs    *[]string
}

// Update applies field changes with a per-field audit trail.
func (s *Service) Update(ctx context.Context, ticketID, actorID string, req UpdateRequest) (*core.Ticket, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	var changes []string
	reindex := false
	apply := func(field, oldVal, newVal string) {
		changes = append(changes, fmt.Sprintf("%s: %s -> %s", field, oldVal, newVal))
	}
	if req.Title != nil && *req.Title != ticket.Title {
		apply("title", ticket.Title, *req.Title)
		ticket.Title = *req.Title
		reindex = true
	}
	if req.Description != nil && *req.Description != ticket.Description {
		apply("description", truncate(ticket.Description, 40), truncate(*req.Description, 40))
		ticket.Description = *req.Description
		reindex = true
	}
	if req.Priority != nil && *req.Priority != ticket.Priority {
		apply("priority", string(ticket.Priority), string(*req.Priority))
		ticket.Priority = *req.Priority
	}
	if req.AssignedAgentID != nil && *req.AssignedAgentID != ticket.AssignedAgentID {
		apply("assigned_agent_id", ticket.AssignedAgentID, *req.AssignedAgentID)
		ticket.AssignedAgentID = *req.AssignedAgentID
	}
	if req.Tags != nil {
		apply("tags", jsonString(ticket.Tags), jsonString(*req.Tags))
		ticket.Tags = *req.Tags
	}
	if req.BlockedByIDs != nil {
		apply("blocked_by", jsonString(ticket.BlockedByTicketIDs), jsonString(*req.BlockedByIDs))
		ticket.BlockedByTicketIDs = *req.BlockedByIDs
	}
	if len(changes) == 0 {
		return ticket, nil
	}

	history := &core.TicketHistory{
		TicketID:    ticketID,
		ActorID:     actorID,
		ChangeType:  "field_update",
		Description: strings.Join(changes, "; "),
	}
	if err := s.store.UpdateTicket(ctx, ticket, history); err != nil {
		return nil, err
	}
	if reindex {
		s.indexTicket(ctx, ticket)
	}
	s.bus.Publish(events.NewTicketUpdatedEvent(ticket.WorkflowID, ticket.ID, actorID))
	return ticket, nil
}

// StatusResult reports a status-change attempt. A blocked move is not an
// error: the ticket stays put and the blockers are listed.
type StatusResult struct {
	Ticket   *core.Ticket
	Blocked  bool
	Blockers []string
}

// ChangeStatus moves a ticket across board columns. Unresolved blockers veto
// the move without erroring; an unapproved ticket cannot move at all. An
// optional commit link lands in the same transaction as the move.
func (s *Service) ChangeStatus(ctx context.Context, ticketID, actorID, newStatus, commitSHA string) (*StatusResult, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	board, err := s.store.GetBoardConfig(ctx, ticket.WorkflowID)
	if err != nil {
		return nil, err
	}
	if !board.HasColumn(newStatus) {
		return nil, core.ErrSemantic("STATUS_INVALID",
			fmt.Sprintf("%q is not a column of this board", newStatus))
	}
	switch ticket.ApprovalStatus {
	case core.ApprovalPendingReview:
		return nil, core.ErrSemantic(core.CodeApprovalPending,
			fmt.Sprintf("ticket %s awaits human approval", ticketID))
	case core.ApprovalRejected:
		return nil, core.ErrSemantic(core.CodeApprovalPending,
			fmt.Sprintf("ticket %s was rejected: %s", ticketID, ticket.RejectionReason))
	}

	blockers, err := s.unresolvedBlockers(ctx, ticket)
	if err != nil {
		return nil, err
	}
	if len(blockers) > 0 {
		s.log.WithTicket(ticketID).Info("status change vetoed by blockers", "blockers", blockers)
		return &StatusResult{Ticket: ticket, Blocked: true, Blockers: blockers}, nil
	}

	oldStatus := ticket.Status
	ticket.Status = newStatus
	history := &core.TicketHistory{
		TicketID:    ticketID,
		ActorID:     actorID,
		ChangeType:  "status_change",
		OldValue:    jsonString(oldStatus),
		NewValue:    jsonString(newStatus),
		Description: fmt.Sprintf("%s -> %s", oldStatus, newStatus),
	}
	if err := s.store.UpdateTicket(ctx, ticket, history); err != nil {
		return nil, err
	}
	if commitSHA != "" {
		if err := s.linkCommit(ctx, ticket, actorID, commitSHA); err != nil {
			return nil, err
		}
	}
	s.bus.Publish(events.NewTicketStatusChangedEvent(ticket.WorkflowID, ticketID, oldStatus, newStatus, actorID))
	return &StatusResult{Ticket: ticket}, nil
}

// Comment appends a comment plus its audit row.
func (s *Service) Comment(ctx context.Context, ticketID, authorID, text, commentType string) (*core.TicketComment, error) {
	if text == "" {
		return nil, core.ErrValidation(core.CodeMissingField, "comment text is required")
	}
	if commentType == "" {
		commentType = "comment"
	}
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	comment := &core.TicketComment{
		ID:          uuid.NewString(),
		TicketID:    ticketID,
		AuthorID:    authorID,
		CommentType: commentType,
		Text:        text,
		CreatedAt:   time.Now().UTC(),
	}
	history := &core.TicketHistory{
		TicketID:    ticketID,
		ActorID:     authorID,
		ChangeType:  "comment",
		Description: truncate(text, 80),
	}
	if err := s.store.AddTicketComment(ctx, comment, history); err != nil {
		return nil, err
	}
	s.bus.Publish(events.NewTicketCommentAddedEvent(ticket.WorkflowID, ticketID, authorID))
	return comment, nil
}

// Resolve closes a ticket, records the resolution as a comment, reports which
// tickets the resolution unblocked and releases tasks waiting on it.
func (s *Service) Resolve(ctx context.Context, ticketID, actorID, resolution string) (*core.Ticket, []string, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if ticket.IsResolved {
		return ticket, nil, nil
	}

	now := time.Now().UTC()
	ticket.IsResolved = true
	ticket.ResolvedAt = &now
	history := &core.TicketHistory{
		TicketID:    ticketID,
		ActorID:     actorID,
		ChangeType:  "resolved",
		Description: truncate(resolution, 80),
	}
	if err := s.store.UpdateTicket(ctx, ticket, history); err != nil {
		return nil, nil, err
	}
	if resolution != "" {
		if _, err := s.Comment(ctx, ticketID, actorID, resolution, "resolution"); err != nil {
			s.log.WithTicket(ticketID).Warn("recording resolution comment failed", "error", err)
		}
	}

	unblocked, err := s.unblockFanout(ctx, ticketID)
	if err != nil {
		s.log.WithTicket(ticketID).Warn("unblock fanout failed", "error", err)
	}
	s.bus.Publish(events.NewTicketResolvedEvent(ticket.WorkflowID, ticketID, unblocked))
	s.log.WithTicket(ticketID).Info("ticket resolved", "unblocked", len(unblocked))

	if s.tasks != nil {
		if released, serr := s.tasks.SyncBlockedTasks(ctx); serr != nil {
			s.log.Warn("syncing blocked tasks failed", "error", serr)
		} else if len(released) > 0 {
			s.log.Info("blocked tasks released", "count", len(released))
		}
	}
	return ticket, unblocked, nil
}

// unblockFanout returns the tickets that have no unresolved blockers left
// now that ticketID resolved.
func (s *Service) unblockFanout(ctx context.Context, ticketID string) ([]string, error) {
	dependents, err := s.store.ListTicketsBlockedBy(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	var unblocked []string
	for _, dep := range dependents {
		blockers, berr := s.unresolvedBlockers(ctx, dep)
		if berr != nil {
			return unblocked, berr
		}
		if len(blockers) == 0 {
			unblocked = append(unblocked, dep.ID)
		}
	}
	return unblocked, nil
}

func (s *Service) unresolvedBlockers(ctx context.Context, ticket *core.Ticket) ([]string, error) {
	var out []string
	for _, id := range ticket.BlockedByTicketIDs {
		blocker, err := s.store.GetTicket(ctx, id)
		if err != nil {
			if core.IsCategory(err, core.ErrCatNotFound) {
				continue
			}
			return nil, err
		}
		if !blocker.IsResolved {
			out = append(out, blocker.ID)
		}
	}
	return out, nil
}

// LinkCommit attaches a commit SHA to a ticket through the API.
func (s *Service) LinkCommit(ctx context.Context, ticketID, actorID, commitSHA string) (*core.TicketCommit, error) {
	if commitSHA == "" {
		return nil, core.ErrValidation(core.CodeMissingField, "commit_sha is required")
	}
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	link, err := s.insertCommitLink(ctx, ticket, actorID, commitSHA)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(events.NewTicketCommitLinkedEvent(ticket.WorkflowID, ticketID, commitSHA, actorID))
	return link, nil
}

func (s *Service) linkCommit(ctx context.Context, ticket *core.Ticket, actorID, commitSHA string) error {
	_, err := s.insertCommitLink(ctx, ticket, actorID, commitSHA)
	if err != nil {
		return err
	}
	s.bus.Publish(events.NewTicketCommitLinkedEvent(ticket.WorkflowID, ticket.ID, commitSHA, actorID))
	return nil
}

func (s *Service) insertCommitLink(ctx context.Context, ticket *core.Ticket, actorID, commitSHA string) (*core.TicketCommit, error) {
	link := &core.TicketCommit{
		ID:        uuid.NewString(),
		TicketID:  ticket.ID,
		CommitSHA: commitSHA,
		LinkedBy:  actorID,
		CreatedAt: time.Now().UTC(),
	}
	history := &core.TicketHistory{
		TicketID:    ticket.ID,
		ActorID:     actorID,
		ChangeType:  "commit_link",
		NewValue:    jsonString(commitSHA),
		Description: fmt.Sprintf("commit %.8s linked", commitSHA),
	}
	if err := s.store.LinkTicketCommit(ctx, link, history); err != nil {
		return nil, err
	}
	return link, nil
}

// Approve opens the human gate. Tasks blocked on the pending ticket are
// re-synced afterwards.
func (s *Service) Approve(ctx context.Context, ticketID, actorID string) (*core.Ticket, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.ApprovalStatus != core.ApprovalPendingReview {
		return nil, core.ErrSemantic(core.CodeInvalidState,
			fmt.Sprintf("ticket %s is not pending review (%s)", ticketID, ticket.ApprovalStatus))
	}
	ticket.ApprovalStatus = core.ApprovalApproved
	history := &core.TicketHistory{
		TicketID:    ticketID,
		ActorID:     actorID,
		ChangeType:  "approval_change",
		OldValue:    jsonString(string(core.ApprovalPendingReview)),
		NewValue:    jsonString(string(core.ApprovalApproved)),
		Description: "approved by human review",
	}
	if err := s.store.UpdateTicket(ctx, ticket, history); err != nil {
		return nil, err
	}
	s.bus.Publish(events.NewTicketApprovedEvent(ticket.WorkflowID, ticketID))
	if s.tasks != nil {
		if _, serr := s.tasks.SyncBlockedTasks(ctx); serr != nil {
			s.log.Warn("syncing blocked tasks after approval failed", "error", serr)
		}
	}
	return ticket, nil
}

// Reject closes the human gate with a documented reason.
func (s *Service) Reject(ctx context.Context, ticketID, actorID, reason string) (*core.Ticket, error) {
	if reason == "" {
		return nil, core.ErrValidation(core.CodeMissingField, "rejection reason is required")
	}
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.ApprovalStatus != core.ApprovalPendingReview {
		return nil, core.ErrSemantic(core.CodeInvalidState,
			fmt.Sprintf("ticket %s is not pending review (%s)", ticketID, ticket.ApprovalStatus))
	}
	ticket.ApprovalStatus = core.ApprovalRejected
	ticket.RejectionReason = reason
	history := &core.TicketHistory{
		TicketID:    ticketID,
		ActorID:     actorID,
		ChangeType:  "approval_change",
		OldValue:    jsonString(string(core.ApprovalPendingReview)),
		NewValue:    jsonString(string(core.ApprovalRejected)),
		Description: truncate(reason, 80),
	}
	if err := s.store.UpdateTicket(ctx, ticket, history); err != nil {
		return nil, err
	}
	s.bus.Publish(events.NewTicketRejectedEvent(ticket.WorkflowID, ticketID, reason))
	return ticket, nil
}

// SearchHit is one hybrid search result.
type SearchHit struct {
	Ticket         *core.Ticket `json:"ticket"`
	RelevanceScore float64      `json:"relevance_score"`
	MatchedIn      string       `json:"matched_in"` // semantic, keyword, both
	Preview        string       `json:"preview"`
}

// Search combines embedding similarity with FTS keyword rank.
func (s *Service) Search(ctx context.Context, workflowID, query string, limit int) ([]SearchHit, error) {
	if query == "" {
		return nil, core.ErrValidation(core.CodeMissingField, "query is required")
	}
	if limit <= 0 {
		limit = 10
	}

	semantic := map[string]float64{}
	if embedding, err := s.llm.GenerateEmbedding(ctx, query); err == nil {
		hits, serr := s.vec.Search(ctx, vector.CollectionTickets, embedding, limit*2, 0)
		if serr == nil {
			for _, h := range hits {
				if h.Payload["workflow_id"] != workflowID {
					continue
				}
				semantic[h.ID] = h.Score
			}
		}
	}

	keyword := map[string]float64{}
	if kw, err := s.store.SearchTicketsKeyword(ctx, workflowID, query, limit*2); err == nil {
		// bm25 rank is lower-is-better; normalize against the best rank.
		var best float64
		for _, h := range kw {
			if score := -h.Rank; score > best {
				best = score
			}
		}
		for _, h := range kw {
			score := -h.Rank
			if score < 0 {
				score = 0
			}
			if best > 0 {
				score /= best
			}
			keyword[h.TicketID] = score
		}
	}

	ids := make(map[string]struct{}, len(semantic)+len(keyword))
	for id := range semantic {
		ids[id] = struct{}{}
	}
	for id := range keyword {
		ids[id] = struct{}{}
	}

	hits := make([]SearchHit, 0, len(ids))
	for id := range ids {
		ticket, err := s.store.GetTicket(ctx, id)
		if err != nil {
			continue
		}
		sem, inSem := semantic[id]
		kw, inKw := keyword[id]
		matched := "semantic"
		if inSem && inKw {
			matched = "both"
		} else if inKw {
			matched = "keyword"
		}
		hits = append(hits, SearchHit{
			Ticket:         ticket,
			RelevanceScore: semanticWeight*sem + keywordWeight*kw,
			MatchedIn:      matched,
			Preview:        truncate(ticket.Description, previewLen),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].RelevanceScore > hits[j].RelevanceScore })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// List returns a workflow's tickets, optionally narrowed to a board column
// and fuzzy-filtered on title, tags and description.
func (s *Service) List(ctx context.Context, workflowID, status, filter string) ([]*core.Ticket, error) {
	tickets, err := s.store.ListTickets(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if status != "" {
		kept := tickets[:0]
		for _, t := range tickets {
			if t.Status == status {
				kept = append(kept, t)
			}
		}
		tickets = kept
	}
	if filter == "" {
		return tickets, nil
	}

	haystack := make([]string, len(tickets))
	for i, t := range tickets {
		haystack[i] = t.Title + " " + strings.Join(t.Tags, " ") + " " + t.Description
	}
	matches := fuzzy.Find(filter, haystack)
	out := make([]*core.Ticket, 0, len(matches))
	for _, m := range matches {
		out = append(out, tickets[m.Index])
	}
	return out, nil
}

// Get loads one ticket with its comments, commits and history.
func (s *Service) Get(ctx context.Context, ticketID string) (*core.Ticket, []*core.TicketComment, []*core.TicketCommit, []*core.TicketHistory, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	comments, err := s.store.ListTicketComments(ctx, ticketID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	commits, err := s.store.ListTicketCommits(ctx, ticketID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	history, err := s.store.ListTicketHistory(ctx, ticketID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return ticket, comments, commits, history, nil
}

// RequestClarification arbitrates conflicting solution proposals on a ticket.
// Recent board and task context feeds the prompt; the verdict lands as a
// clarification comment.
func (s *Service) RequestClarification(ctx context.Context, ticketID, actorID, conflict, background string, solutions []string) (*core.TicketComment, error) {
	if conflict == "" {
		return nil, core.ErrValidation(core.CodeMissingField, "conflict description is required")
	}
	if len(solutions) < 2 {
		return nil, core.ErrSemantic("CLARIFICATION_NEEDS_OPTIONS",
			"at least two potential solutions are required")
	}
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	recentTickets, err := s.store.ListRecentTickets(ctx, ticket.WorkflowID, clarificationContextSize)
	if err != nil {
		return nil, err
	}
	recentTasks, err := s.store.ListRecentTasks(ctx, ticket.WorkflowID, clarificationContextSize)
	if err != nil {
		return nil, err
	}
	tickets := make([]core.Ticket, 0, len(recentTickets))
	for _, t := range recentTickets {
		tickets = append(tickets, *t)
	}
	tasks := make([]core.Task, 0, len(recentTasks))
	for _, t := range recentTasks {
		tasks = append(tasks, *t)
	}

	verdict, err := s.llm.ResolveTicketClarification(ctx, conflict, background, solutions, tickets, tasks)
	if err != nil {
		return nil, core.ErrExecution("CLARIFICATION_FAILED",
			fmt.Sprintf("arbitration failed: %v", err))
	}

	comment, err := s.Comment(ctx, ticketID, actorID, verdict, "clarification")
	if err != nil {
		return nil, err
	}
	s.bus.Publish(events.NewTicketClarificationRequestedEvent(ticket.WorkflowID, ticketID, actorID))
	s.log.WithTicket(ticketID).Info("clarification arbitrated", "solutions", len(solutions))
	return comment, nil
}

// indexTicket upserts the ticket's embedding; failures only log.
func (s *Service) indexTicket(ctx context.Context, t *core.Ticket) {
	text := t.Title + "\n" + t.Description
	embedding, err := s.llm.GenerateEmbedding(ctx, text)
	if err != nil {
		s.log.WithTicket(t.ID).Warn("ticket embedding failed", "error", err)
		return
	}
	payload := map[string]string{"workflow_id": t.WorkflowID, "title": t.Title}
	if err := s.vec.Upsert(ctx, vector.CollectionTickets, t.ID, embedding, payload); err != nil {
		s.log.WithTicket(t.ID).Warn("ticket index upsert failed", "error", err)
	}
}

func jsonString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
