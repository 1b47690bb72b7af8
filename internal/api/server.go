// Package api exposes the orchestrator over HTTP: the agent tool surface,
// the ticket board, workflow management, SSE and WebSocket event streams.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hephaestus-ai/hephaestus/internal/events"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/service/agent"
	"github.com/hephaestus-ai/hephaestus/internal/service/phase"
	"github.com/hephaestus-ai/hephaestus/internal/service/queue"
	"github.com/hephaestus-ai/hephaestus/internal/service/task"
	"github.com/hephaestus-ai/hephaestus/internal/service/ticket"
	"github.com/hephaestus-ai/hephaestus/internal/service/validation"
	"github.com/hephaestus-ai/hephaestus/internal/store"
)

// Server wires the service layer to HTTP handlers.
type Server struct {
	router chi.Router

	store      *store.Store
	tasks      *task.Service
	tickets    *ticket.Service
	agents     *agent.Manager
	queue      *queue.Service
	phases     *phase.Engine
	validation *validation.Engine
	bus        *events.Bus

	enableCORS bool
	log        *logging.Logger
}

// Deps carries everything the server needs.
type Deps struct {
	Store      *store.Store
	Tasks      *task.Service
	Tickets    *ticket.Service
	Agents     *agent.Manager
	Queue      *queue.Service
	Phases     *phase.Engine
	Validation *validation.Engine
	Bus        *events.Bus
	EnableCORS bool
	Log        *logging.Logger
}

// NewServer creates the API server and builds its router.
func NewServer(d Deps) *Server {
	s := &Server{
		store:      d.Store,
		tasks:      d.Tasks,
		tickets:    d.Tickets,
		agents:     d.Agents,
		queue:      d.Queue,
		phases:     d.Phases,
		validation: d.Validation,
		bus:        d.Bus,
		enableCORS: d.EnableCORS,
		log:        d.Log,
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(s.loggingMiddleware)

	if s.enableCORS {
		corsHandler := cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Agent-ID", "X-Requested-With"},
			AllowCredentials: false,
			MaxAge:           300,
		})
		r.Use(corsHandler.Handler)
	}

	// Unauthenticated surface.
	r.Get("/health", s.handleHealth)
	r.Get("/sse", s.handleSSE)
	r.Get("/ws", s.handleWebSocket)

	// Agent tool surface and board, gated on X-Agent-ID.
	r.Group(func(r chi.Router) {
		r.Use(s.agentAuth)

		r.Post("/create_task", s.handleCreateTask)
		r.Post("/update_task_status", s.handleUpdateTaskStatus)
		r.Post("/save_memory", s.handleSaveMemory)
		r.Post("/report_results", s.handleReportResults)
		r.Post("/submit_result", s.handleSubmitResult)
		r.Post("/give_validation_review", s.handleGiveValidationReview)
		r.Post("/submit_result_validation", s.handleSubmitResultValidation)
		r.Get("/get_tasks", s.handleGetTasks)

		r.Route("/api", func(r chi.Router) {
			r.Post("/broadcast_message", s.handleBroadcast)
			r.Post("/send_message", s.handleSendMessage)
			r.Post("/terminate_agent", s.handleTerminateAgent)
			r.Post("/bump_task_priority", s.handleBumpTask)
			r.Post("/cancel_queued_task", s.handleCancelQueuedTask)
			r.Post("/restart_task", s.handleRestartTask)
			r.Get("/queue_status", s.handleQueueStatus)

			r.Route("/tickets", func(r chi.Router) {
				r.Get("/", s.handleListTickets)
				r.Get("/{ticketID}", s.handleGetTicket)
				r.Post("/create", s.handleCreateTicket)
				r.Post("/update", s.handleUpdateTicket)
				r.Post("/change-status", s.handleChangeTicketStatus)
				r.Post("/comment", s.handleCommentTicket)
				r.Post("/resolve", s.handleResolveTicket)
				r.Post("/link-commit", s.handleLinkCommit)
				r.Post("/search", s.handleSearchTickets)
				r.Post("/request-clarification", s.handleRequestClarification)
				r.Post("/approve", s.handleApproveTicket)
				r.Post("/reject", s.handleRejectTicket)
			})

			r.Post("/workflow-definitions", s.handleRegisterDefinition)
			r.Get("/workflow-definitions", s.handleListDefinitions)
			r.Post("/workflow-executions", s.handleStartExecution)
			r.Get("/workflow-executions/{workflowID}", s.handleGetExecution)
		})
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// agentAuth requires a known X-Agent-ID. Root/SDK callers are always
// admitted; everyone else must be a registered agent.
func (s *Server) agentAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := r.Header.Get("X-Agent-ID")
		if agentID == "" {
			respondError(w, http.StatusUnauthorized, "X-Agent-ID header is required")
			return
		}
		if !task.IsRootCaller(agentID) {
			if _, err := s.store.GetAgent(r.Context(), agentID); err != nil {
				respondError(w, http.StatusUnauthorized, "unknown agent: "+agentID)
				return
			}
		}
		ctx := context.WithValue(r.Context(), callerKey{}, agentID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type callerKey struct{}

// callerID returns the authenticated X-Agent-ID of the request.
func callerID(r *http.Request) string {
	if v, ok := r.Context().Value(callerKey{}).(string); ok {
		return v
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON parses a request body into dst.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
