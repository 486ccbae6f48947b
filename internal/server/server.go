// Package server exposes the chat assistant and its memory over HTTP.
package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"churnpilot/internal/customer"
	"churnpilot/internal/logger"
	"churnpilot/internal/memory"
	"churnpilot/internal/session"
	"churnpilot/pkg"
)

const apologyReply = "I'm sorry, I ran into a problem while working on that. Your question has been saved; please try again in a moment."

// chatter is the slice of the orchestrator the server depends on.
type chatter interface {
	Chat(ctx context.Context, sessionID, query string) (*pkg.ChatResult, error)
}

// Server routes HTTP requests to the agent, the conversation memory and the
// customer data store.
type Server struct {
	chat      chatter
	memory    *memory.Store
	customers *customer.Store
	sessions  session.Registry
	mux       *http.ServeMux
}

// New assembles the server and its routes.
func New(chat chatter, mem *memory.Store, customers *customer.Store, sessions session.Registry) *Server {
	s := &Server{
		chat:      chat,
		memory:    mem,
		customers: customers,
		sessions:  sessions,
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/summary", s.handleSessionSummary)
	s.mux.HandleFunc("GET /api/sessions/{id}/context", s.handleSessionContext)
	s.mux.HandleFunc("GET /api/sessions/{id}/activity", s.handleSessionActivity)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("DELETE /api/memory", s.handleClearMemory)
	s.mux.HandleFunc("GET /api/customers", s.handleListCustomers)
	s.mux.HandleFunc("GET /api/customers/{id}/memory", s.handleCustomerMemory)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Dur("elapsed", time.Since(start)).
		Msg("request handled")
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	SessionID  string          `json:"session_id"`
	Reply      string          `json:"reply"`
	Attempts   int             `json:"attempts,omitempty"`
	Evaluated  bool            `json:"evaluated"`
	ToolEvents []pkg.ToolEvent `json:"tool_events,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req chatRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID, err := s.sessions.Resolve(r.Context(), req.SessionID)
	if err != nil {
		logger.Error().Err(err).Msg("session resolution failed")
		writeError(w, http.StatusInternalServerError, "session registry unavailable")
		return
	}

	result, err := s.chat.Chat(r.Context(), sessionID, req.Message)
	if err != nil {
		// The user's message is already on the record; answer apologetically
		// rather than surfacing an agent failure as a transport error.
		logger.Error().Err(err).Str("session_id", sessionID).Msg("chat turn failed")
		writeJSON(w, http.StatusOK, chatResponse{
			SessionID: sessionID,
			Reply:     apologyReply,
			Error:     "agent_failure",
		})
		return
	}

	if err := s.sessions.RecordActivity(r.Context(), sessionID, result.ToolEvents); err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to record session activity")
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:  result.SessionID,
		Reply:      result.Reply,
		Attempts:   result.Attempts,
		Evaluated:  result.Verdict != nil,
		ToolEvents: result.ToolEvents,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.memory.Sessions(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("failed to list sessions")
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []memory.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	summary, err := s.memory.ConversationSummary(r.Context(), sessionID, 50)
	if err != nil {
		logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to build summary")
		writeError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"summary":    summary,
	})
}

func (s *Server) handleSessionContext(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	messages, err := s.memory.RecentContext(r.Context(), sessionID, 50)
	if err != nil {
		logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to load context")
		writeError(w, http.StatusInternalServerError, "failed to load context")
		return
	}
	if messages == nil {
		messages = []pkg.ConversationMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
		"count":      len(messages),
	})
}

func (s *Server) handleSessionActivity(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	info, ok, err := s.memory.Session(r.Context(), sessionID)
	if err != nil {
		logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to load session")
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	events, err := s.sessions.Activity(r.Context(), sessionID)
	if err != nil {
		logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to load activity")
		writeError(w, http.StatusInternalServerError, "failed to load activity")
		return
	}
	if events == nil {
		events = []pkg.ToolEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":     info,
		"tool_events": events,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if err := s.memory.ClearSession(r.Context(), sessionID); err != nil {
		logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to clear session")
		writeError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	if err := s.sessions.Delete(r.Context(), sessionID); err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to drop session token")
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     "cleared",
	})
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	if err := s.memory.ClearAll(r.Context()); err != nil {
		logger.Error().Err(err).Msg("failed to clear memory")
		writeError(w, http.StatusInternalServerError, "failed to clear memory")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	ids := s.customers.AvailableCustomers()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customers": ids,
		"count":     len(ids),
	})
}

func (s *Server) handleCustomerMemory(w http.ResponseWriter, r *http.Request) {
	customerID := r.PathValue("id")
	summary, err := s.memory.CustomerContextSummary(r.Context(), customerID)
	if err != nil {
		logger.Error().Err(err).Str("customer_id", customerID).Msg("failed to load customer memory")
		writeError(w, http.StatusInternalServerError, "failed to load customer memory")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"customer_id": customerID,
		"summary":     summary,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := sonic.Marshal(body)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
