package gateway

import (
	"net/http"
	"strings"

	"github.com/haasonsaas/agentgate/internal/agentloop"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// recordToolEvent feeds one completed tool call into the gateway's
// tool-execution metric. Success/error is inferred from dispatch's
// "Error: " content prefix since models.ToolEvent carries no status field.
// Events with an empty result are skipped: that is the pre-dispatch event,
// so a completed call whose output is empty is not counted either.
func (s *Server) recordToolEvent(ev models.ToolEvent) {
	if ev.Result == "" {
		return
	}
	s.metrics.recordToolExecution(ev.Name, strings.HasPrefix(ev.Result, "Error: "))
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Channel   string `json:"channel"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
}

// resolveSession finds or mints the session a /api/chat or /api/command
// request targets: an explicit session_id wins, otherwise channel+user_id
// key a stable per-identity session the way the session manager's other
// callers (e.g. a channel adapter) would.
func (s *Server) resolveSession(req chatRequest) (string, error) {
	if req.SessionID != "" {
		return req.SessionID, nil
	}
	channel := req.Channel
	if channel == "" {
		channel = "api"
	}
	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}
	sess, err := s.deps.Sessions.GetOrCreate(channel, userID)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// handleChat serves POST /api/chat: a non-streaming one-shot turn. Slash
// commands are intercepted before reaching the agent loop.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Sessions == nil || s.deps.Loop == nil {
		writeError(w, http.StatusServiceUnavailable, "agent loop unavailable")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID, err := s.resolveSession(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.rateLimit.Allow(sessionID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if reply, handled := s.maybeHandleCommand(sessionID, req.Content); handled {
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sessionID,
			"content":    reply,
			"command":    true,
		})
		return
	}

	resp, err := s.deps.Loop.ProcessMessage(r.Context(), agentloop.Request{
		SessionID: sessionID,
		Content:   req.Content,
		Mode:      agentloop.ModeNonStreaming,
		OnToolCall: func(ev models.ToolEvent) {
			s.recordToolEvent(ev)
		},
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"content":    resp.Content,
		"tool_calls": resp.ToolCalls,
		"usage":      resp.Usage,
	})
}

// handleCommandRoute serves POST /api/command: execute a slash command
// without ever falling through to the agent loop.
func (s *Server) handleCommandRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID, err := s.resolveSession(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	reply, handled := s.maybeHandleCommand(sessionID, req.Content)
	if !handled {
		writeError(w, http.StatusBadRequest, "not a recognized command")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "content": reply})
}
