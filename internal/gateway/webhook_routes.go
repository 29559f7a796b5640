package gateway

import (
	"net/http"

	"github.com/haasonsaas/agentgate/internal/agentloop"
)

type webhookRequest struct {
	SessionID string `json:"session_id"`
	Channel   string `json:"channel"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
}

// handleWebhook serves POST /api/webhook: an external event triggers one
// agent turn, gated by the webhooks.token config (separate from the
// gateway's main auth mode).
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.webhookAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.deps.Sessions == nil || s.deps.Loop == nil {
		writeError(w, http.StatusServiceUnavailable, "agent loop unavailable")
		return
	}

	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID, err := s.resolveSession(chatRequest{
		SessionID: req.SessionID,
		Channel:   req.Channel,
		UserID:    req.UserID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp, err := s.deps.Loop.ProcessMessage(r.Context(), agentloop.Request{
		SessionID: sessionID,
		Content:   req.Content,
		Mode:      agentloop.ModeNonStreaming,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "content": resp.Content})
}
