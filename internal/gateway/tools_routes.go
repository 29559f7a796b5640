package gateway

import "net/http"

type toolActionRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

// handleToolsLoad serves POST /api/tools/load: promote a deferred or
// dynamic tool into one session's active set.
func (s *Server) handleToolsLoad(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		writeError(w, http.StatusServiceUnavailable, "tool registry unavailable")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req toolActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := s.deps.Registry.GetSessionView(req.SessionID).Promote(req.Name)
	if result.Error != "" {
		writeError(w, http.StatusBadRequest, result.Error)
		return
	}
	s.broadcast(req.SessionID, wsEvent{Type: "data_update", Resource: "tools"})
	writeJSON(w, http.StatusOK, result)
}

// handleToolsUnload serves POST /api/tools/unload: demote a currently
// active core tool for one session.
func (s *Server) handleToolsUnload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		writeError(w, http.StatusServiceUnavailable, "tool registry unavailable")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req toolActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := s.deps.Registry.GetSessionView(req.SessionID).Demote(req.Name)
	if result.Error != "" {
		writeError(w, http.StatusBadRequest, result.Error)
		return
	}
	s.broadcast(req.SessionID, wsEvent{Type: "data_update", Resource: "tools"})
	writeJSON(w, http.StatusOK, result)
}
