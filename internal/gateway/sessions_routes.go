package gateway

import (
	"net/http"
	"strings"

	"github.com/haasonsaas/agentgate/internal/sessionmgr"
)

// handleSessionsCollection serves GET /api/sessions (list).
func (s *Server) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessions, err := s.deps.Sessions.ListSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleSessionsItem dispatches the /api/sessions/:id[...] family: plain
// GET/DELETE on the id, plus the /export and /duplicate sub-actions.
func (s *Server) handleSessionsItem(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "session id required")
		return
	}
	id := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "export":
			s.handleSessionExport(w, r, id)
			return
		case "duplicate":
			s.handleSessionDuplicate(w, r, id)
			return
		default:
			writeError(w, http.StatusNotFound, "unknown sub-resource")
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		sess, err := s.deps.Sessions.GetSession(id)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		messages, _ := s.deps.Sessions.GetMessages(id)
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "messages": messages})
	case http.MethodDelete:
		if err := s.deps.Sessions.DeleteSession(id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.broadcast("", wsEvent{Type: "data_update", Resource: "sessions"})
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rec, err := s.deps.Sessions.Export(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.json"`)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSessionsImport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var rec sessionmgr.Record
	if err := decodeJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Sessions.Import(&rec); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.broadcast("", wsEvent{Type: "data_update", Resource: "sessions"})
	writeJSON(w, http.StatusOK, map[string]string{"status": "imported", "id": rec.Session.ID})
}

func (s *Server) handleSessionDuplicate(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	src, err := s.deps.Sessions.GetSession(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	clone, err := s.deps.Sessions.DuplicateSession(id, src.Channel, src.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.broadcast("", wsEvent{Type: "data_update", Resource: "sessions"})
	writeJSON(w, http.StatusOK, clone)
}

// handleSessionsMain serves GET/POST /api/sessions/main.
func (s *Server) handleSessionsMain(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"session_id": s.deps.Sessions.GetMainSessionID()})
	case http.MethodPost:
		var body struct {
			SessionID string `json:"session_id"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.deps.Sessions.SetMainSession(body.SessionID)
		writeJSON(w, http.StatusOK, map[string]string{"session_id": body.SessionID})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
