package gateway

import "net/http"

// handleConfig serves GET /api/config (masked, safe for any authorized
// client to read) and PUT /api/config (deep-merged update, implemented in
// config.Manager.Update).
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		writeError(w, http.StatusServiceUnavailable, "config unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		masked, err := s.deps.Config.GetMasked()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, masked)
	case http.MethodPut:
		var patch map[string]any
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg, err := s.deps.Config.Update(patch)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleConfigFull serves GET /api/config/full: the complete document
// including secrets, for trusted admin tooling only (auth still applies).
func (s *Server) handleConfigFull(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		writeError(w, http.StatusServiceUnavailable, "config unavailable")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Config.Get())
}
