package gateway

import "net/http"

type modelEntry struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	Priority int    `json:"priority"`
	FailCount int   `json:"fail_count"`
	Current  bool   `json:"current"`
}

// handleModels serves GET /api/models: the provider pool's entries in
// priority order, with fail counts and the currently selected entry
// flagged.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pool == nil {
		writeError(w, http.StatusServiceUnavailable, "provider pool unavailable")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries := s.deps.Pool.Entries()
	current := s.deps.Pool.CurrentIndex()
	out := make([]modelEntry, 0, len(entries))
	for i, e := range entries {
		out = append(out, modelEntry{
			Name:      e.Name,
			Model:     e.Model,
			Priority:  e.Priority,
			FailCount: s.deps.Pool.FailCount(e.Name),
			Current:   i == current,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleModelsSwitch serves POST /api/models/switch: {name} selects a
// provider by name, per providerpool.Pool.SwitchModel.
func (s *Server) handleModelsSwitch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pool == nil {
		writeError(w, http.StatusServiceUnavailable, "provider pool unavailable")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Pool.SwitchModel(body.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.broadcast("", wsEvent{Type: "data_update", Resource: "models"})
	writeJSON(w, http.StatusOK, map[string]string{"current": body.Name})
}
