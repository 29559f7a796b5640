package gateway

import (
	"encoding/json"
	"net/http"
)

// registerRoutes wires every HTTP route the gateway serves plus the /ws
// upgrade endpoint, using a plain ServeMux with per-route method guards
// and promhttp for /metrics.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.Handle("/metrics", s.metrics.handler())

	s.route("/api/health", s.handleHealth)
	s.route("/api/status", s.requireAuth(s.handleStatus))

	s.route("/api/sessions", s.requireAuth(s.handleSessionsCollection))
	s.route("/api/sessions/main", s.requireAuth(s.handleSessionsMain))
	s.route("/api/sessions/import", s.requireAuth(s.handleSessionsImport))
	s.route("/api/sessions/", s.requireAuth(s.handleSessionsItem))

	s.route("/api/chat", s.requireAuth(s.handleChat))
	s.route("/api/command", s.requireAuth(s.handleCommandRoute))

	s.route("/api/config", s.requireAuth(s.handleConfig))
	s.route("/api/config/full", s.requireAuth(s.handleConfigFull))

	s.route("/api/models", s.requireAuth(s.handleModels))
	s.route("/api/models/switch", s.requireAuth(s.handleModelsSwitch))

	s.route("/api/tools/load", s.requireAuth(s.handleToolsLoad))
	s.route("/api/tools/unload", s.requireAuth(s.handleToolsUnload))

	s.route("/api/webhook", s.handleWebhook)

	s.route("/v1/chat/completions", s.requireAuth(s.handleOpenAIChatCompletions))
	s.route("/v1/models", s.requireAuth(s.handleOpenAIModels))
}

// route registers h under path on the mux, instrumented with HTTP metrics
// keyed by the route pattern rather than the raw request URL.
func (s *Server) route(path string, h http.HandlerFunc) {
	s.mux.HandleFunc(path, s.metrics.instrument(path, h))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	model := ""
	if s.deps.Pool != nil {
		model = s.deps.Pool.CurrentProvider()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  timeSince(s.startTime),
		"model":   model,
		"version": s.deps.Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.eventsMu.Lock()
	events := append([]statusEvent(nil), s.events...)
	s.eventsMu.Unlock()

	sessionCount := 0
	if s.deps.Sessions != nil {
		if all, err := s.deps.Sessions.ListSessions(); err == nil {
			sessionCount = len(all)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":        timeSince(s.startTime),
		"session_count": sessionCount,
		"events":        events,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
