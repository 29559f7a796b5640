package gateway

import (
	"github.com/haasonsaas/agentgate/pkg/models"
)

// wsEvent is the one server->client frame shape, a superset of every
// per-type payload the protocol sends. Unused fields are omitted from the
// wire encoding via `omitempty`/pointer fields.
type wsEvent struct {
	Type string `json:"type"`

	SessionID  string         `json:"session_id,omitempty"`
	ClientID   string         `json:"client_id,omitempty"`
	Presence   string         `json:"presence,omitempty"`
	Context    *ContextStats  `json:"context,omitempty"`
	Processing *bool          `json:"processing,omitempty"`
	Messages   []models.Message `json:"messages,omitempty"`

	Content string `json:"content,omitempty"`

	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Result    string `json:"result,omitempty"`

	ToolCalls []models.ToolEvent `json:"tool_calls,omitempty"`
	Usage     *models.Usage      `json:"usage,omitempty"`
	Done      bool               `json:"done,omitempty"`

	Aborted bool `json:"aborted,omitempty"`

	Active *bool `json:"active,omitempty"`

	Message string `json:"message,omitempty"`

	Resource string `json:"resource,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// ContextStats is the token-budget summary attached to several
// server->client frames.
type ContextStats struct {
	Tokens  int     `json:"tokens"`
	Limit   int     `json:"limit"`
	Percent float64 `json:"percent"`
}

// contextStats computes the token-usage summary for a session against the
// configured context limit.
func (s *Server) contextStats(sessionID string) *ContextStats {
	tokens := 0
	if s.deps.Sessions != nil {
		tokens, _ = s.deps.Sessions.EstimateTokens(sessionID)
	}
	limit := 0
	if s.deps.Config != nil {
		limit = s.deps.Config.Get().Sessions.ContextLimit
	}
	pct := 0.0
	if limit > 0 {
		pct = float64(tokens) / float64(limit) * 100
	}
	return &ContextStats{Tokens: tokens, Limit: limit, Percent: pct}
}

// sessionPrefs are the lightweight per-session settings the thin
// "verbosity"/"usage reporting"/"reasoning effort" slash commands toggle.
// These sit in front of capabilities this gateway treats as external (the
// embedding index, a model's internal reasoning-effort dial), so the
// gateway only tracks the client-visible flag; no deeper subsystem is
// wired behind them.
type sessionPrefs struct {
	Verbose     bool
	UsageMode   string // "off" | "tokens" | "full"
	ThinkLevel  string // "off" | "minimal" | "low" | "medium" | "high"
	IndexOn     bool
}

func defaultSessionPrefs() *sessionPrefs {
	return &sessionPrefs{UsageMode: "off", ThinkLevel: "off"}
}

func (s *Server) sessionPrefsFor(sessionID string) *sessionPrefs {
	s.prefsMu.Lock()
	defer s.prefsMu.Unlock()
	p, ok := s.prefs[sessionID]
	if !ok {
		p = defaultSessionPrefs()
		s.prefs[sessionID] = p
	}
	return p
}
