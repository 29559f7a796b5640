package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// maybeHandleCommand processes slash commands before they ever reach the
// LLM. It returns (reply, true) if content was a recognized command, or
// ("", false) if the content should instead be routed to the agent loop as
// a normal turn.
func (s *Server) maybeHandleCommand(sessionID, content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "/") {
		return "", false
	}
	fields := strings.Fields(trimmed)
	name := fields[0]
	args := fields[1:]

	switch name {
	case "/new":
		return s.cmdNew(sessionID), true
	case "/reset":
		return s.cmdReset(sessionID), true
	case "/factory-reset":
		return s.cmdFactoryReset(sessionID), true
	case "/status":
		return s.cmdStatus(sessionID), true
	case "/compact":
		return s.cmdCompact(sessionID, strings.Join(args, " ")), true
	case "/session":
		return s.cmdSession(sessionID, args), true
	case "/elevated":
		return s.cmdElevated(sessionID, args), true
	case "/model":
		return s.cmdModel(args), true
	case "/context":
		return s.cmdContext(sessionID), true
	case "/index":
		return s.cmdIndex(args), true
	case "/heartbeat":
		return s.cmdHeartbeat(args), true
	case "/think":
		return s.cmdThink(sessionID, args), true
	case "/verbose":
		return s.cmdVerbose(sessionID, args), true
	case "/usage":
		return s.cmdUsage(sessionID, args), true
	case "/repair":
		return s.cmdRepair(sessionID), true
	case "/help":
		return helpText, true
	default:
		return fmt.Sprintf("unknown command %q; try /help", name), true
	}
}

func (s *Server) cmdNew(sessionID string) string {
	if s.deps.Sessions == nil {
		return "sessions unavailable"
	}
	if err := s.deps.Sessions.ResetSession(sessionID); err != nil {
		return "reset failed: " + err.Error()
	}
	return "started a new conversation"
}

func (s *Server) cmdReset(sessionID string) string {
	return s.cmdNew(sessionID)
}

func (s *Server) cmdFactoryReset(sessionID string) string {
	if s.deps.Sessions == nil {
		return "sessions unavailable"
	}
	if err := s.deps.Sessions.DeleteSession(sessionID); err != nil {
		return "factory reset failed: " + err.Error()
	}
	return "session deleted; a fresh one will be created on next message"
}

func (s *Server) cmdStatus(sessionID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "uptime: %s\n", timeSince(s.startTime))
	if s.deps.Pool != nil {
		fmt.Fprintf(&b, "provider: %s\n", s.deps.Pool.CurrentProvider())
	}
	if s.deps.Sessions != nil {
		tokens, _ := s.deps.Sessions.EstimateTokens(sessionID)
		fmt.Fprintf(&b, "context: ~%d tokens\n", tokens)
	}
	fmt.Fprintf(&b, "presence: %s\n", presenceString(s.presence.isBusy(sessionID)))
	if s.deps.Heartbeat != nil {
		fmt.Fprintf(&b, "heartbeat: running=%v last=%s\n", s.deps.Heartbeat.IsRunning(), s.deps.Heartbeat.LastCategory())
	}
	return b.String()
}

func (s *Server) cmdCompact(sessionID, instruction string) string {
	if s.deps.Sessions == nil {
		return "sessions unavailable"
	}
	if err := s.deps.Sessions.CompactWithSummary(sessionID, 10, instruction); err != nil {
		return "compaction failed: " + err.Error()
	}
	return "conversation compacted"
}

func (s *Server) cmdSession(sessionID string, args []string) string {
	if len(args) == 0 || args[0] != "main" {
		return "usage: /session main"
	}
	if s.deps.Sessions == nil {
		return "sessions unavailable"
	}
	s.deps.Sessions.SetMainSession(sessionID)
	return "this session is now the main session"
}

func (s *Server) cmdElevated(sessionID string, args []string) string {
	if s.deps.Sessions == nil {
		return "sessions unavailable"
	}
	if len(args) == 0 {
		return "usage: /elevated on|off"
	}
	on, err := parseOnOff(args[0])
	if err != nil {
		return err.Error()
	}
	if err := s.deps.Sessions.SetElevated(sessionID, on); err != nil {
		return "failed: " + err.Error()
	}
	return fmt.Sprintf("elevated: %v", on)
}

func (s *Server) cmdModel(args []string) string {
	if s.deps.Pool == nil {
		return "provider pool unavailable"
	}
	if len(args) == 0 {
		return "current model: " + s.deps.Pool.CurrentProvider()
	}
	if err := s.deps.Pool.SwitchModel(args[0]); err != nil {
		return "switch failed: " + err.Error()
	}
	return "switched to " + args[0]
}

func (s *Server) cmdContext(sessionID string) string {
	stats := s.contextStats(sessionID)
	return fmt.Sprintf("context: %d/%d tokens (%.1f%%)", stats.Tokens, stats.Limit, stats.Percent)
}

// cmdIndex covers the opaque embedding/BM25 index toggle. No index
// subsystem is implemented here (SPEC_FULL.md's Non-goals exclude the
// retrieval engine itself); every subcommand only returns a reply and
// changes no state.
func (s *Server) cmdIndex(args []string) string {
	if len(args) == 0 {
		return "usage: /index on|off|status|rebuild"
	}
	switch args[0] {
	case "status":
		return "index status unavailable: no index manager configured"
	case "rebuild":
		return "index rebuild requested: no index manager configured"
	case "on", "off":
		return fmt.Sprintf("index: %s (flag only, no index manager configured)", args[0])
	default:
		return "usage: /index on|off|status|rebuild"
	}
}

func (s *Server) cmdHeartbeat(args []string) string {
	if s.deps.Heartbeat == nil {
		return "heartbeat not configured"
	}
	if len(args) == 0 {
		return "usage: /heartbeat on|off|force|status|now"
	}
	switch args[0] {
	case "status":
		return fmt.Sprintf("running=%v last=%s", s.deps.Heartbeat.IsRunning(), s.deps.Heartbeat.LastCategory())
	case "force", "now":
		act := s.deps.Heartbeat.RunOnce(context.Background())
		return fmt.Sprintf("heartbeat ran: %s", act.Category)
	case "on":
		s.deps.Heartbeat.Start(context.Background())
		return "heartbeat started"
	case "off":
		s.deps.Heartbeat.Stop()
		return "heartbeat stopped"
	default:
		return "usage: /heartbeat on|off|force|status|now"
	}
}

func (s *Server) cmdThink(sessionID string, args []string) string {
	if len(args) == 0 {
		return "usage: /think off|minimal|low|medium|high"
	}
	level := args[0]
	switch level {
	case "off", "minimal", "low", "medium", "high":
		s.sessionPrefsFor(sessionID).ThinkLevel = level
		return "reasoning effort: " + level
	default:
		return "usage: /think off|minimal|low|medium|high"
	}
}

func (s *Server) cmdVerbose(sessionID string, args []string) string {
	if len(args) == 0 {
		return "usage: /verbose on|off"
	}
	on, err := parseOnOff(args[0])
	if err != nil {
		return err.Error()
	}
	s.sessionPrefsFor(sessionID).Verbose = on
	return fmt.Sprintf("verbose: %v", on)
}

func (s *Server) cmdUsage(sessionID string, args []string) string {
	if len(args) == 0 {
		return "usage: /usage off|tokens|full"
	}
	switch args[0] {
	case "off", "tokens", "full":
		s.sessionPrefsFor(sessionID).UsageMode = args[0]
		return "usage reporting: " + args[0]
	default:
		return "usage: /usage off|tokens|full"
	}
}

func (s *Server) cmdRepair(sessionID string) string {
	if s.deps.Sessions == nil {
		return "sessions unavailable"
	}
	if err := s.deps.Sessions.RepairToolPairs(sessionID); err != nil {
		return "repair failed: " + err.Error()
	}
	return "tool-call pairing repaired"
}

func parseOnOff(arg string) (bool, error) {
	switch arg {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected on|off, got %q", arg)
	}
}

func timeSince(t time.Time) string { return time.Since(t).Round(time.Second).String() }

const helpText = `Available commands:
/new, /reset                start a new conversation
/factory-reset               delete this session entirely
/status                       provider, context, and presence summary
/compact [instructions]       summarize and trim the log
/session main                 make this the main session
/elevated on|off               toggle elevated mode
/model [name]                  show or switch the active provider
/context                       show token usage against the context limit
/index on|off|status|rebuild   (opaque) retrieval index controls
/heartbeat on|off|force|status|now
/think off|minimal|low|medium|high
/verbose on|off
/usage off|tokens|full
/repair                        fix orphaned tool-call pairing
/help                          this message`
