// Package agentloop implements the agent reason/act loop: streaming,
// non-streaming, chat-only, and restricted modes sharing one per-turn
// skeleton, system-prompt assembly, and parallel tool dispatch with
// order-preserving result placement.
package agentloop

import (
	"time"

	"github.com/haasonsaas/agentgate/pkg/models"
)

// Mode selects which variant of the shared skeleton a turn runs under.
type Mode int

const (
	// ModeStreaming forwards content deltas to an OnStream callback.
	ModeStreaming Mode = iota
	// ModeNonStreaming waits for the complete provider response each iteration.
	ModeNonStreaming
	// ModeChatOnly never offers tool definitions to the provider.
	ModeChatOnly
	// ModeRestricted offers only a caller-supplied subset of active tools
	// and runs a lower iteration cap.
	ModeRestricted
)

const (
	maxIterationsStandard   = 50
	maxIterationsRestricted = 20
)

// MaxIterations returns the iteration cap for mode.
func MaxIterations(mode Mode) int {
	if mode == ModeRestricted {
		return maxIterationsRestricted
	}
	return maxIterationsStandard
}

const maxIterationsSentinel = "(max tool iterations reached)"

// Request is one user turn submitted to the loop.
type Request struct {
	SessionID    string
	Content      string
	Mode         Mode
	AllowedTools []string // only consulted in ModeRestricted

	OnStream   func(content string)
	OnToolCall func(models.ToolEvent)
}

// Response is the outcome of a turn. For an aborted turn Interrupted is set
// and Content holds whatever was streamed before the abort.
type Response struct {
	Content   string
	ToolCalls []models.ToolEvent
	Usage     models.Usage
	Interrupted bool
}

// BeforeMessageFunc runs before a user message is appended to the log. A nil
// return blocks the message; the loop replies with a fixed placeholder.
type BeforeMessageFunc func(sessionID, content string) *string

// AfterResponseFunc post-processes the final content before it's returned;
// its return value replaces the response content. The assistant message
// already appended to the session log keeps the unprocessed text.
type AfterResponseFunc func(sessionID, content string) string

// pendingTurn is one FIFO-queued request awaiting its turn on a session.
type pendingTurn struct {
	req  Request
	done chan turnResult
}

type turnResult struct {
	resp *Response
	err  error
}

// EnvironmentInfo is the environment block injected into every system
// prompt: date, local time, platform, working directory, runtime version.
type EnvironmentInfo struct {
	Now             time.Time
	Platform        string
	WorkingDir      string
	RuntimeVersion  string
}
