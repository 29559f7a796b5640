package agentloop

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/haasonsaas/agentgate/internal/providerpool"
	"github.com/haasonsaas/agentgate/internal/sessionmgr"
	"github.com/haasonsaas/agentgate/internal/toolregistry"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// Config holds the loop's environment and prompt inputs that don't belong
// to any single session.
type Config struct {
	SystemPrompt   string
	Platform       string
	WorkingDir     string
	RuntimeVersion string
	Workdir        string // passed through to tool ExecContext
}

// Loop is the Agent Loop: per-session FIFO single-flight turns over a
// reason/act skeleton that interleaves streaming completions with parallel
// tool dispatch.
type Loop struct {
	pool     *providerpool.Pool
	registry *toolregistry.Registry
	sessions *sessionmgr.Manager
	cfg      Config
	trace    *TraceSink

	beforeMessage BeforeMessageFunc
	afterResponse AfterResponseFunc
	skillsBlock   func() string
	memoryBlock   func() string
	onPresence    func(sessionID string, busy bool)

	mu         sync.Mutex
	processing map[string]bool
	queues     map[string][]*pendingTurn
	cancels    map[string]context.CancelFunc
}

// New builds a Loop over the given provider pool, tool registry, and
// session manager.
func New(pool *providerpool.Pool, registry *toolregistry.Registry, sessions *sessionmgr.Manager, cfg Config) *Loop {
	return &Loop{
		pool:       pool,
		registry:   registry,
		sessions:   sessions,
		cfg:        cfg,
		trace:      NewTraceSink(0),
		processing: make(map[string]bool),
		queues:     make(map[string][]*pendingTurn),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// SetBeforeMessage installs the pre-turn middleware hook.
func (l *Loop) SetBeforeMessage(fn BeforeMessageFunc) { l.beforeMessage = fn }

// SetAfterResponse installs the post-turn middleware hook.
func (l *Loop) SetAfterResponse(fn AfterResponseFunc) { l.afterResponse = fn }

// SetSkillsProvider installs the opaque skills-block text source.
func (l *Loop) SetSkillsProvider(fn func() string) { l.skillsBlock = fn }

// SetMemoryProvider installs the opaque memory-block text source.
func (l *Loop) SetMemoryProvider(fn func() string) { l.memoryBlock = fn }

// SetPresenceHook installs a callback fired true on turn start, false on end.
func (l *Loop) SetPresenceHook(fn func(sessionID string, busy bool)) { l.onPresence = fn }

// Trace returns the loop's trace sink.
func (l *Loop) Trace() *TraceSink { return l.trace }

// IsProcessing reports whether sessionID currently has a turn in flight.
func (l *Loop) IsProcessing(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processing[sessionID]
}

// InterruptSession aborts the in-flight turn for sessionID, if any, and
// drops its queued turns. Returns whether a turn was actually aborted.
func (l *Loop) InterruptSession(sessionID string) bool {
	l.mu.Lock()
	cancel, ok := l.cancels[sessionID]
	queued := l.queues[sessionID]
	l.queues[sessionID] = nil
	l.mu.Unlock()

	for _, pt := range queued {
		pt.done <- turnResult{err: errors.New("session interrupted before this turn started")}
	}
	if ok {
		cancel()
	}
	return ok
}

// ProcessMessage runs req through the loop, queueing it behind any turn
// already in flight for the same session (step 1 of the per-turn
// skeleton), and draining the queue in FIFO order once the current turn
// finishes (step 7).
func (l *Loop) ProcessMessage(ctx context.Context, req Request) (*Response, error) {
	l.mu.Lock()
	if l.processing[req.SessionID] {
		done := make(chan turnResult, 1)
		l.queues[req.SessionID] = append(l.queues[req.SessionID], &pendingTurn{req: req, done: done})
		l.mu.Unlock()
		result := <-done
		return result.resp, result.err
	}
	l.processing[req.SessionID] = true
	l.mu.Unlock()

	resp, err := l.runOneTurn(ctx, req)

	for {
		l.mu.Lock()
		q := l.queues[req.SessionID]
		if len(q) == 0 {
			l.processing[req.SessionID] = false
			l.mu.Unlock()
			break
		}
		next := q[0]
		l.queues[req.SessionID] = q[1:]
		l.mu.Unlock()

		nr, nerr := l.runOneTurn(ctx, next.req)
		next.done <- turnResult{resp: nr, err: nerr}
	}

	return resp, err
}

// runOneTurn executes steps 2-6 of the per-turn skeleton for a single
// request, assuming queue admission has already been handled.
func (l *Loop) runOneTurn(parent context.Context, req Request) (*Response, error) {
	if l.beforeMessage != nil {
		if blocked := l.beforeMessage(req.SessionID, req.Content); blocked == nil {
			return &Response{Content: "(message blocked by plugin middleware)"}, nil
		}
	}

	if err := l.sessions.AddMessage(req.SessionID, models.Message{
		Role:      models.RoleUser,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	l.mu.Lock()
	l.cancels[req.SessionID] = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.cancels, req.SessionID)
		l.mu.Unlock()
		cancel()
	}()

	if l.onPresence != nil {
		l.onPresence(req.SessionID, true)
		defer l.onPresence(req.SessionID, false)
	}

	resp, err := l.runIterations(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Interrupted {
		return resp, nil
	}

	if l.afterResponse != nil {
		resp.Content = l.afterResponse(req.SessionID, resp.Content)
	}
	return resp, nil
}

// runIterations is the core loop body: steps 4-5 of the skeleton.
func (l *Loop) runIterations(ctx context.Context, req Request) (*Response, error) {
	sess, err := l.sessions.GetSession(req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	view := l.registry.GetSessionView(req.SessionID)
	execCtx := toolregistry.ExecContext{SessionID: req.SessionID, Workdir: l.cfg.Workdir, Elevated: sess.Elevated}

	maxIter := MaxIterations(req.Mode)
	var accumulatedToolCalls []models.ToolEvent
	var totalUsage models.Usage

	for iter := 0; iter < maxIter; iter++ {
		l.trace.record(req.SessionID, PhaseInit, iter)

		if err := ctx.Err(); err != nil {
			return l.interruptedResponse(req.SessionID, ""), nil
		}

		msgs, err := l.sessions.GetMessages(req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("load messages: %w", err)
		}

		systemPrompt := buildSystemPrompt(SystemPromptInputs{
			ConfiguredPrompt: l.cfg.SystemPrompt,
			Env: EnvironmentInfo{
				Now:            time.Now(),
				Platform:       l.cfg.Platform,
				WorkingDir:     l.cfg.WorkingDir,
				RuntimeVersion: l.cfg.RuntimeVersion,
			},
			SessionID:   req.SessionID,
			Elevated:    sess.Elevated,
			SkillsBlock: l.callBlock(l.skillsBlock),
			MemoryBlock: l.callBlock(l.memoryBlock),
		}, view)

		toolDefs := l.toolDefsForMode(req, view)

		wireMsgs := toWireMessages(systemPrompt, msgs)
		chatReq := providerpool.ChatRequest{Messages: wireMsgs, Tools: toolDefs}

		content, toolCalls, usage, partial, interrupted, err := l.callProvider(ctx, req, chatReq)
		if interrupted {
			return l.interruptedResponse(req.SessionID, partial), nil
		}
		if err != nil {
			return nil, err
		}
		totalUsage.InputTokens += usage.InputTokens
		totalUsage.OutputTokens += usage.OutputTokens

		if len(toolCalls) == 0 {
			if err := l.sessions.AddMessage(req.SessionID, models.Message{
				Role:      models.RoleAssistant,
				Content:   content,
				CreatedAt: time.Now(),
			}); err != nil {
				return nil, fmt.Errorf("append assistant message: %w", err)
			}
			l.trace.record(req.SessionID, PhaseComplete, iter)
			return &Response{Content: content, ToolCalls: accumulatedToolCalls, Usage: totalUsage}, nil
		}

		if err := l.sessions.AddMessage(req.SessionID, models.Message{
			Role:      models.RoleAssistant,
			Content:   content,
			ToolCalls: toolCalls,
			CreatedAt: time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("append assistant tool-call message: %w", err)
		}

		l.trace.record(req.SessionID, PhaseExecuteTools, iter)
		results := dispatchToolCalls(ctx, view, execCtx, toolCalls, req.OnStream, req.OnToolCall)
		for _, r := range results {
			if err := l.sessions.AddMessage(req.SessionID, r.message); err != nil {
				return nil, fmt.Errorf("append tool message: %w", err)
			}
			accumulatedToolCalls = append(accumulatedToolCalls, r.event)
		}
		l.trace.record(req.SessionID, PhaseContinue, iter)
	}

	return &Response{Content: maxIterationsSentinel, ToolCalls: accumulatedToolCalls, Usage: totalUsage}, nil
}

func (l *Loop) callBlock(fn func() string) string {
	if fn == nil {
		return ""
	}
	return fn()
}

func (l *Loop) toolDefsForMode(req Request, view *toolregistry.View) []models.ToolDef {
	switch req.Mode {
	case ModeChatOnly:
		return nil
	case ModeRestricted:
		return view.GetToolDefsFiltered(req.AllowedTools)
	default:
		return view.GetToolDefs()
	}
}

func (l *Loop) interruptedResponse(sessionID, partial string) *Response {
	if l.trace != nil {
		l.trace.record(sessionID, PhaseComplete, -1)
	}
	return &Response{Content: partial, Interrupted: true}
}

// callProvider runs one provider-pool call for the current iteration,
// streaming content through req.OnStream in streaming mode and reassembling
// tool-call deltas from the incremental chunks the pool hands back.
func (l *Loop) callProvider(ctx context.Context, req Request, chatReq providerpool.ChatRequest) (content string, toolCalls []models.ToolCall, usage models.Usage, partial string, interrupted bool, err error) {
	if req.Mode != ModeStreaming {
		resp, cerr := l.pool.Chat(ctx, chatReq)
		if cerr != nil {
			if ctx.Err() != nil {
				return "", nil, models.Usage{}, "", true, nil
			}
			return "", nil, models.Usage{}, "", false, cerr
		}
		return resp.Content, resp.ToolCalls, resp.Usage, "", false, nil
	}

	events, serr := l.pool.ChatStream(ctx, chatReq)
	if serr != nil {
		if ctx.Err() != nil {
			return "", nil, models.Usage{}, "", true, nil
		}
		return "", nil, models.Usage{}, "", false, serr
	}

	acc := newToolCallAccumulator()
	var b []byte
	var usageOut models.Usage

	for ev := range events {
		if ev.Err != nil {
			if ctx.Err() != nil {
				return "", nil, models.Usage{}, string(b), true, nil
			}
			return "", nil, models.Usage{}, "", false, ev.Err
		}
		if ev.Chunk == nil {
			continue
		}
		if ev.Chunk.Usage != nil {
			usageOut.InputTokens = ev.Chunk.Usage.PromptTokens
			usageOut.OutputTokens = ev.Chunk.Usage.CompletionTokens
		}
		for _, choice := range ev.Chunk.Choices {
			if choice.Delta.Content != "" {
				b = append(b, choice.Delta.Content...)
				if req.OnStream != nil {
					req.OnStream(choice.Delta.Content)
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc.add(tc)
			}
		}
	}

	if ctx.Err() != nil {
		return "", nil, models.Usage{}, string(b), true, nil
	}

	var calls []models.ToolCall
	if !acc.empty() {
		calls = acc.finalize()
	}
	return string(b), calls, usageOut, "", false, nil
}

func toWireMessages(systemPrompt string, msgs []models.Message) []providerpool.WireMessage {
	out := make([]providerpool.WireMessage, 0, len(msgs)+1)
	out = append(out, providerpool.WireMessage{Role: models.RoleSystem, Content: systemPrompt})
	for _, m := range msgs {
		wm := providerpool.WireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			wm.ToolCalls = make([]providerpool.WireToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				wm.ToolCalls[i] = providerpool.WireToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: providerpool.WireFunctionCall{
						Name:      tc.FunctionName,
						Arguments: string(tc.Arguments),
					},
				}
			}
		}
		out = append(out, wm)
	}
	return out
}

// RuntimeVersion reports the Go runtime version for environment blocks.
func RuntimeVersion() string {
	return runtime.Version()
}
