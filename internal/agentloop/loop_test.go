package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/agentgate/internal/providerpool"
	"github.com/haasonsaas/agentgate/internal/sessionmgr"
	"github.com/haasonsaas/agentgate/internal/toolregistry"
	"github.com/haasonsaas/agentgate/pkg/models"
)

type stubTool struct {
	name string
	out  string
	err  string
	fn   func(args map[string]any) toolregistry.Result
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub " + t.name }
func (t *stubTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *stubTool) Execute(_ context.Context, args map[string]any, _ toolregistry.ExecContext) toolregistry.Result {
	if t.fn != nil {
		return t.fn(args)
	}
	return toolregistry.Result{Output: t.out, Error: t.err}
}

func newTestLoop(t *testing.T, handler http.HandlerFunc) (*Loop, *toolregistry.Registry, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	pool := providerpool.New([]providerpool.Entry{{Name: "p0", APIBase: srv.URL, Model: "m"}})
	reg := toolregistry.New()
	sessions := sessionmgr.New(sessionmgr.NewMemStore())
	loop := New(pool, reg, sessions, Config{Platform: "linux", WorkingDir: "/tmp", RuntimeVersion: "go1.24"})
	return loop, reg, srv.Close
}

// TestPlainEchoAppendsAssistantReply covers the no-tool-calls path: one
// assistant message appended with the provider's content.
func TestPlainEchoAppendsAssistantReply(t *testing.T) {
	loop, _, closeSrv := newTestLoop(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	})
	defer closeSrv()

	resp, err := loop.ProcessMessage(context.Background(), Request{
		SessionID: "web:u1",
		Content:   "hello",
		Mode:      ModeNonStreaming,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi" {
		t.Fatalf("expected content %q, got %q", "hi", resp.Content)
	}
	if len(resp.ToolCalls) != 0 {
		t.Fatalf("expected no tool calls, got %d", len(resp.ToolCalls))
	}
}

// TestOneToolTurnProducesOrderedLog covers one round-trip tool call:
// the log ends up in the exact order user/assistant(tool_calls)/tool/assistant.
func TestOneToolTurnProducesOrderedLog(t *testing.T) {
	var call int32
	loop, reg, closeSrv := newTestLoop(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&call, 1) == 1 {
			w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"t1","type":"function","function":{"name":"bash","arguments":"{\"cmd\":\"ls | wc -l\"}"}}]}}]}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"42 files"}}]}`))
	})
	defer closeSrv()

	reg.Register(&stubTool{name: "bash", out: "42"})

	var events []models.ToolEvent
	resp, err := loop.ProcessMessage(context.Background(), Request{
		SessionID: "web:u1",
		Content:   "count files",
		Mode:      ModeNonStreaming,
		OnToolCall: func(ev models.ToolEvent) {
			events = append(events, ev)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "42 files" {
		t.Fatalf("expected final content %q, got %q", "42 files", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "bash" || resp.ToolCalls[0].Result != "42" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}

	msgs, err := loop.sessions.GetMessages("web:u1")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 logged messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "count files" {
		t.Fatalf("expected user message first, got %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].ID != "t1" {
		t.Fatalf("expected assistant tool_calls message second, got %+v", msgs[1])
	}
	if msgs[2].Role != models.RoleTool || msgs[2].ToolCallID != "t1" || msgs[2].Content != "42" {
		t.Fatalf("expected tool result third, got %+v", msgs[2])
	}
	if msgs[3].Role != models.RoleAssistant || msgs[3].Content != "42 files" {
		t.Fatalf("expected final assistant reply last, got %+v", msgs[3])
	}
}

// TestParallelToolCallsPreserveOrder verifies tool results are appended in
// tool_calls order, not completion order, even when the faster call listed
// second finishes before the slower one listed first.
func TestParallelToolCallsPreserveOrder(t *testing.T) {
	var call int32
	loop, reg, closeSrv := newTestLoop(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&call, 1) == 1 {
			w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"a","type":"function","function":{"name":"slow","arguments":"{}"}},{"id":"b","type":"function","function":{"name":"fast","arguments":"{}"}}]}}]}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"done"}}]}`))
	})
	defer closeSrv()

	reg.Register(&stubTool{name: "slow", fn: func(map[string]any) toolregistry.Result {
		time.Sleep(50 * time.Millisecond)
		return toolregistry.Result{Output: "A"}
	}})
	reg.Register(&stubTool{name: "fast", fn: func(map[string]any) toolregistry.Result {
		time.Sleep(10 * time.Millisecond)
		return toolregistry.Result{Error: "boom"}
	}})

	resp, err := loop.ProcessMessage(context.Background(), Request{
		SessionID: "web:u1",
		Content:   "go",
		Mode:      ModeNonStreaming,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool call events, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Name != "slow" || resp.ToolCalls[0].Result != "A" {
		t.Fatalf("expected first event to be slow/A, got %+v", resp.ToolCalls[0])
	}
	if resp.ToolCalls[1].Name != "fast" || resp.ToolCalls[1].Result != "Error: boom\n" {
		t.Fatalf("expected second event to be fast/Error, got %+v", resp.ToolCalls[1])
	}
}

// TestMaxIterationsSentinel verifies the 51st iteration of the standard
// (50-cap) loop terminates with the sentinel content instead of looping
// forever against a tool that always requests another call.
func TestMaxIterationsSentinel(t *testing.T) {
	loop, reg, closeSrv := newTestLoop(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"x","type":"function","function":{"name":"loop","arguments":"{}"}}]}}]}`))
	})
	defer closeSrv()
	reg.Register(&stubTool{name: "loop", out: "again"})

	resp, err := loop.ProcessMessage(context.Background(), Request{
		SessionID: "web:u1",
		Content:   "go forever",
		Mode:      ModeNonStreaming,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != maxIterationsSentinel {
		t.Fatalf("expected sentinel content, got %q", resp.Content)
	}
	if len(resp.ToolCalls) != maxIterationsStandard {
		t.Fatalf("expected %d accumulated tool calls, got %d", maxIterationsStandard, len(resp.ToolCalls))
	}
}

// TestSessionQueueSerializesTurns verifies a session processes at most one
// turn at a time and queues a second concurrent call FIFO-style.
func TestSessionQueueSerializesTurns(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	loop, _, closeSrv := newTestLoop(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			<-release
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":"reply-%d"}}]}`, n)
	})
	defer closeSrv()

	first := make(chan *Response, 1)
	go func() {
		resp, err := loop.ProcessMessage(context.Background(), Request{SessionID: "web:u1", Content: "one", Mode: ModeNonStreaming})
		if err != nil {
			t.Error(err)
		}
		first <- resp
	}()

	// Give the first call time to reach the handler and block.
	for atomic.LoadInt32(&calls) == 0 {
	}

	second := make(chan *Response, 1)
	go func() {
		resp, err := loop.ProcessMessage(context.Background(), Request{SessionID: "web:u1", Content: "two", Mode: ModeNonStreaming})
		if err != nil {
			t.Error(err)
		}
		second <- resp
	}()

	close(release)

	r1 := <-first
	r2 := <-second
	if r1.Content != "reply-1" {
		t.Fatalf("expected first turn to see reply-1, got %q", r1.Content)
	}
	if r2.Content != "reply-2" {
		t.Fatalf("expected second turn to see reply-2, got %q", r2.Content)
	}
}
