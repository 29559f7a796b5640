package agentloop

import (
	"encoding/json"

	"github.com/haasonsaas/agentgate/internal/providerpool"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// toolCallAccumulator reassembles streamed tool-call deltas into complete
// calls, indexed by each delta's index: absent indices are seeded with
// empty id/name/arguments, non-empty incoming id/name overwrite, and
// arguments are concatenated.
type toolCallAccumulator struct {
	order   []int
	byIndex map[int]*models.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*models.ToolCall)}
}

func (a *toolCallAccumulator) add(delta providerpool.DeltaToolCall) {
	call, ok := a.byIndex[delta.Index]
	if !ok {
		call = &models.ToolCall{}
		a.byIndex[delta.Index] = call
		a.order = append(a.order, delta.Index)
	}
	if delta.ID != "" {
		call.ID = delta.ID
	}
	if delta.Function.Name != "" {
		call.FunctionName = delta.Function.Name
	}
	if delta.Function.Arguments != "" {
		call.Arguments = append(call.Arguments, delta.Function.Arguments...)
	}
}

// finalize returns the assembled calls in the order their indices first
// appeared in the stream (not sorted by tool_calls[].index).
func (a *toolCallAccumulator) finalize() []models.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]models.ToolCall, len(a.order))
	for i, idx := range a.order {
		call := *a.byIndex[idx]
		call.Arguments = argumentsAsRawMessage(call.Arguments)
		out[i] = call
	}
	return out
}

func (a *toolCallAccumulator) empty() bool {
	return len(a.order) == 0
}

// argumentsAsRawMessage normalizes accumulated argument bytes: they start
// empty ([]byte(nil) cast through append of string chunks), so an empty
// result still needs to read as valid JSON for downstream parsing.
func argumentsAsRawMessage(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(b)
}
