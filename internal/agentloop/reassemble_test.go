package agentloop

import (
	"testing"

	"github.com/haasonsaas/agentgate/internal/providerpool"
)

func TestToolCallAccumulatorReassemblesArguments(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(providerpool.DeltaToolCall{Index: 0, ID: "t1", Function: providerpool.DeltaFunctionCall{Name: "bash"}})
	acc.add(providerpool.DeltaToolCall{Index: 0, Function: providerpool.DeltaFunctionCall{Arguments: `{"cmd":`}})
	acc.add(providerpool.DeltaToolCall{Index: 0, Function: providerpool.DeltaFunctionCall{Arguments: `"ls"}`}})

	calls := acc.finalize()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ID != "t1" || calls[0].FunctionName != "bash" {
		t.Fatalf("unexpected call: %+v", calls[0])
	}
	if string(calls[0].Arguments) != `{"cmd":"ls"}` {
		t.Fatalf("expected concatenated arguments, got %q", calls[0].Arguments)
	}
}

func TestToolCallAccumulatorPreservesArrivalOrder(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(providerpool.DeltaToolCall{Index: 1, ID: "b", Function: providerpool.DeltaFunctionCall{Name: "second"}})
	acc.add(providerpool.DeltaToolCall{Index: 0, ID: "a", Function: providerpool.DeltaFunctionCall{Name: "first"}})

	calls := acc.finalize()
	if len(calls) != 2 || calls[0].FunctionName != "second" || calls[1].FunctionName != "first" {
		t.Fatalf("expected arrival order preserved (1 then 0), got %+v", calls)
	}
}

func TestToolCallAccumulatorEmptyArgumentsDefaultToObject(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(providerpool.DeltaToolCall{Index: 0, ID: "t1", Function: providerpool.DeltaFunctionCall{Name: "noop"}})

	calls := acc.finalize()
	if string(calls[0].Arguments) != "{}" {
		t.Fatalf("expected empty object for no argument deltas, got %q", calls[0].Arguments)
	}
}
