package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haasonsaas/agentgate/internal/toolregistry"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// dispatchResult is one tool call's outcome, indexed by its position in the
// assistant message's tool_calls so results can be re-ordered after
// parallel execution.
type dispatchResult struct {
	message models.Message
	event   models.ToolEvent
}

// dispatchToolCalls runs every tool call in calls concurrently against
// view, and returns tool result messages in the same order as calls
// regardless of completion order. onToolCall, if set, is invoked once per
// call before dispatch and once more with the filled-in result after it
// completes.
func dispatchToolCalls(
	ctx context.Context,
	view *toolregistry.View,
	execCtx toolregistry.ExecContext,
	calls []models.ToolCall,
	onStream func(string),
	onToolCall func(models.ToolEvent),
) []dispatchResult {
	results := make([]dispatchResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		if onStream != nil {
			onStream(fmt.Sprintf("\n[used tool: %s]\n", call.FunctionName))
		}
		if onToolCall != nil {
			onToolCall(models.ToolEvent{Name: call.FunctionName, Arguments: string(call.Arguments)})
		}

		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			results[i] = executeOne(ctx, view, execCtx, call)
		}(i, call)
	}
	wg.Wait()

	if onToolCall != nil {
		for _, r := range results {
			onToolCall(r.event)
		}
	}
	return results
}

func executeOne(ctx context.Context, view *toolregistry.View, execCtx toolregistry.ExecContext, call models.ToolCall) dispatchResult {
	args := call.Arguments
	if len(args) == 0 || !json.Valid(args) {
		args = json.RawMessage(`{}`)
	}

	res := view.Execute(ctx, call.FunctionName, args, execCtx)

	content := res.Output
	if res.Error != "" {
		content = "Error: " + res.Error + "\n" + res.Output
	}

	return dispatchResult{
		message: models.Message{
			Role:       models.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
		},
		event: models.ToolEvent{
			Name:      call.FunctionName,
			Arguments: string(call.Arguments),
			Result:    content,
		},
	}
}
