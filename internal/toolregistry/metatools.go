package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// RegisterMetaTools registers list_tools, load_tool, and unload_tool as
// core tools bound to this registry. They are always callable regardless
// of policy (View.Execute skips the policy check for them via IsMetaTool)
// and can never be demoted (enforced in View.Demote via IsMetaTool).
func (r *Registry) RegisterMetaTools() {
	r.Register(&listToolsTool{registry: r})
	r.Register(&loadToolTool{registry: r})
	r.Register(&unloadToolTool{registry: r})
}

type listToolsTool struct{ registry *Registry }

func (t *listToolsTool) Name() string        { return ToolListTools }
func (t *listToolsTool) Description() string { return "List active and loadable tools for this session." }
func (t *listToolsTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *listToolsTool) Execute(_ context.Context, _ map[string]any, execCtx ExecContext) Result {
	view := t.registry.GetSessionView(execCtx.SessionID)

	var b strings.Builder
	b.WriteString("Active tools:\n")
	for _, tool := range view.GetActiveTools() {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name(), tool.Description())
	}
	b.WriteString("\nAvailable to load:\n")
	for _, entry := range view.GetDeferredCatalog() {
		if len(entry.Actions) > 0 {
			fmt.Fprintf(&b, "- %s: %s (actions: %s)\n", entry.Tool.Name(), entry.Summary, strings.Join(entry.Actions, ", "))
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", entry.Tool.Name(), entry.Summary)
		}
	}
	return Result{Output: b.String()}
}

type loadToolTool struct{ registry *Registry }

func (t *loadToolTool) Name() string        { return ToolLoadTool }
func (t *loadToolTool) Description() string { return "Promote a deferred or dynamic tool into this session." }
func (t *loadToolTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)
}

func (t *loadToolTool) Execute(_ context.Context, args map[string]any, execCtx ExecContext) Result {
	name, _ := args["name"].(string)
	if name == "" {
		return Result{Error: "name is required"}
	}
	view := t.registry.GetSessionView(execCtx.SessionID)
	res := view.Promote(name)
	if !res.Promoted {
		return Result{Error: res.Error}
	}
	if res.Description != "" {
		return Result{Output: fmt.Sprintf("loaded %s: %s", name, res.Description)}
	}
	return Result{Output: fmt.Sprintf("loaded %s", name)}
}

type unloadToolTool struct{ registry *Registry }

func (t *unloadToolTool) Name() string        { return ToolUnloadTool }
func (t *unloadToolTool) Description() string { return "Demote an active core tool out of this session." }
func (t *unloadToolTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)
}

func (t *unloadToolTool) Execute(_ context.Context, args map[string]any, execCtx ExecContext) Result {
	name, _ := args["name"].(string)
	if name == "" {
		return Result{Error: "name is required"}
	}
	view := t.registry.GetSessionView(execCtx.SessionID)
	res := view.Demote(name)
	if !res.Demoted {
		return Result{Error: res.Error}
	}
	return Result{Output: fmt.Sprintf("unloaded %s", name)}
}
