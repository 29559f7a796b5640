package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haasonsaas/agentgate/pkg/models"
)

// View is a per-session overlay over the global registry: active set =
// (Core − demoted) ∪ promoted, maintained under a per-session lock.
type View struct {
	registry  *Registry
	sessionID string

	mu       sync.Mutex
	promoted map[string]bool
	demoted  map[string]bool
}

// PromoteResult is the outcome of a promote call.
type PromoteResult struct {
	Promoted    bool
	Description string
	Error       string
}

// Promote activates a deferred or dynamic tool for this session only.
func (v *View) Promote(name string) PromoteResult {
	_, deferredAndDynamic, _ := v.registry.snapshot()

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.promoted[name] {
		return PromoteResult{Promoted: false, Error: fmt.Sprintf("tool %q is already loaded", name)}
	}
	entry, ok := deferredAndDynamic[name]
	if !ok {
		return PromoteResult{Promoted: false, Error: fmt.Sprintf("tool %q is not deferred or dynamic", name)}
	}
	v.promoted[name] = true
	return PromoteResult{Promoted: true, Description: entry.Summary}
}

// DemoteResult is the outcome of a demote call.
type DemoteResult struct {
	Demoted bool
	Error   string
}

// Demote hides a currently active core tool from this session only.
// Meta-tools and tools not currently active cannot be demoted.
func (v *View) Demote(name string) DemoteResult {
	if IsMetaTool(name) {
		return DemoteResult{Demoted: false, Error: fmt.Sprintf("%q is a meta-tool and cannot be demoted", name)}
	}

	core, _, _ := v.registry.snapshot()

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, isCore := core[name]; !isCore {
		return DemoteResult{Demoted: false, Error: fmt.Sprintf("tool %q is not an active core tool", name)}
	}
	if v.demoted[name] {
		return DemoteResult{Demoted: false, Error: fmt.Sprintf("tool %q is already demoted", name)}
	}
	v.demoted[name] = true
	return DemoteResult{Demoted: true}
}

// activeSet returns the name->Tool map currently active for this session.
func (v *View) activeSet() map[string]Tool {
	core, deferredAndDynamic, _ := v.registry.snapshot()

	v.mu.Lock()
	promoted := make(map[string]bool, len(v.promoted))
	for k := range v.promoted {
		promoted[k] = true
	}
	demoted := make(map[string]bool, len(v.demoted))
	for k := range v.demoted {
		demoted[k] = true
	}
	v.mu.Unlock()

	active := make(map[string]Tool)
	for name, t := range core {
		if demoted[name] && !IsMetaTool(name) {
			continue
		}
		active[name] = t
	}
	for name := range promoted {
		if entry, ok := deferredAndDynamic[name]; ok {
			active[name] = entry.Tool
		}
	}
	return active
}

// GetActiveTools returns the tools currently active for this session.
func (v *View) GetActiveTools() []Tool {
	active := v.activeSet()
	out := make([]Tool, 0, len(active))
	for _, t := range active {
		out = append(out, t)
	}
	return out
}

// GetDeferredCatalog returns deferred/dynamic entries not yet promoted for
// this session.
func (v *View) GetDeferredCatalog() []DeferredEntry {
	_, deferredAndDynamic, _ := v.registry.snapshot()

	v.mu.Lock()
	promoted := make(map[string]bool, len(v.promoted))
	for k := range v.promoted {
		promoted[k] = true
	}
	v.mu.Unlock()

	out := make([]DeferredEntry, 0, len(deferredAndDynamic))
	for name, entry := range deferredAndDynamic {
		if !promoted[name] {
			out = append(out, entry)
		}
	}
	return out
}

// GetToolDefs returns the active set as LLM-schema tool definitions.
func (v *View) GetToolDefs() []models.ToolDef {
	active := v.GetActiveTools()
	return toolsToDefs(active)
}

// GetToolDefsFiltered intersects the active set with allowed ("*" = all).
func (v *View) GetToolDefsFiltered(allowed []string) []models.ToolDef {
	allowAll := false
	allowSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		if a == "*" {
			allowAll = true
		}
		allowSet[a] = true
	}

	active := v.GetActiveTools()
	filtered := make([]Tool, 0, len(active))
	for _, t := range active {
		if allowAll || allowSet[t.Name()] {
			filtered = append(filtered, t)
		}
	}
	return toolsToDefs(filtered)
}

func toolsToDefs(tools []Tool) []models.ToolDef {
	defs := make([]models.ToolDef, len(tools))
	for i, t := range tools {
		defs[i] = models.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		}
	}
	return defs
}

// Execute runs a tool by name with the given arguments. Policy denial,
// unknown-for-this-view, and thrown errors are all captured into Result —
// Execute never returns a non-nil error and never panics out.
func (v *View) Execute(ctx context.Context, name string, args json.RawMessage, execCtx ExecContext) Result {
	_, _, policy := v.registry.snapshot()

	if !IsMetaTool(name) && !policy.Allowed(name) {
		return Result{Error: fmt.Sprintf("tool %q is denied by policy", name)}
	}

	active := v.activeSet()
	tool, ok := active[name]
	if !ok {
		return Result{Error: fmt.Sprintf("unknown tool: %q", name)}
	}

	var parsed map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			parsed = map[string]any{}
		}
	} else {
		parsed = map[string]any{}
	}

	return safeExecute(ctx, tool, parsed, execCtx)
}

// safeExecute recovers from a tool panic and reports it as a failed result:
// a misbehaving tool never brings down the registry.
func safeExecute(ctx context.Context, tool Tool, args map[string]any, execCtx ExecContext) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Error: fmt.Sprintf("Tool %s failed: panic: %v", tool.Name(), r)}
		}
	}()
	r := tool.Execute(ctx, args, execCtx)
	if r.Error != "" {
		r.Error = fmt.Sprintf("Tool %s failed: %s", tool.Name(), r.Error)
	}
	return r
}
