package toolregistry

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Meta-tool names. These are always core, always active, and never demotable.
const (
	ToolListTools  = "list_tools"
	ToolLoadTool   = "load_tool"
	ToolUnloadTool = "unload_tool"
)

// DeferredEntry is a tool present in the global catalog but inactive until
// promoted for a given session.
type DeferredEntry struct {
	Tool    Tool
	Summary string
	Actions []string
}

// Policy is the registry-wide allow/deny tool policy. Deny always wins.
type Policy struct {
	Allow []string
	Deny  []string
}

// Allowed reports whether name passes this policy (enumeration or execution).
func (p Policy) Allowed(name string) bool {
	for _, d := range p.Deny {
		if d == name {
			return false
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, a := range p.Allow {
		if a == name {
			return true
		}
	}
	return false
}

// Registry is the global tool catalog: disjoint core/deferred/dynamic sets
// keyed by name, plus the registry-wide policy. Per-session views overlay
// promote/demote state on top of this snapshot.
type Registry struct {
	mu sync.RWMutex

	core     map[string]Tool
	deferred map[string]DeferredEntry
	dynamic  map[string]DeferredEntry

	policy Policy

	viewsMu sync.Mutex
	views   map[string]*View
}

// New returns an empty registry with no tools registered; RegisterMetaTools
// adds the three meta-tools as core tools.
func New() *Registry {
	return &Registry{
		core:     make(map[string]Tool),
		deferred: make(map[string]DeferredEntry),
		dynamic:  make(map[string]DeferredEntry),
		views:    make(map[string]*View),
	}
}

// IsMetaTool reports whether name is one of the three always-active,
// never-demotable meta-tools.
func IsMetaTool(name string) bool {
	return name == ToolListTools || name == ToolLoadTool || name == ToolUnloadTool
}

// Register adds a core tool, always loaded process-wide.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.core[tool.Name()] = tool
}

// RegisterDeferred adds a tool to the global catalog, inactive until a
// session promotes it. The schema is compiled eagerly so a malformed tool
// schema fails at registration, not at the first call.
func (r *Registry) RegisterDeferred(tool Tool, summary string, actions []string) error {
	if err := validateSchema(tool.Schema()); err != nil {
		return fmt.Errorf("tool %q: %w", tool.Name(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deferred[tool.Name()] = DeferredEntry{Tool: tool, Summary: summary, Actions: actions}
	return nil
}

// RegisterDynamic adds a runtime (plugin-sourced) tool, also promotable.
func (r *Registry) RegisterDynamic(tool Tool, summary string) error {
	if err := validateSchema(tool.Schema()); err != nil {
		return fmt.Errorf("tool %q: %w", tool.Name(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dynamic[tool.Name()] = DeferredEntry{Tool: tool, Summary: summary}
	return nil
}

// RemoveDynamic unregisters a dynamic tool by name.
func (r *Registry) RemoveDynamic(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dynamic, name)
}

// SetPolicy replaces the registry-wide allow/deny policy.
func (r *Registry) SetPolicy(allow, deny []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = Policy{Allow: allow, Deny: deny}
}

func (r *Registry) snapshot() (core map[string]Tool, deferredAndDynamic map[string]DeferredEntry, policy Policy) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	core = make(map[string]Tool, len(r.core))
	for k, v := range r.core {
		core[k] = v
	}
	deferredAndDynamic = make(map[string]DeferredEntry, len(r.deferred)+len(r.dynamic))
	for k, v := range r.deferred {
		deferredAndDynamic[k] = v
	}
	for k, v := range r.dynamic {
		deferredAndDynamic[k] = v
	}
	return core, deferredAndDynamic, r.policy
}

// GetSessionView returns (creating if necessary) the promote/demote overlay
// for sessionID.
func (r *Registry) GetSessionView(sessionID string) *View {
	r.viewsMu.Lock()
	defer r.viewsMu.Unlock()
	v, ok := r.views[sessionID]
	if !ok {
		v = &View{
			registry:  r,
			sessionID: sessionID,
			promoted:  make(map[string]bool),
			demoted:   make(map[string]bool),
		}
		r.views[sessionID] = v
	}
	return v
}

func validateSchema(schema []byte) error {
	if len(schema) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", asJSONReader(schema)); err != nil {
		return err
	}
	_, err := compiler.Compile("schema.json")
	return err
}
