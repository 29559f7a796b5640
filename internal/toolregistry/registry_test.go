package toolregistry

import (
	"context"
	"encoding/json"
	"testing"
)

type stubTool struct {
	name string
	out  string
	err  string
	fn   func(args map[string]any) Result
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub " + t.name }
func (t *stubTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *stubTool) Execute(_ context.Context, args map[string]any, _ ExecContext) Result {
	if t.fn != nil {
		return t.fn(args)
	}
	return Result{Output: t.out, Error: t.err}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	r.RegisterMetaTools()
	return r
}

func TestPromoteAffectsOnlyItsOwnSessionView(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.RegisterDeferred(&stubTool{name: "search", out: "ok"}, "web search", nil); err != nil {
		t.Fatal(err)
	}
	r.Register(&stubTool{name: "core_tool", out: "ok"})

	view := r.GetSessionView("s1")
	before := activeNames(view)

	if res := view.Promote("search"); !res.Promoted {
		t.Fatalf("expected promote to succeed, got error %q", res.Error)
	}
	afterPromote := activeNames(view)
	if _, ok := afterPromote["search"]; !ok {
		t.Fatalf("expected search to be active after promote")
	}

	// demote only applies to core tools, so a promoted deferred tool cannot
	// be demoted; this checks that another session's view is unaffected.
	fresh := r.GetSessionView("s2")
	freshActive := activeNames(fresh)
	if len(freshActive) != len(before) {
		t.Fatalf("expected unrelated session view to be unaffected by s1 promote")
	}
}

func TestDuplicatePromoteFails(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.RegisterDeferred(&stubTool{name: "search"}, "web search", nil); err != nil {
		t.Fatal(err)
	}
	view := r.GetSessionView("s1")

	res := view.Promote("search")
	if !res.Promoted {
		t.Fatalf("first promote should succeed: %s", res.Error)
	}
	res2 := view.Promote("search")
	if res2.Promoted {
		t.Fatalf("second promote of the same tool in the same session should fail")
	}
}

func TestMetaToolsCannotBeDemoted(t *testing.T) {
	r := newTestRegistry(t)
	view := r.GetSessionView("s1")

	for _, name := range []string{ToolListTools, ToolLoadTool, ToolUnloadTool} {
		res := view.Demote(name)
		if res.Demoted {
			t.Fatalf("expected demote(%s) to fail", name)
		}
	}
}

func TestMetaToolsAlwaysCallableRegardlessOfPolicy(t *testing.T) {
	r := newTestRegistry(t)
	r.SetPolicy(nil, []string{ToolListTools, ToolLoadTool, ToolUnloadTool})

	view := r.GetSessionView("s1")
	res := view.Execute(context.Background(), ToolListTools, nil, ExecContext{SessionID: "s1"})
	if res.Error != "" {
		t.Fatalf("expected list_tools to bypass policy deny, got error: %s", res.Error)
	}
}

func TestExecuteUnknownToolForView(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.RegisterDeferred(&stubTool{name: "search"}, "web search", nil); err != nil {
		t.Fatal(err)
	}
	view := r.GetSessionView("s1")

	res := view.Execute(context.Background(), "search", nil, ExecContext{SessionID: "s1"})
	if res.Error == "" {
		t.Fatalf("expected unknown-tool error before promotion")
	}
}

func TestExecuteDeniedByPolicy(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&stubTool{name: "danger", out: "boom"})
	r.SetPolicy(nil, []string{"danger"})

	view := r.GetSessionView("s1")
	res := view.Execute(context.Background(), "danger", nil, ExecContext{SessionID: "s1"})
	if res.Error == "" {
		t.Fatalf("expected policy denial error")
	}
}

func TestExecuteNeverPanics(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&stubTool{name: "panicky", fn: func(map[string]any) Result {
		panic("boom")
	}})

	view := r.GetSessionView("s1")
	res := view.Execute(context.Background(), "panicky", nil, ExecContext{SessionID: "s1"})
	if res.Error == "" {
		t.Fatalf("expected captured panic to surface as an error result")
	}
}

func TestDemoteRequiresActiveCore(t *testing.T) {
	r := newTestRegistry(t)
	view := r.GetSessionView("s1")
	res := view.Demote("nonexistent")
	if res.Demoted {
		t.Fatalf("expected demote of non-core tool to fail")
	}
}

func TestGetToolDefsFilteredWildcard(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&stubTool{name: "a"})
	r.Register(&stubTool{name: "b"})
	view := r.GetSessionView("s1")

	defs := view.GetToolDefsFiltered([]string{"*"})
	if len(defs) < 2 {
		t.Fatalf("expected wildcard to include all active tools, got %d", len(defs))
	}

	onlyA := view.GetToolDefsFiltered([]string{"a"})
	if len(onlyA) != 1 || onlyA[0].Name != "a" {
		t.Fatalf("expected only tool a, got %+v", onlyA)
	}
}

func activeNames(v *View) map[string]Tool {
	out := make(map[string]Tool)
	for _, t := range v.GetActiveTools() {
		out[t.Name()] = t
	}
	return out
}
