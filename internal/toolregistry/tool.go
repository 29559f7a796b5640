// Package toolregistry implements the global tool catalog (core, deferred,
// dynamic) and the per-session promote/demote overlay.
package toolregistry

import (
	"context"
	"encoding/json"
)

// ExecContext carries the per-call execution environment.
type ExecContext struct {
	SessionID string
	Workdir   string
	Elevated  bool
}

// Result is a tool's execution outcome: exactly one of Output/Error is
// meaningful.
type Result struct {
	Output string
	Error  string
}

// Tool is an immutable descriptor plus execution capability.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON-schema-shaped parameters object.
	Schema() json.RawMessage
	Execute(ctx context.Context, args map[string]any, execCtx ExecContext) Result
}
