// Package models defines the wire and storage types shared across the
// gateway: messages, sessions, tool calls, and the LLM-facing tool
// descriptor.
package models

import (
	"encoding/json"
	"time"
)

// Role is the semantic role of a message in a session log.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is an LLM request to execute a tool, carried on an assistant message.
type ToolCall struct {
	ID           string          `json:"id"`
	FunctionName string          `json:"function_name"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
}

// Message is a single ordered record in a session's append-only log.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// matchesAssistant reports whether m is a tool message whose tool_call_id is
// among the tool calls of the assistant message a.
func (m Message) matchesAssistant(a Message) bool {
	if m.Role != RoleTool || a.Role != RoleAssistant {
		return false
	}
	for _, tc := range a.ToolCalls {
		if tc.ID == m.ToolCallID {
			return true
		}
	}
	return false
}

// Usage carries token accounting for a single completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDef is the LLM-schema shaped description of a tool, as sent on the wire.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
