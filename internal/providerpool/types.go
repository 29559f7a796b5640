// Package providerpool implements the ordered multi-provider LLM client:
// failover across configured chat-completions endpoints, a linear backoff
// capped at 300s, and streaming SSE parsing. See the agentloop package for the
// tool-call delta reassembly that sits on top of the raw stream this
// package exposes.
package providerpool

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/agentgate/pkg/models"
)

// Entry describes one configured LLM provider endpoint.
type Entry struct {
	Name        string
	APIBase     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Priority    int

	// RateLimitPerSecond caps outbound requests to this provider, 0 disables.
	RateLimitPerSecond float64
}

// WireMessage is one message in the chat-completions request body.
type WireMessage struct {
	Role       models.Role    `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []WireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// WireToolCall is the wire shape of an assistant tool-call request.
type WireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function WireFunctionCall `json:"function"`
}

// WireFunctionCall carries the function name and JSON-encoded arguments.
type WireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatRequest is the provider-agnostic request passed to Chat/ChatStream.
type ChatRequest struct {
	Messages   []WireMessage     `json:"messages"`
	Tools      []models.ToolDef  `json:"tools,omitempty"`
	ToolChoice any               `json:"tool_choice,omitempty"`
}

// wireRequest is the literal JSON body sent to {apiBase}/chat/completions.
type wireRequest struct {
	Model       string            `json:"model"`
	Messages    []WireMessage     `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Stream      bool              `json:"stream"`
	Tools       []wireToolDef     `json:"tools,omitempty"`
	ToolChoice  any               `json:"tool_choice,omitempty"`
}

type wireToolDef struct {
	Type     string          `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func toWireTools(tools []models.ToolDef) []wireToolDef {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireToolDef, len(tools))
	for i, t := range tools {
		out[i] = wireToolDef{
			Type: "function",
			Function: wireToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

// ChatResponse is the non-streaming completion result.
type ChatResponse struct {
	Content      string
	ToolCalls    []models.ToolCall
	Usage        models.Usage
	ProviderName string
}

// DeltaFunctionCall carries an incremental slice of a tool call's name or arguments.
type DeltaFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// DeltaToolCall is one incremental tool-call fragment, indexed for reassembly.
type DeltaToolCall struct {
	Index    int               `json:"index"`
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type,omitempty"`
	Function DeltaFunctionCall `json:"function,omitempty"`
}

// Delta is the incremental content of one streamed choice.
type Delta struct {
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []DeltaToolCall `json:"tool_calls,omitempty"`
}

// StreamChoice is one choice slot in a streamed chunk.
type StreamChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Chunk is one parsed `data: {...}` SSE payload from the provider.
type Chunk struct {
	ID      string         `json:"id"`
	Choices []StreamChoice `json:"choices"`
	Usage   *usagePayload  `json:"usage,omitempty"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// StreamEvent wraps a parsed chunk or a terminal error for one stream.
// The stream channel is closed after the final event (successful [DONE] or
// error); Err is non-nil only for the terminal event on failure.
type StreamEvent struct {
	Chunk        *Chunk
	Err          error
	ProviderName string
}

// APIError represents a non-2xx HTTP response from a provider.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error: status=%d body=%s", e.Status, e.Body)
}

// AllProvidersFailedError is returned when every provider in the pool failed
// or was skipped by the backoff window.
type AllProvidersFailedError struct {
	Errors []ProviderError
}

// ProviderError pairs a provider name with the error it produced.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *AllProvidersFailedError) Error() string {
	msg := "all providers failed:"
	for _, pe := range e.Errors {
		msg += fmt.Sprintf(" [%s: %v]", pe.Provider, pe.Err)
	}
	return msg
}

const (
	maxBackoff     = 300 * time.Second
	backoffPerFail = 30 * time.Second
	requestDeadline = 120 * time.Second
)
